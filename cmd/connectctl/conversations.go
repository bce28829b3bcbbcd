package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	convCmd := &cobra.Command{Use: "conversations", Short: "Conversation operations"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List my conversations, most recent activity first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			data, err := do(client().R(), http.MethodGet,
				fmt.Sprintf("/api/users/%s/conversations", userFlag))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	convCmd.AddCommand(listCmd)

	var listingID string
	startCmd := &cobra.Command{
		Use:   "start OTHER_USER_ID",
		Short: "Start (or fetch) a conversation with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			payload := map[string]interface{}{"otherUserId": args[0]}
			if listingID != "" {
				payload["listingId"] = listingID
			}
			data, err := do(client().R().SetBody(payload), http.MethodPost,
				fmt.Sprintf("/api/users/%s/conversations", userFlag))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	startCmd.Flags().StringVarP(&listingID, "listing", "l", "", "Listing ID scoping the conversation")
	convCmd.AddCommand(startCmd)

	messagesCmd := &cobra.Command{
		Use:   "messages CONVERSATION_ID",
		Short: "List messages in a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			data, err := do(client().R(), http.MethodGet,
				fmt.Sprintf("/api/users/%s/conversations/%s/messages", userFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	convCmd.AddCommand(messagesCmd)

	var idemKey string
	sendCmd := &cobra.Command{
		Use:   "send CONVERSATION_ID BODY",
		Short: "Send a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			payload := map[string]interface{}{"body": args[1]}
			if idemKey != "" {
				payload["idempotencyKey"] = idemKey
			}
			data, err := do(client().R().SetBody(payload), http.MethodPost,
				fmt.Sprintf("/api/users/%s/conversations/%s/messages", userFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	sendCmd.Flags().StringVarP(&idemKey, "idempotency-key", "k", "", "Idempotency key to make retries safe")
	convCmd.AddCommand(sendCmd)

	readCmd := &cobra.Command{
		Use:   "read CONVERSATION_ID",
		Short: "Mark all incoming messages as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			_, err := do(client().R(), http.MethodPost,
				fmt.Sprintf("/api/users/%s/conversations/%s/read", userFlag, args[0]))
			return err
		},
	}
	convCmd.AddCommand(readCmd)

	convCmd.AddCommand(flagCmd("archive", "Archive or unarchive a conversation", "archived"))
	convCmd.AddCommand(flagCmd("mute", "Mute or unmute a conversation", "muted"))

	rootCmd.AddCommand(convCmd)
}

// flagCmd builds the archive/mute toggles, which differ only in route and
// payload field.
func flagCmd(use, short, field string) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   use + " CONVERSATION_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			payload := map[string]interface{}{field: !off}
			_, err := do(client().R().SetBody(payload), http.MethodPut,
				fmt.Sprintf("/api/users/%s/conversations/%s/%s", userFlag, args[0], use))
			return err
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "Clear the flag instead of setting it")
	return cmd
}
