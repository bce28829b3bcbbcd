package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	likesCmd := &cobra.Command{Use: "likes", Short: "Like operations"}

	addCmd := &cobra.Command{
		Use:   "add LIKED_USER_ID",
		Short: "Like another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			data, err := do(client().R(), http.MethodPost,
				fmt.Sprintf("/api/users/%s/likes/%s", userFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	likesCmd.AddCommand(addCmd)

	removeCmd := &cobra.Command{
		Use:   "remove LIKED_USER_ID",
		Short: "Withdraw a like (an existing match is untouched)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			_, err := do(client().R(), http.MethodDelete,
				fmt.Sprintf("/api/users/%s/likes/%s", userFlag, args[0]))
			return err
		},
	}
	likesCmd.AddCommand(removeCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users I have liked",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			data, err := do(client().R(), http.MethodGet,
				fmt.Sprintf("/api/users/%s/likes", userFlag))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	likesCmd.AddCommand(listCmd)

	rootCmd.AddCommand(likesCmd)

	matchesCmd := &cobra.Command{Use: "matches", Short: "Match operations"}

	matchListCmd := &cobra.Command{
		Use:   "list",
		Short: "List my matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			data, err := do(client().R(), http.MethodGet,
				fmt.Sprintf("/api/users/%s/matches", userFlag))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	matchesCmd.AddCommand(matchListCmd)

	checkCmd := &cobra.Command{
		Use:   "check OTHER_USER_ID",
		Short: "Check whether I match with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			data, err := do(client().R(), http.MethodGet,
				fmt.Sprintf("/api/users/%s/matches/%s", userFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	matchesCmd.AddCommand(checkCmd)

	rootCmd.AddCommand(matchesCmd)
}
