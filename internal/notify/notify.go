// Package notify translates domain events into notification-creation
// requests against the external notification collaborator. Dispatch is
// fire-and-forget: failures are logged and swallowed, never propagated back
// to the operation that produced the event.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/model"
)

// Template is the user-facing shape of a notification.
type Template struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// NewMessageTemplate is the template for an incoming message notification.
func NewMessageTemplate(senderName string) Template {
	return Template{
		Type:    "message",
		Title:   "Nuevo mensaje",
		Message: fmt.Sprintf("%s te ha enviado un mensaje", senderName),
	}
}

// NewMatchTemplate is the template for a mutual-match notification.
func NewMatchTemplate() Template {
	return Template{
		Type:    "general",
		Title:   "¡Es un match!",
		Message: "Ahora puedes chatear con tu nuevo compañero potencial",
	}
}

// CreateNotificationRequest is the payload sent to the notification channel.
type CreateNotificationRequest struct {
	UserID    string `json:"userId"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	RelatedID string `json:"relatedId,omitempty"`
}

// Notifier is the external notification boundary (push/email/in-app). The
// channel is best-effort: duplicate requests for the same event are
// acceptable.
type Notifier interface {
	CreateNotification(ctx context.Context, req CreateNotificationRequest) error
}

// HTTPNotifier posts notification requests to an external endpoint.
type HTTPNotifier struct {
	client *resty.Client
}

func NewHTTPNotifier(baseURL string) *HTTPNotifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second)
	return &HTTPNotifier{client: client}
}

func (n *HTTPNotifier) CreateNotification(ctx context.Context, req CreateNotificationRequest) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/notifications")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("notifier returned %s", resp.Status())
	}
	return nil
}

// NameResolver maps a user ID to a display name for templating. The profile
// store lives outside this service; the default resolver falls back to the
// raw ID.
type NameResolver func(ctx context.Context, userID string) string

// Dispatcher fans domain events out to the notifier. Each dispatch runs in
// its own goroutine with a bounded deadline.
type Dispatcher struct {
	notifier Notifier
	resolve  NameResolver
	timeout  time.Duration
	log      zerolog.Logger
}

func NewDispatcher(n Notifier, resolve NameResolver, log zerolog.Logger) *Dispatcher {
	if resolve == nil {
		resolve = func(_ context.Context, userID string) string { return userID }
	}
	return &Dispatcher{notifier: n, resolve: resolve, timeout: 10 * time.Second, log: log}
}

// DispatchMessage notifies the recipient of a new message. The deep link
// points at the messages view; relatedId carries the conversation.
func (d *Dispatcher) DispatchMessage(conv *model.Conversation, msg *model.Message) {
	recipient := conv.Other(msg.SenderID)
	go d.send(CreateNotificationRequest{
		UserID:    recipient,
		Link:      "/messages",
		RelatedID: conv.ConversationID,
	}, func(ctx context.Context) Template {
		return NewMessageTemplate(d.resolve(ctx, msg.SenderID))
	})
}

// DispatchMatch notifies both participants of a new match.
func (d *Dispatcher) DispatchMatch(match *model.Match) {
	for _, userID := range []string{match.User1, match.User2} {
		go d.send(CreateNotificationRequest{
			UserID:    userID,
			Link:      "/messages",
			RelatedID: match.ConversationID,
		}, func(context.Context) Template {
			return NewMatchTemplate()
		})
	}
}

func (d *Dispatcher) send(req CreateNotificationRequest, tmpl func(context.Context) Template) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	t := tmpl(ctx)
	req.Type = t.Type
	req.Title = t.Title
	req.Message = t.Message

	if err := d.notifier.CreateNotification(ctx, req); err != nil {
		d.log.Warn().Err(err).
			Str("user_id", req.UserID).
			Str("type", req.Type).
			Msg("notification dispatch failed")
	}
}
