// Package services implements the domain operations over the store and
// publishes the resulting events on the broker. Callers are already
// authenticated; these services perform authorization (participant checks)
// only.
package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/model"
	"github.com/roomly/connect/internal/pubsub"
	"github.com/roomly/connect/internal/store"
)

// MaxMessageBody bounds the trimmed message body length in bytes.
const MaxMessageBody = 4000

// Dispatcher receives domain events that warrant an external notification.
// Implementations must be fire-and-forget: they never block or fail the
// triggering operation.
type Dispatcher interface {
	DispatchMessage(conv *model.Conversation, msg *model.Message)
	DispatchMatch(match *model.Match)
}

// convLocks serializes persist+publish per conversation so the order
// messages are committed equals the order subscribers observe.
type convLocks struct {
	shards [64]sync.Mutex
}

func (l *convLocks) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &l.shards[h.Sum32()%uint32(len(l.shards))]
	m.Lock()
	return m
}

// ConversationService owns conversations and messages.
type ConversationService struct {
	store      store.Store
	broker     *pubsub.Broker
	dispatcher Dispatcher
	locks      convLocks
	log        zerolog.Logger
}

func NewConversationService(s store.Store, b *pubsub.Broker, d Dispatcher, log zerolog.Logger) *ConversationService {
	return &ConversationService{store: s, broker: b, dispatcher: d, log: log}
}

// GetOrCreateConversation returns the conversation for the unordered pair
// and listing scope, creating it if absent. Listing-scoped and unscoped
// conversations between the same pair are distinct threads.
func (s *ConversationService) GetOrCreateConversation(ctx context.Context, userA, userB string, listingID *string) (*model.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("both participants required: %w", model.ErrValidation)
	}
	if userA == userB {
		return nil, fmt.Errorf("cannot start a conversation with yourself: %w", model.ErrValidation)
	}
	conv, _, err := s.store.Conversations().GetOrCreate(ctx, userA, userB, listingID)
	return conv, err
}

// GetConversation returns the conversation if callerID participates in it.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID, callerID string) (*model.Conversation, error) {
	conv, err := s.store.Conversations().Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(callerID) {
		return nil, fmt.Errorf("user %s is not a participant: %w", callerID, model.ErrForbidden)
	}
	return conv, nil
}

// ListConversations returns userID's conversations ordered by last activity
// descending, with unread counts and last messages.
func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]*model.ConversationSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("user required: %w", model.ErrValidation)
	}
	return s.store.Conversations().ListByUser(ctx, userID)
}

// ListMessages returns the conversation's messages in creation order.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID, callerID string) ([]*model.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID, callerID); err != nil {
		return nil, err
	}
	return s.store.Messages().List(ctx, conversationID)
}

// SendMessage persists the message and, after commit, publishes
// MessageCreated and hands the event to the dispatcher. An optional
// idempotency key makes retries safe; without one a retry may duplicate the
// send. Publication never blocks on subscribers, so a slow fan-out cannot
// delay the sender's acknowledgment.
func (s *ConversationService) SendMessage(ctx context.Context, conversationID, senderID, body string, attachments []model.Attachment, idempotencyKey *string) (*model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("message body is empty: %w", model.ErrValidation)
	}
	if len(body) > MaxMessageBody {
		return nil, fmt.Errorf("message body exceeds %d bytes: %w", MaxMessageBody, model.ErrValidation)
	}

	conv, err := s.GetConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	mu := s.locks.lock(conversationID)
	defer mu.Unlock()

	msg, created, err := s.store.Messages().Create(ctx, &model.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		Attachments:    attachments,
	}, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !created {
		// Idempotent retry: the original send already published.
		return msg, nil
	}

	s.broker.Publish(pubsub.MessagesTopic(conversationID), pubsub.Event{
		Kind:           pubsub.KindMessageCreated,
		ConversationID: conversationID,
		UserID:         senderID,
		Message:        msg,
		Time:           msg.CreationTime,
	})

	if s.dispatcher != nil && !conv.MutedBy(conv.Other(senderID)) {
		s.dispatcher.DispatchMessage(conv, msg)
	}
	return msg, nil
}

// MarkRead flips read=true on every unread message not sent by readerID.
// Idempotent: a repeat call changes nothing and publishes nothing.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, readerID string) error {
	if _, err := s.GetConversation(ctx, conversationID, readerID); err != nil {
		return err
	}
	n, err := s.store.Messages().MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.broker.Publish(pubsub.MessagesTopic(conversationID), pubsub.Event{
			Kind:           pubsub.KindReadReceiptUpdated,
			ConversationID: conversationID,
			UserID:         readerID,
			Time:           time.Now().UTC(),
		})
	}
	return nil
}

// SetArchived flips readerID's own archive flag; the other participant's
// view is unaffected.
func (s *ConversationService) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.store.Conversations().SetArchived(ctx, conversationID, userID, archived)
}

// SetMuted flips userID's own mute flag. Muting suppresses notifications
// for incoming messages, never the events themselves.
func (s *ConversationService) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.store.Conversations().SetMuted(ctx, conversationID, userID, muted)
}
