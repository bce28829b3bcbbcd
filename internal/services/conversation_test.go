package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/model"
	"github.com/roomly/connect/internal/pubsub"
	"github.com/roomly/connect/internal/store"
	"github.com/roomly/connect/internal/store/sqlite"
)

// recordingDispatcher captures notification hand-offs.
type recordingDispatcher struct {
	mu       sync.Mutex
	messages []*model.Message
	matches  []*model.Match
}

func (d *recordingDispatcher) DispatchMessage(conv *model.Conversation, msg *model.Message) {
	d.mu.Lock()
	d.messages = append(d.messages, msg)
	d.mu.Unlock()
}

func (d *recordingDispatcher) DispatchMatch(match *model.Match) {
	d.mu.Lock()
	d.matches = append(d.matches, match)
	d.mu.Unlock()
}

func (d *recordingDispatcher) messageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}

func (d *recordingDispatcher) matchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.matches)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "connect.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	return st
}

func newConversationService(t *testing.T) (*ConversationService, *pubsub.Broker, *recordingDispatcher) {
	t.Helper()
	st := newTestStore(t)
	broker := pubsub.NewBroker(64, nil, zerolog.Nop())
	t.Cleanup(broker.Close)
	disp := &recordingDispatcher{}
	return NewConversationService(st, broker, disp, zerolog.Nop()), broker, disp
}

func TestSendMessage_UnreadAndEvents(t *testing.T) {
	svc, broker, disp := newConversationService(t)
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, "ana", "luis", nil)
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}

	sub, err := broker.Subscribe(ctx, "luis", pubsub.MessagesTopic(conv.ConversationID))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	msg, err := svc.SendMessage(ctx, conv.ConversationID, "ana", "Hola", nil, nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Read {
		t.Fatalf("fresh message must be unread")
	}

	evt := <-sub.C()
	if evt.Kind != pubsub.KindMessageCreated || evt.Message.Body != "Hola" {
		t.Fatalf("event: %+v", evt)
	}

	// luis sees one unread, ana none.
	luisList, err := svc.ListConversations(ctx, "luis")
	if err != nil || len(luisList) != 1 {
		t.Fatalf("ListConversations luis: n=%d err=%v", len(luisList), err)
	}
	if luisList[0].UnreadCount != 1 {
		t.Fatalf("luis unread: %d", luisList[0].UnreadCount)
	}
	anaList, _ := svc.ListConversations(ctx, "ana")
	if anaList[0].UnreadCount != 0 {
		t.Fatalf("ana unread: %d", anaList[0].UnreadCount)
	}

	// Read receipt only when something actually flips.
	if err := svc.MarkRead(ctx, conv.ConversationID, "luis"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	evt = <-sub.C()
	if evt.Kind != pubsub.KindReadReceiptUpdated || evt.UserID != "luis" {
		t.Fatalf("read receipt event: %+v", evt)
	}
	if err := svc.MarkRead(ctx, conv.ConversationID, "luis"); err != nil {
		t.Fatalf("MarkRead repeat: %v", err)
	}
	select {
	case evt := <-sub.C():
		t.Fatalf("idempotent MarkRead must not publish: %+v", evt)
	default:
	}

	if disp.messageCount() != 1 {
		t.Fatalf("dispatcher calls: %d", disp.messageCount())
	}
}

func TestSendMessage_Validation(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, "ana", "luis", nil)
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}

	if _, err := svc.SendMessage(ctx, conv.ConversationID, "ana", "   ", nil, nil); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("blank body: %v", err)
	}
	long := strings.Repeat("x", MaxMessageBody+1)
	if _, err := svc.SendMessage(ctx, conv.ConversationID, "ana", long, nil, nil); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("oversized body: %v", err)
	}
	if _, err := svc.SendMessage(ctx, conv.ConversationID, "eva", "hola", nil, nil); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("outsider send: %v", err)
	}
	if _, err := svc.GetOrCreateConversation(ctx, "ana", "ana", nil); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("self conversation: %v", err)
	}
}

func TestSendMessage_IdempotentRetryPublishesOnce(t *testing.T) {
	svc, broker, disp := newConversationService(t)
	ctx := context.Background()

	conv, _ := svc.GetOrCreateConversation(ctx, "ana", "luis", nil)
	sub, err := broker.Subscribe(ctx, "luis", pubsub.MessagesTopic(conv.ConversationID))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	key := "retry-1"
	first, err := svc.SendMessage(ctx, conv.ConversationID, "ana", "Hola", nil, &key)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := svc.SendMessage(ctx, conv.ConversationID, "ana", "Hola", nil, &key)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second.MessageID != first.MessageID {
		t.Fatalf("retry returned a different message")
	}

	<-sub.C()
	select {
	case evt := <-sub.C():
		t.Fatalf("retry must not publish: %+v", evt)
	default:
	}
	if disp.messageCount() != 1 {
		t.Fatalf("retry must not re-dispatch: %d", disp.messageCount())
	}
}

func TestSendMessage_MuteSuppressesNotificationOnly(t *testing.T) {
	svc, broker, disp := newConversationService(t)
	ctx := context.Background()

	conv, _ := svc.GetOrCreateConversation(ctx, "ana", "luis", nil)
	if err := svc.SetMuted(ctx, conv.ConversationID, "luis", true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}

	sub, err := broker.Subscribe(ctx, "luis", pubsub.MessagesTopic(conv.ConversationID))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := svc.SendMessage(ctx, conv.ConversationID, "ana", "Hola", nil, nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// The event still flows; only the external notification is suppressed.
	evt := <-sub.C()
	if evt.Kind != pubsub.KindMessageCreated {
		t.Fatalf("event: %+v", evt)
	}
	if disp.messageCount() != 0 {
		t.Fatalf("muted recipient must not be notified: %d", disp.messageCount())
	}

	// Muting is per user: a reply to the unmuted side notifies.
	if _, err := svc.SendMessage(ctx, conv.ConversationID, "luis", "Hola Ana", nil, nil); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if disp.messageCount() != 1 {
		t.Fatalf("unmuted recipient must be notified: %d", disp.messageCount())
	}
}

func TestArchiveIsPerUser(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()

	conv, _ := svc.GetOrCreateConversation(ctx, "ana", "luis", nil)
	if err := svc.SetArchived(ctx, conv.ConversationID, "ana", true); err != nil {
		t.Fatalf("SetArchived: %v", err)
	}

	got, err := svc.GetConversation(ctx, conv.ConversationID, "luis")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if !got.ArchivedBy("ana") || got.ArchivedBy("luis") {
		t.Fatalf("archive flags leaked: %+v", got)
	}

	if err := svc.SetArchived(ctx, conv.ConversationID, "ana", false); err != nil {
		t.Fatalf("unarchive: %v", err)
	}
	got, _ = svc.GetConversation(ctx, conv.ConversationID, "ana")
	if got.ArchivedBy("ana") {
		t.Fatalf("unarchive did not clear the flag")
	}
}

func TestListingScopedConversationsAreDistinct(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()

	plain, err := svc.GetOrCreateConversation(ctx, "ana", "luis", nil)
	if err != nil {
		t.Fatalf("unscoped: %v", err)
	}
	listing := "listing-7"
	scoped, err := svc.GetOrCreateConversation(ctx, "luis", "ana", &listing)
	if err != nil {
		t.Fatalf("scoped: %v", err)
	}
	if plain.ConversationID == scoped.ConversationID {
		t.Fatalf("listing scope must open a distinct thread")
	}
	again, _ := svc.GetOrCreateConversation(ctx, "ana", "luis", &listing)
	if again.ConversationID != scoped.ConversationID {
		t.Fatalf("scoped thread must be stable")
	}
}

func TestAttachmentsRoundTrip(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()

	conv, _ := svc.GetOrCreateConversation(ctx, "ana", "luis", nil)
	atts := []model.Attachment{{Name: "contrato.pdf", URL: "https://files.test/contrato.pdf", Type: "application/pdf", Size: 5120}}
	if _, err := svc.SendMessage(ctx, conv.ConversationID, "ana", "Te paso el contrato", atts, nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs, err := svc.ListMessages(ctx, conv.ConversationID, "luis")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("ListMessages: n=%d err=%v", len(msgs), err)
	}
	got := msgs[0].Attachments
	if len(got) != 1 || got[0].Name != "contrato.pdf" || got[0].Size != 5120 {
		t.Fatalf("attachments: %+v", got)
	}
}
