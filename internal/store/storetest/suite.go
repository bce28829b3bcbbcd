package storetest

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/roomly/connect/internal/model"
	"github.com/roomly/connect/internal/store"
)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store and return it from
// makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	ana := "u-" + uuid.New().String()
	luis := "u-" + uuid.New().String()

	// Conversations: first call creates, second returns the same row
	// regardless of argument order.
	conv, created, err := s.Conversations().GetOrCreate(ctx, ana, luis, nil)
	if err != nil || !created {
		t.Fatalf("GetOrCreate first: created=%v err=%v", created, err)
	}
	if conv.Participant1 >= conv.Participant2 {
		t.Fatalf("participants not in lexicographic order: %q >= %q", conv.Participant1, conv.Participant2)
	}
	again, created, err := s.Conversations().GetOrCreate(ctx, luis, ana, nil)
	if err != nil || created {
		t.Fatalf("GetOrCreate second: created=%v err=%v", created, err)
	}
	if again.ConversationID != conv.ConversationID {
		t.Fatalf("GetOrCreate returned a different row: %s vs %s", again.ConversationID, conv.ConversationID)
	}

	// A listing-scoped conversation between the same pair is a distinct
	// thread.
	listing := "listing-1"
	scoped, created, err := s.Conversations().GetOrCreate(ctx, ana, luis, &listing)
	if err != nil || !created {
		t.Fatalf("GetOrCreate listing-scoped: created=%v err=%v", created, err)
	}
	if scoped.ConversationID == conv.ConversationID {
		t.Fatalf("listing-scoped conversation collapsed into the unscoped one")
	}
	if scoped.ListingID == nil || *scoped.ListingID != listing {
		t.Fatalf("ListingID not round-tripped: %v", scoped.ListingID)
	}

	if got, err := s.Conversations().Get(ctx, conv.ConversationID); err != nil || got.ConversationID != conv.ConversationID {
		t.Fatalf("Get: got=%v err=%v", got, err)
	}
	if _, err := s.Conversations().Get(ctx, uuid.New().String()); err == nil {
		t.Fatalf("Get unknown: expected error")
	}

	if ok, err := s.Conversations().ExistsBetween(ctx, luis, ana); err != nil || !ok {
		t.Fatalf("ExistsBetween: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Conversations().ExistsBetween(ctx, ana, "u-nobody"); err != nil || ok {
		t.Fatalf("ExistsBetween no pair: ok=%v err=%v", ok, err)
	}

	// Messages: create, list order, unread accounting.
	m1, created, err := s.Messages().Create(ctx, &model.Message{
		ConversationID: conv.ConversationID, SenderID: ana, Body: "Hola",
	}, nil)
	if err != nil || !created {
		t.Fatalf("Create m1: created=%v err=%v", created, err)
	}
	if m1.MessageID == "" || m1.Read {
		t.Fatalf("Create m1: id=%q read=%v", m1.MessageID, m1.Read)
	}
	m2, _, err := s.Messages().Create(ctx, &model.Message{
		ConversationID: conv.ConversationID, SenderID: luis, Body: "Hola Ana",
		Attachments: []model.Attachment{{Name: "plano.pdf", URL: "https://files.test/plano.pdf", Type: "application/pdf", Size: 2048}},
	}, nil)
	if err != nil {
		t.Fatalf("Create m2: %v", err)
	}

	msgs, err := s.Messages().List(ctx, conv.ConversationID)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("List: n=%d err=%v", len(msgs), err)
	}
	if msgs[0].MessageID != m1.MessageID || msgs[1].MessageID != m2.MessageID {
		t.Fatalf("List out of creation order")
	}
	if len(msgs[1].Attachments) != 1 || msgs[1].Attachments[0].Name != "plano.pdf" {
		t.Fatalf("attachments not round-tripped: %+v", msgs[1].Attachments)
	}

	// Idempotency key: a retry returns the original row without inserting.
	key := uuid.New().String()
	k1, created, err := s.Messages().Create(ctx, &model.Message{
		ConversationID: conv.ConversationID, SenderID: ana, Body: "keyed",
	}, &key)
	if err != nil || !created {
		t.Fatalf("Create keyed: created=%v err=%v", created, err)
	}
	k2, created, err := s.Messages().Create(ctx, &model.Message{
		ConversationID: conv.ConversationID, SenderID: ana, Body: "keyed",
	}, &key)
	if err != nil || created {
		t.Fatalf("Create keyed retry: created=%v err=%v", created, err)
	}
	if k2.MessageID != k1.MessageID {
		t.Fatalf("keyed retry returned a different message")
	}

	// last_message_at tracks the newest message.
	if got, err := s.Conversations().Get(ctx, conv.ConversationID); err != nil || got.LastMessageAt.Before(got.CreationTime) {
		t.Fatalf("LastMessageAt not bumped: %+v err=%v", got, err)
	}

	// MarkRead flips only incoming messages and is idempotent.
	n, err := s.Messages().MarkRead(ctx, conv.ConversationID, luis)
	if err != nil || n != 2 {
		t.Fatalf("MarkRead: n=%d err=%v", n, err)
	}
	n, err = s.Messages().MarkRead(ctx, conv.ConversationID, luis)
	if err != nil || n != 0 {
		t.Fatalf("MarkRead repeat: n=%d err=%v", n, err)
	}

	// ListByUser: summaries carry unread count and last message, newest
	// activity first.
	sums, err := s.Conversations().ListByUser(ctx, luis)
	if err != nil || len(sums) != 2 {
		t.Fatalf("ListByUser: n=%d err=%v", len(sums), err)
	}
	if sums[0].ConversationID != conv.ConversationID {
		t.Fatalf("ListByUser order: want %s first, got %s", conv.ConversationID, sums[0].ConversationID)
	}
	if sums[0].UnreadCount != 0 {
		t.Fatalf("luis unread after MarkRead: %d", sums[0].UnreadCount)
	}
	if sums[0].LastMessage == nil || sums[0].LastMessage.Body != "keyed" {
		t.Fatalf("last message: %+v", sums[0].LastMessage)
	}
	anaSums, err := s.Conversations().ListByUser(ctx, ana)
	if err != nil {
		t.Fatalf("ListByUser ana: %v", err)
	}
	if anaSums[0].UnreadCount != 1 {
		t.Fatalf("ana unread: want 1 (luis's reply), got %d", anaSums[0].UnreadCount)
	}

	// Per-user flags touch only the owner's column.
	if err := s.Conversations().SetArchived(ctx, conv.ConversationID, ana, true); err != nil {
		t.Fatalf("SetArchived: %v", err)
	}
	if err := s.Conversations().SetMuted(ctx, conv.ConversationID, luis, true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	got, err := s.Conversations().Get(ctx, conv.ConversationID)
	if err != nil {
		t.Fatalf("Get after flags: %v", err)
	}
	if !got.ArchivedBy(ana) || got.ArchivedBy(luis) {
		t.Fatalf("archive flags: by1=%v by2=%v", got.ArchivedBy1, got.ArchivedBy2)
	}
	if !got.MutedBy(luis) || got.MutedBy(ana) {
		t.Fatalf("mute flags: by1=%v by2=%v", got.MutedBy1, got.MutedBy2)
	}

	// Likes: insert-if-absent semantics.
	l, created, err := s.Likes().Create(ctx, ana, luis)
	if err != nil || !created || l.LikerID != ana {
		t.Fatalf("Likes.Create: l=%+v created=%v err=%v", l, created, err)
	}
	if _, created, err = s.Likes().Create(ctx, ana, luis); err != nil || created {
		t.Fatalf("Likes.Create repeat: created=%v err=%v", created, err)
	}
	if ok, err := s.Likes().Exists(ctx, ana, luis); err != nil || !ok {
		t.Fatalf("Likes.Exists: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Likes().Exists(ctx, luis, ana); err != nil || ok {
		t.Fatalf("Likes.Exists reverse: must be directional, ok=%v err=%v", ok, err)
	}
	if lst, err := s.Likes().ListByLiker(ctx, ana); err != nil || len(lst) != 1 {
		t.Fatalf("ListByLiker: n=%d err=%v", len(lst), err)
	}

	// Matches: at most one row per unordered pair.
	u1, u2 := model.OrderPair(ana, luis)
	match, created, err := s.Matches().Create(ctx, &model.Match{User1: u1, User2: u2, ConversationID: conv.ConversationID})
	if err != nil || !created {
		t.Fatalf("Matches.Create: created=%v err=%v", created, err)
	}
	dup, created, err := s.Matches().Create(ctx, &model.Match{User1: u1, User2: u2, ConversationID: conv.ConversationID})
	if err != nil || created {
		t.Fatalf("Matches.Create repeat: created=%v err=%v", created, err)
	}
	if dup.MatchID != match.MatchID {
		t.Fatalf("duplicate create returned a different match")
	}
	if got, err := s.Matches().GetByPair(ctx, luis, ana); err != nil || got.MatchID != match.MatchID {
		t.Fatalf("GetByPair: got=%v err=%v", got, err)
	}
	if _, err := s.Matches().GetByPair(ctx, ana, "u-nobody"); err == nil {
		t.Fatalf("GetByPair unknown: expected error")
	}
	if lst, err := s.Matches().ListByUser(ctx, luis); err != nil || len(lst) != 1 {
		t.Fatalf("Matches.ListByUser: n=%d err=%v", len(lst), err)
	}

	// Unlike never deletes the match.
	if err := s.Likes().Delete(ctx, ana, luis); err != nil {
		t.Fatalf("Likes.Delete: %v", err)
	}
	if ok, _ := s.Likes().Exists(ctx, ana, luis); ok {
		t.Fatalf("like survived delete")
	}
	if got, err := s.Matches().GetByPair(ctx, ana, luis); err != nil || got == nil {
		t.Fatalf("match must survive unlike: got=%v err=%v", got, err)
	}

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
