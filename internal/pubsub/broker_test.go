package pubsub

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/model"
)

func TestBroker_PerTopicOrder(t *testing.T) {
	b := NewBroker(8, nil, zerolog.Nop())
	defer b.Close()

	topic := MessagesTopic("c1")
	sub, err := b.Subscribe(context.Background(), "ana", topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Publish(topic, Event{Kind: KindMessageCreated, UserID: fmt.Sprintf("u%d", i)})
	}
	for i := 0; i < 5; i++ {
		evt := <-sub.C()
		if want := fmt.Sprintf("u%d", i); evt.UserID != want {
			t.Fatalf("event %d: got %s want %s", i, evt.UserID, want)
		}
	}
}

func TestBroker_AuthorizerDenialFailsSubscribe(t *testing.T) {
	authz := func(_ context.Context, subscriberID, topic string) error {
		if subscriberID == "intruder" {
			return fmt.Errorf("denied: %w", model.ErrForbidden)
		}
		return nil
	}
	b := NewBroker(8, authz, zerolog.Nop())
	defer b.Close()

	if _, err := b.Subscribe(context.Background(), "ana", MessagesTopic("c1")); err != nil {
		t.Fatalf("allowed subscriber rejected: %v", err)
	}
	_, err := b.Subscribe(context.Background(), "intruder", MessagesTopic("c1"))
	if !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	// One denied topic fails the whole subscription.
	_, err = b.Subscribe(context.Background(), "intruder", MatchesTopic("intruder"), MessagesTopic("c1"))
	if err == nil {
		t.Fatalf("mixed subscription must fail")
	}
}

func TestBroker_SlowSubscriberEvicted(t *testing.T) {
	b := NewBroker(1, nil, zerolog.Nop())
	defer b.Close()

	topic := MessagesTopic("c1")
	slow, err := b.Subscribe(context.Background(), "slow", topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Fill the buffer, then overflow it without draining.
	b.Publish(topic, Event{Kind: KindMessageCreated, UserID: "u0"})
	b.Publish(topic, Event{Kind: KindMessageCreated, UserID: "u1"})

	// The buffered event is still delivered, then the stream closes.
	if evt := <-slow.C(); evt.UserID != "u0" {
		t.Fatalf("buffered event: got %s", evt.UserID)
	}
	if _, ok := <-slow.C(); ok {
		t.Fatalf("evicted subscriber's stream must be closed")
	}

	// The broker keeps serving others.
	fresh, err := b.Subscribe(context.Background(), "fresh", topic)
	if err != nil {
		t.Fatalf("subscribe after eviction: %v", err)
	}
	b.Publish(topic, Event{Kind: KindMessageCreated, UserID: "u2"})
	if evt := <-fresh.C(); evt.UserID != "u2" {
		t.Fatalf("post-eviction delivery: got %s", evt.UserID)
	}
}

func TestBroker_CloseRejectsAndClosesStreams(t *testing.T) {
	b := NewBroker(8, nil, zerolog.Nop())
	sub, err := b.Subscribe(context.Background(), "ana", MessagesTopic("c1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b.Close()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("stream must be closed after broker close")
	}
	if _, err := b.Subscribe(context.Background(), "ana", MessagesTopic("c1")); !errors.Is(err, model.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestBroker_SubscriptionCloseIsIdempotent(t *testing.T) {
	b := NewBroker(8, nil, zerolog.Nop())
	defer b.Close()
	sub, err := b.Subscribe(context.Background(), "ana", MessagesTopic("c1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Close()
	sub.Close()
	// Publishing to a topic with no subscribers is a no-op.
	b.Publish(MessagesTopic("c1"), Event{Kind: KindMessageCreated})
}

func TestParseTopic(t *testing.T) {
	cases := []struct {
		topic             string
		scope, id, stream string
		ok                bool
	}{
		{"conversation:c1:messages", "conversation", "c1", "messages", true},
		{"conversation:c1:typing", "conversation", "c1", "typing", true},
		{"user:ana:presence", "user", "ana", "presence", true},
		{"user:ana:matches", "user", "ana", "matches", true},
		{"user:a:b:presence", "user", "a:b", "presence", true},
		{"garbage", "", "", "", false},
		{"order:c1:messages", "", "", "", false},
		{"user::presence", "", "", "", false},
		{"user:ana:", "", "", "", false},
		{":ana:presence", "", "", "", false},
	}
	for _, c := range cases {
		scope, id, stream, ok := ParseTopic(c.topic)
		if scope != c.scope || id != c.id || stream != c.stream || ok != c.ok {
			t.Errorf("ParseTopic(%q) = (%q,%q,%q,%v), want (%q,%q,%q,%v)",
				c.topic, scope, id, stream, ok, c.scope, c.id, c.stream, c.ok)
		}
	}
}
