// Package pubsub is the in-process publish/subscribe fabric connecting the
// domain services to realtime subscribers. Delivery is at-least-once to
// active subscribers and FIFO per topic; disconnected subscribers get
// nothing and must reconcile by refetching state on reconnect.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/model"
)

// Authorizer decides whether subscriberID may be admitted to topic. It is
// consulted once per topic at subscribe time, not per event.
type Authorizer func(ctx context.Context, subscriberID, topic string) error

// AllowAll admits every subscriber to every topic. Used by tests and by
// internal consumers that bypass the client-facing boundary.
func AllowAll(context.Context, string, string) error { return nil }

// Broker routes events from publishers to topic subscribers. Publish never
// blocks on a subscriber: a subscriber whose buffer is full is evicted and
// its stream closed, forcing it to refetch on reconnect.
type Broker struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	authz  Authorizer
	closed bool
	log    zerolog.Logger
}

// NewBroker creates a broker whose subscriptions buffer up to buffer events.
func NewBroker(buffer int, authz Authorizer, log zerolog.Logger) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	if authz == nil {
		authz = AllowAll
	}
	return &Broker{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		authz:  authz,
		log:    log,
	}
}

// Subscription is a single subscriber's ordered event stream.
type Subscription struct {
	broker *Broker
	topics []string
	ch     chan Event
	once   sync.Once
}

// C returns the event stream. It is closed when the subscription is closed
// or evicted.
func (s *Subscription) C() <-chan Event { return s.ch }

// Topics returns the topics this subscription is admitted to.
func (s *Subscription) Topics() []string { return s.topics }

// Close detaches the subscription and closes its stream. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.detach(s)
		close(s.ch)
	})
}

// Subscribe admits subscriberID to the given topics after consulting the
// authorizer for each one. A single denial fails the whole subscription with
// model.ErrForbidden.
func (b *Broker) Subscribe(ctx context.Context, subscriberID string, topics ...string) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("subscribe: no topics: %w", model.ErrValidation)
	}
	for _, t := range topics {
		if err := b.authz(ctx, subscriberID, t); err != nil {
			return nil, fmt.Errorf("subscribe %q: %w", t, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe: broker closed: %w", model.ErrUnavailable)
	}
	sub := &Subscription{broker: b, topics: topics, ch: make(chan Event, b.buffer)}
	for _, t := range topics {
		set, ok := b.topics[t]
		if !ok {
			set = make(map[*Subscription]struct{})
			b.topics[t] = set
		}
		set[sub] = struct{}{}
	}
	return sub, nil
}

// Publish fans evt out to the current subscribers of topic. The broker lock
// serializes publishes, so every subscriber observes the same per-topic
// order. Subscribers that cannot keep up are evicted rather than slowing the
// publisher down.
func (b *Broker) Publish(topic string, evt Event) {
	b.mu.Lock()
	var evicted []*Subscription
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- evt:
		default:
			evicted = append(evicted, sub)
		}
	}
	for _, sub := range evicted {
		b.detachLocked(sub)
	}
	b.mu.Unlock()

	for _, sub := range evicted {
		b.log.Warn().Str("topic", topic).Msg("evicting slow subscriber")
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Close detaches all subscriptions and rejects further subscribes.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	seen := make(map[*Subscription]struct{})
	for _, set := range b.topics {
		for sub := range set {
			seen[sub] = struct{}{}
		}
	}
	b.topics = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	for sub := range seen {
		sub.once.Do(func() { close(sub.ch) })
	}
}

func (b *Broker) detach(sub *Subscription) {
	b.mu.Lock()
	b.detachLocked(sub)
	b.mu.Unlock()
}

func (b *Broker) detachLocked(sub *Subscription) {
	for _, t := range sub.topics {
		if set, ok := b.topics[t]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.topics, t)
			}
		}
	}
}
