// Package typing tracks short-lived "user is composing" facts per
// conversation. Entries expire on a fixed TTL so an abandoned composer never
// needs an explicit stop signal.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/pubsub"
)

// Publisher is the slice of the broker the coordinator needs.
type Publisher interface {
	Publish(topic string, evt pubsub.Event)
}

type key struct {
	conversationID string
	userID         string
}

// Coordinator owns the ephemeral typing map. Per (conversation, user) the
// state machine is Idle -> Typing on Start, Typing -> Typing on refresh
// (silent), Typing -> Idle on Stop or TTL expiry with exactly one event.
type Coordinator struct {
	mu      sync.Mutex
	entries map[key]time.Time // expiry deadline
	ttl     time.Duration
	pub     Publisher
	log     zerolog.Logger
	now     func() time.Time
}

// NewCoordinator creates a coordinator with the given TTL.
func NewCoordinator(ttl time.Duration, pub Publisher, log zerolog.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &Coordinator{
		entries: make(map[key]time.Time),
		ttl:     ttl,
		pub:     pub,
		log:     log,
		now:     time.Now,
	}
}

// StartTyping sets or refreshes the typing entry. Only the idle-to-typing
// edge publishes an event; keystroke-driven refreshes are silent so the
// stream never floods.
func (c *Coordinator) StartTyping(conversationID, userID string) {
	k := key{conversationID, userID}
	now := c.now()

	c.mu.Lock()
	deadline, ok := c.entries[k]
	wasTyping := ok && deadline.After(now)
	c.entries[k] = now.Add(c.ttl)
	c.mu.Unlock()

	if !wasTyping {
		c.publish(conversationID, userID, true)
	}
}

// StopTyping clears the entry ahead of its TTL. Any live entry owes its
// subscribers exactly one idle edge; an expired entry the sweeper has not
// reached yet still counts, since removing it here means the sweep will
// never see it.
func (c *Coordinator) StopTyping(conversationID, userID string) {
	k := key{conversationID, userID}

	c.mu.Lock()
	_, ok := c.entries[k]
	delete(c.entries, k)
	c.mu.Unlock()

	if ok {
		c.publish(conversationID, userID, false)
	}
}

// IsTyping reports whether userID is typing in conversationID. An entry past
// its deadline counts as absent even if the sweeper has not reached it yet.
func (c *Coordinator) IsTyping(conversationID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := c.entries[key{conversationID, userID}]
	return ok && deadline.After(c.now())
}

// TypingUsers returns a snapshot of users currently typing in the
// conversation. Reconnecting clients use it to seed their local state.
func (c *Coordinator) TypingUsers(conversationID string) []string {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k, deadline := range c.entries {
		if k.conversationID == conversationID && deadline.After(now) {
			out = append(out, k.userID)
		}
	}
	return out
}

// Run sweeps expired entries until ctx is canceled, emitting the idle edge
// exactly once per expiry.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = c.ttl / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("typing sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Coordinator) sweep() {
	now := c.now()

	c.mu.Lock()
	var expired []key
	for k, deadline := range c.entries {
		if !deadline.After(now) {
			delete(c.entries, k)
			expired = append(expired, k)
		}
	}
	c.mu.Unlock()

	for _, k := range expired {
		c.publish(k.conversationID, k.userID, false)
	}
}

func (c *Coordinator) publish(conversationID, userID string, active bool) {
	c.pub.Publish(pubsub.TypingTopic(conversationID), pubsub.Event{
		Kind:           pubsub.KindTypingChanged,
		ConversationID: conversationID,
		UserID:         userID,
		Active:         active,
		Time:           c.now(),
	})
}
