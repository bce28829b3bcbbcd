// Package presence tracks which users currently hold a live realtime
// session. State is process-local and ephemeral: it never survives a
// restart, and reconnecting clients must treat presence as unknown until
// resynced.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/pubsub"
)

// Publisher is the slice of the broker the tracker needs.
type Publisher interface {
	Publish(topic string, evt pubsub.Event)
}

// Tracker maintains userID -> live session set. A user is online while at
// least one session is live. Sessions must be kept alive by heartbeats;
// a session silent for longer than the window counts as an implicit Leave.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]map[string]time.Time // userID -> sessionID -> last heartbeat
	window   time.Duration
	pub      Publisher
	log      zerolog.Logger
	now      func() time.Time
}

// NewTracker creates a tracker with the given heartbeat window.
func NewTracker(window time.Duration, pub Publisher, log zerolog.Logger) *Tracker {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Tracker{
		sessions: make(map[string]map[string]time.Time),
		window:   window,
		pub:      pub,
		log:      log,
		now:      time.Now,
	}
}

// Join registers a session for userID. The offline-to-online transition
// publishes a PresenceChanged event; additional sessions are silent.
func (t *Tracker) Join(userID, sessionID string) {
	t.mu.Lock()
	set, ok := t.sessions[userID]
	if !ok {
		set = make(map[string]time.Time)
		t.sessions[userID] = set
	}
	wasOnline := len(set) > 0
	set[sessionID] = t.now()
	t.mu.Unlock()

	if !wasOnline {
		t.publish(userID, true)
	}
}

// Heartbeat refreshes a session's liveness. Unknown sessions are re-added,
// so a heartbeat that races a sweep behaves like a fresh Join.
func (t *Tracker) Heartbeat(userID, sessionID string) {
	t.mu.Lock()
	set, ok := t.sessions[userID]
	if !ok {
		set = make(map[string]time.Time)
		t.sessions[userID] = set
	}
	wasOnline := len(set) > 0
	set[sessionID] = t.now()
	t.mu.Unlock()

	if !wasOnline {
		t.publish(userID, true)
	}
}

// Leave removes a session. The online-to-offline transition publishes a
// PresenceChanged event.
func (t *Tracker) Leave(userID, sessionID string) {
	t.mu.Lock()
	set, ok := t.sessions[userID]
	if ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(t.sessions, userID)
		}
	}
	nowOffline := ok && len(set) == 0
	t.mu.Unlock()

	if nowOffline {
		t.publish(userID, false)
	}
}

// IsOnline reports whether userID holds at least one live session.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions[userID]) > 0
}

// OnlineSet returns a snapshot of all online user IDs.
func (t *Tracker) OnlineSet() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.sessions))
	for u, set := range t.sessions {
		if len(set) > 0 {
			out = append(out, u)
		}
	}
	return out
}

// Run sweeps expired sessions until ctx is canceled. interval should be a
// fraction of the heartbeat window.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = t.window / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.log.Info().Msg("presence sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			t.sweep()
		}
	}
}

// sweep drops sessions whose last heartbeat is older than the window and
// publishes the offline edge for users whose last session expired.
func (t *Tracker) sweep() {
	cutoff := t.now().Add(-t.window)

	t.mu.Lock()
	var offline []string
	for userID, set := range t.sessions {
		for sessionID, seen := range set {
			if seen.Before(cutoff) {
				delete(set, sessionID)
			}
		}
		if len(set) == 0 {
			delete(t.sessions, userID)
			offline = append(offline, userID)
		}
	}
	t.mu.Unlock()

	for _, userID := range offline {
		t.log.Debug().Str("user_id", userID).Msg("presence heartbeat expired")
		t.publish(userID, false)
	}
}

func (t *Tracker) publish(userID string, online bool) {
	t.pub.Publish(pubsub.PresenceTopic(userID), pubsub.Event{
		Kind:   pubsub.KindPresenceChanged,
		UserID: userID,
		Active: online,
		Time:   t.now(),
	})
}
