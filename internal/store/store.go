// Package store defines the persistence boundary for conversations,
// messages, likes and matches. Implementations live under
// internal/store/<driver>/ (postgres, sqlite) and must honor the uniqueness
// invariants with atomic insert-if-absent, never read-then-write.
package store

import (
	"context"

	"github.com/roomly/connect/internal/model"
)

// Store exposes persistence operations required by services.
type Store interface {
	Conversations() Conversations
	Messages() Messages
	Likes() Likes
	Matches() Matches

	// Ping verifies backing-store connectivity for health checks.
	Ping(ctx context.Context) error
}

// Conversations owns conversation rows. The (unordered pair, listing) key is
// unique: implementations normalize the pair with model.OrderPair before
// touching storage.
type Conversations interface {
	// GetOrCreate returns the conversation for the pair and listing scope,
	// creating it atomically if absent. The second result reports whether
	// this call created the row. Safe under concurrent calls from both
	// participants in either argument order.
	GetOrCreate(ctx context.Context, userA, userB string, listingID *string) (*model.Conversation, bool, error)

	Get(ctx context.Context, conversationID string) (*model.Conversation, error)

	// ListByUser returns the user's conversations ordered by last activity
	// descending, each with its unread count and last message.
	ListByUser(ctx context.Context, userID string) ([]*model.ConversationSummary, error)

	// SetArchived and SetMuted flip the flag owned by userID only; the other
	// participant's flag is untouched.
	SetArchived(ctx context.Context, conversationID, userID string, archived bool) error
	SetMuted(ctx context.Context, conversationID, userID string, muted bool) error

	// ExistsBetween reports whether any conversation, in any listing scope,
	// exists between the two users. Used for presence authorization.
	ExistsBetween(ctx context.Context, userA, userB string) (bool, error)
}

// Messages owns message rows. Messages are immutable except the read flag,
// which transitions false to true only.
type Messages interface {
	// Create persists the message and bumps the conversation's
	// last_message_at in the same transaction. A non-nil idempotencyKey
	// dedupes retries: a second insert with the same key returns the
	// original message and reports created=false.
	Create(ctx context.Context, m *model.Message, idempotencyKey *string) (*model.Message, bool, error)

	// List returns the conversation's messages in creation order.
	List(ctx context.Context, conversationID string) ([]*model.Message, error)

	// MarkRead flips read=true on all unread messages in the conversation
	// not sent by readerID and returns how many changed. Idempotent.
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
}

// Likes owns directional like edges.
type Likes interface {
	// Create inserts the edge if absent. The second result reports whether
	// this call inserted it; liking again is a no-op, not an error.
	Create(ctx context.Context, likerID, likedID string) (*model.Like, bool, error)
	Delete(ctx context.Context, likerID, likedID string) error
	Exists(ctx context.Context, likerID, likedID string) (bool, error)
	ListByLiker(ctx context.Context, likerID string) ([]*model.Like, error)
}

// Matches owns match rows keyed by the ordered pair.
type Matches interface {
	// Create inserts the match if no row exists for the unordered pair,
	// atomically. When a concurrent or earlier call already created it, the
	// existing match is returned with created=false.
	Create(ctx context.Context, m *model.Match) (*model.Match, bool, error)
	GetByPair(ctx context.Context, userA, userB string) (*model.Match, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Match, error)
}
