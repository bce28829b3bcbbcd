package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/model"
	"github.com/roomly/connect/internal/pubsub"
	"github.com/roomly/connect/internal/store"
)

// MatchService owns likes and matches. Match creation is an atomic
// insert-if-absent keyed on the unordered pair, so two near-simultaneous
// likes from both sides produce exactly one match, one auto-opened
// conversation and one MatchCreated event.
type MatchService struct {
	store      store.Store
	convs      *ConversationService
	broker     *pubsub.Broker
	dispatcher Dispatcher
	log        zerolog.Logger
}

func NewMatchService(s store.Store, convs *ConversationService, b *pubsub.Broker, d Dispatcher, log zerolog.Logger) *MatchService {
	return &MatchService{store: s, convs: convs, broker: b, dispatcher: d, log: log}
}

// Like records likerID's interest in likedID. Liking again is a no-op that
// returns the existing state. When the reciprocal like exists, the call that
// wins the match insert publishes MatchCreated; the loser still reports the
// match to its caller.
func (s *MatchService) Like(ctx context.Context, likerID, likedID string) (*model.LikeResult, error) {
	if likerID == "" || likedID == "" {
		return nil, fmt.Errorf("both users required: %w", model.ErrValidation)
	}
	if likerID == likedID {
		return nil, fmt.Errorf("cannot like yourself: %w", model.ErrValidation)
	}

	like, _, err := s.store.Likes().Create(ctx, likerID, likedID)
	if err != nil {
		return nil, err
	}

	reciprocal, err := s.store.Likes().Exists(ctx, likedID, likerID)
	if err != nil {
		return nil, err
	}
	if !reciprocal {
		return &model.LikeResult{Like: like}, nil
	}

	// Mutual interest: auto-open the unscoped conversation, then try to
	// create the match. GetOrCreate is idempotent, so both racers may call
	// it; only the match insert decides who publishes.
	conv, err := s.convs.GetOrCreateConversation(ctx, likerID, likedID, nil)
	if err != nil {
		return nil, err
	}
	match, created, err := s.store.Matches().Create(ctx, &model.Match{
		User1:          likerID,
		User2:          likedID,
		ConversationID: conv.ConversationID,
	})
	if err != nil {
		return nil, err
	}
	if created {
		evt := pubsub.Event{
			Kind:           pubsub.KindMatchCreated,
			ConversationID: match.ConversationID,
			Match:          match,
			Time:           match.CreationTime,
		}
		s.broker.Publish(pubsub.MatchesTopic(match.User1), evt)
		s.broker.Publish(pubsub.MatchesTopic(match.User2), evt)
		if s.dispatcher != nil {
			s.dispatcher.DispatchMatch(match)
		}
		s.log.Info().
			Str("match_id", match.MatchID).
			Str("conversation_id", match.ConversationID).
			Msg("match created")
	}
	return &model.LikeResult{Like: like, Matched: true, Match: match}, nil
}

// Unlike removes the directional like. An existing match or conversation is
// never deleted by unliking; breaking a match is a separate explicit action.
func (s *MatchService) Unlike(ctx context.Context, likerID, likedID string) error {
	if likerID == "" || likedID == "" {
		return fmt.Errorf("both users required: %w", model.ErrValidation)
	}
	return s.store.Likes().Delete(ctx, likerID, likedID)
}

// ListLikes returns the profiles userID has liked.
func (s *MatchService) ListLikes(ctx context.Context, userID string) ([]*model.Like, error) {
	if userID == "" {
		return nil, fmt.Errorf("user required: %w", model.ErrValidation)
	}
	return s.store.Likes().ListByLiker(ctx, userID)
}

// ListMatches returns userID's matches, newest first.
func (s *MatchService) ListMatches(ctx context.Context, userID string) ([]*model.Match, error) {
	if userID == "" {
		return nil, fmt.Errorf("user required: %w", model.ErrValidation)
	}
	return s.store.Matches().ListByUser(ctx, userID)
}

// IsMatch reports whether a match exists between the two users.
func (s *MatchService) IsMatch(ctx context.Context, userA, userB string) (bool, error) {
	_, err := s.store.Matches().GetByPair(ctx, userA, userB)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
