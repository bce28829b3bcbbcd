package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/roomly/connect/internal/model"
	"github.com/roomly/connect/internal/pubsub"
	"github.com/roomly/connect/internal/store"
)

// NewAuthorizer returns the broker authorizer enforcing topic visibility:
// conversation streams require membership, match streams are owner-only, and
// presence is visible to the user and to anyone sharing a conversation or a
// match with them.
func NewAuthorizer(st store.Store) pubsub.Authorizer {
	return func(ctx context.Context, subscriberID, topic string) error {
		scope, id, stream, ok := pubsub.ParseTopic(topic)
		if !ok {
			return fmt.Errorf("unknown topic %q: %w", topic, model.ErrForbidden)
		}
		switch {
		case scope == "conversation" && (stream == "messages" || stream == "typing"):
			conv, err := st.Conversations().Get(ctx, id)
			if err != nil {
				if errors.Is(err, model.ErrNotFound) {
					return fmt.Errorf("conversation %s: %w", id, model.ErrForbidden)
				}
				return err
			}
			if !conv.HasParticipant(subscriberID) {
				return fmt.Errorf("user %s is not a participant of conversation %s: %w", subscriberID, id, model.ErrForbidden)
			}
			return nil
		case scope == "user" && stream == "matches":
			if subscriberID != id {
				return fmt.Errorf("match stream belongs to %s: %w", id, model.ErrForbidden)
			}
			return nil
		case scope == "user" && stream == "presence":
			if subscriberID == id {
				return nil
			}
			shared, err := st.Conversations().ExistsBetween(ctx, subscriberID, id)
			if err != nil {
				return err
			}
			if shared {
				return nil
			}
			if _, err := st.Matches().GetByPair(ctx, subscriberID, id); err == nil {
				return nil
			} else if !errors.Is(err, model.ErrNotFound) {
				return err
			}
			return fmt.Errorf("user %s may not observe presence of %s: %w", subscriberID, id, model.ErrForbidden)
		default:
			return fmt.Errorf("unknown topic %q: %w", topic, model.ErrForbidden)
		}
	}
}
