package pubsub

import (
	"fmt"
	"strings"
	"time"

	"github.com/roomly/connect/internal/model"
)

// Kind identifies the type of domain event flowing through the broker.
type Kind string

const (
	KindMessageCreated     Kind = "message_created"
	KindReadReceiptUpdated Kind = "read_receipt_updated"
	KindTypingChanged      Kind = "typing_changed"
	KindPresenceChanged    Kind = "presence_changed"
	KindMatchCreated       Kind = "match_created"
)

// Event is a flat envelope; only the fields relevant to its Kind are set.
type Event struct {
	Kind           Kind           `json:"kind"`
	ConversationID string         `json:"conversationId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	Active         bool           `json:"active"`
	Message        *model.Message `json:"message,omitempty"`
	Match          *model.Match   `json:"match,omitempty"`
	Time           time.Time      `json:"time"`
}

// Topic builders. The taxonomy is fixed: per-conversation message and typing
// streams, per-user presence and match streams.

func MessagesTopic(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func TypingTopic(conversationID string) string {
	return fmt.Sprintf("conversation:%s:typing", conversationID)
}

func PresenceTopic(userID string) string {
	return fmt.Sprintf("user:%s:presence", userID)
}

func MatchesTopic(userID string) string {
	return fmt.Sprintf("user:%s:matches", userID)
}

// ParseTopic splits a topic into its scope ("conversation" or "user"), the
// scoped ID, and the stream name. ok is false when the topic does not match
// the taxonomy.
func ParseTopic(topic string) (scope, id, stream string, ok bool) {
	first := strings.IndexByte(topic, ':')
	last := strings.LastIndexByte(topic, ':')
	if first <= 0 || last <= first+1 || last == len(topic)-1 {
		return "", "", "", false
	}
	scope = topic[:first]
	id = topic[first+1 : last]
	stream = topic[last+1:]
	if scope != "conversation" && scope != "user" {
		return "", "", "", false
	}
	return scope, id, stream, true
}
