package model

import "time"

// Conversation is a persistent thread between exactly two users, optionally
// scoped to a listing. Participants are stored in lexicographic order so the
// unordered pair has a single canonical row.
type Conversation struct {
	ConversationID string    `json:"conversationId"`
	Participant1   string    `json:"participant1Id"`
	Participant2   string    `json:"participant2Id"`
	ListingID      *string   `json:"listingId,omitempty"`
	ArchivedBy1    bool      `json:"isArchivedBy1"`
	ArchivedBy2    bool      `json:"isArchivedBy2"`
	MutedBy1       bool      `json:"isMutedBy1"`
	MutedBy2       bool      `json:"isMutedBy2"`
	CreationTime   time.Time `json:"creationTime"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participant1 == userID || c.Participant2 == userID
}

// Other returns the participant that is not userID. The caller must have
// verified membership first.
func (c *Conversation) Other(userID string) string {
	if c.Participant1 == userID {
		return c.Participant2
	}
	return c.Participant1
}

// ArchivedBy reports the archive flag owned by userID.
func (c *Conversation) ArchivedBy(userID string) bool {
	if c.Participant1 == userID {
		return c.ArchivedBy1
	}
	return c.ArchivedBy2
}

// MutedBy reports the mute flag owned by userID.
func (c *Conversation) MutedBy(userID string) bool {
	if c.Participant1 == userID {
		return c.MutedBy1
	}
	return c.MutedBy2
}

// Attachment is an opaque reference to an uploaded file. The bytes live in
// external object storage; only the reference, MIME type and size are carried.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Message is immutable once created except for the read flag, which only
// transitions false to true.
type Message struct {
	MessageID      string       `json:"messageId"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Body           string       `json:"body"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Read           bool         `json:"isRead"`
	CreationTime   time.Time    `json:"creationTime"`
}

// ConversationSummary is a conversation decorated with the derived fields the
// conversation list needs: unread count and the latest message.
type ConversationSummary struct {
	Conversation
	UnreadCount int      `json:"unreadCount"`
	LastMessage *Message `json:"lastMessage,omitempty"`
}

// Like is a directional edge from liker to liked. At most one row exists per
// ordered pair.
type Like struct {
	LikerID      string    `json:"likerId"`
	LikedID      string    `json:"likedId"`
	CreationTime time.Time `json:"creationTime"`
}

// Match records mutual interest between two users. Users are stored in
// lexicographic order; the row is created exactly once per unordered pair.
type Match struct {
	MatchID        string    `json:"matchId"`
	User1          string    `json:"user1Id"`
	User2          string    `json:"user2Id"`
	ConversationID string    `json:"conversationId"`
	CreationTime   time.Time `json:"creationTime"`
}

// HasUser reports whether userID is one of the matched users.
func (m *Match) HasUser(userID string) bool {
	return m.User1 == userID || m.User2 == userID
}

// Other returns the matched user that is not userID.
func (m *Match) Other(userID string) string {
	if m.User1 == userID {
		return m.User2
	}
	return m.User1
}

// LikeResult is returned by the like operation. Matched is true when the like
// completed a mutual pair; Match is set in that case regardless of which
// side's call won the creation race.
type LikeResult struct {
	Like    *Like  `json:"like"`
	Matched bool   `json:"matched"`
	Match   *Match `json:"match,omitempty"`
}

// OrderPair returns the two IDs in lexicographic order. Conversation and
// match rows store the pair in this canonical order for the uniqueness
// constraint.
func OrderPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
