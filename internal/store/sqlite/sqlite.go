// Package sqlite is the local-development and test implementation of the
// store. It relies on the same uniqueness constraints as the postgres
// driver; only placeholder style and timestamp handling differ.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/roomly/connect/internal/model"
	"github.com/roomly/connect/internal/store"
)

// Open opens (or creates) a SQLite database file and applies the schema.
// Use ":memory:" style paths only for single-connection scenarios; file
// paths are safe for the pooled database/sql usage below.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Serialized writes; the store's critical sections are short.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB wires a store over an existing connection (used by tests).
func NewWithDB(db *sql.DB) store.Store { return &sqliteStore{db: db} }

// New opens path and returns a ready store.
func New(path string) (store.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db), nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            conversation_id  TEXT PRIMARY KEY,
            participant1     TEXT NOT NULL,
            participant2     TEXT NOT NULL,
            listing_id       TEXT NOT NULL DEFAULT '',
            is_archived_by_1 INTEGER NOT NULL DEFAULT 0,
            is_archived_by_2 INTEGER NOT NULL DEFAULT 0,
            is_muted_by_1    INTEGER NOT NULL DEFAULT 0,
            is_muted_by_2    INTEGER NOT NULL DEFAULT 0,
            created_at       DATETIME NOT NULL,
            last_message_at  DATETIME NOT NULL,
            CHECK (participant1 < participant2),
            UNIQUE (participant1, participant2, listing_id)
        )`,
		`CREATE TABLE IF NOT EXISTS messages (
            seq              INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id       TEXT NOT NULL UNIQUE,
            conversation_id  TEXT NOT NULL REFERENCES conversations(conversation_id),
            sender_id        TEXT NOT NULL,
            body             TEXT NOT NULL,
            attachments      TEXT,
            is_read          INTEGER NOT NULL DEFAULT 0,
            idempotency_key  TEXT,
            created_at       DATETIME NOT NULL,
            UNIQUE (conversation_id, idempotency_key)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages (conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS likes (
            liker_id   TEXT NOT NULL,
            liked_id   TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            PRIMARY KEY (liker_id, liked_id)
        )`,
		`CREATE TABLE IF NOT EXISTS matches (
            match_id        TEXT PRIMARY KEY,
            user1           TEXT NOT NULL,
            user2           TEXT NOT NULL,
            conversation_id TEXT NOT NULL,
            created_at      DATETIME NOT NULL,
            CHECK (user1 < user2),
            UNIQUE (user1, user2)
        )`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Conversations() store.Conversations { return &conversations{db: s.db} }
func (s *sqliteStore) Messages() store.Messages           { return &messages{db: s.db} }
func (s *sqliteStore) Likes() store.Likes                 { return &likes{db: s.db} }
func (s *sqliteStore) Matches() store.Matches             { return &matches{db: s.db} }

func (s *sqliteStore) Ping(ctx context.Context) error { return wrapErr(s.db.PingContext(ctx)) }

// wrapErr marks driver failures as retryable so the API layer answers 503
// instead of a generic 500. sql.ErrNoRows and errors already carrying a
// domain sentinel pass through untouched; row absence and constraint
// outcomes are domain results, not outages.
func wrapErr(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	for _, sentinel := range []error{model.ErrNotFound, model.ErrValidation, model.ErrConflict, model.ErrUnavailable} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", model.ErrUnavailable, err)
}

func listingKey(listingID *string) string {
	if listingID == nil {
		return ""
	}
	return *listingID
}

func listingPtr(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

// --- Conversations ---

type conversations struct{ db *sql.DB }

const convColumns = `conversation_id, participant1, participant2, listing_id,
        is_archived_by_1, is_archived_by_2, is_muted_by_1, is_muted_by_2,
        created_at, last_message_at`

func scanConversation(row interface{ Scan(...any) error }) (*model.Conversation, error) {
	var c model.Conversation
	var listing string
	if err := row.Scan(&c.ConversationID, &c.Participant1, &c.Participant2, &listing,
		&c.ArchivedBy1, &c.ArchivedBy2, &c.MutedBy1, &c.MutedBy2,
		&c.CreationTime, &c.LastMessageAt); err != nil {
		return nil, wrapErr(err)
	}
	c.ListingID = listingPtr(listing)
	return &c, nil
}

func (c *conversations) GetOrCreate(ctx context.Context, userA, userB string, listingID *string) (*model.Conversation, bool, error) {
	if userA == userB {
		return nil, false, fmt.Errorf("conversation requires two distinct users: %w", model.ErrValidation)
	}
	p1, p2 := model.OrderPair(userA, userB)
	lid := listingKey(listingID)
	now := time.Now().UTC()

	res, err := c.db.ExecContext(ctx, `
        INSERT INTO conversations (conversation_id, participant1, participant2, listing_id, created_at, last_message_at)
        VALUES (?,?,?,?,?,?)
        ON CONFLICT (participant1, participant2, listing_id) DO NOTHING`,
		uuid.New().String(), p1, p2, lid, now, now)
	if err != nil {
		return nil, false, wrapErr(err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, wrapErr(err)
	}

	row := c.db.QueryRowContext(ctx, `
        SELECT `+convColumns+` FROM conversations
        WHERE participant1=? AND participant2=? AND listing_id=?`, p1, p2, lid)
	out, err := scanConversation(row)
	if err != nil {
		return nil, false, wrapErr(err)
	}
	return out, inserted > 0, nil
}

func (c *conversations) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT `+convColumns+` FROM conversations WHERE conversation_id=?`, conversationID)
	out, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, model.ErrNotFound)
	}
	return out, err
}

func (c *conversations) ListByUser(ctx context.Context, userID string) ([]*model.ConversationSummary, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT `+convColumns+`,
               (SELECT COUNT(*) FROM messages m
                 WHERE m.conversation_id = c.conversation_id
                   AND m.is_read = 0 AND m.sender_id <> ?) AS unread
        FROM conversations c
        WHERE c.participant1 = ? OR c.participant2 = ?
        ORDER BY c.last_message_at DESC`, userID, userID, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*model.ConversationSummary
	for rows.Next() {
		var s model.ConversationSummary
		var listing string
		if err := rows.Scan(&s.ConversationID, &s.Participant1, &s.Participant2, &listing,
			&s.ArchivedBy1, &s.ArchivedBy2, &s.MutedBy1, &s.MutedBy2,
			&s.CreationTime, &s.LastMessageAt, &s.UnreadCount); err != nil {
			return nil, wrapErr(err)
		}
		s.ListingID = listingPtr(listing)
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}

	// Last message per conversation, fetched separately (no LATERAL here).
	msgs := &messages{db: c.db}
	for _, s := range out {
		last, err := msgs.last(ctx, s.ConversationID)
		if err != nil {
			return nil, wrapErr(err)
		}
		s.LastMessage = last
	}
	return out, nil
}

func (c *conversations) ExistsBetween(ctx context.Context, userA, userB string) (bool, error) {
	p1, p2 := model.OrderPair(userA, userB)
	var one int
	row := c.db.QueryRowContext(ctx, `
        SELECT 1 FROM conversations WHERE participant1=? AND participant2=? LIMIT 1`, p1, p2)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, wrapErr(err)
	}
	return true, nil
}

func (c *conversations) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	return c.setFlag(ctx, conversationID, userID, "is_archived_by_1", "is_archived_by_2", archived)
}

func (c *conversations) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	return c.setFlag(ctx, conversationID, userID, "is_muted_by_1", "is_muted_by_2", muted)
}

func (c *conversations) setFlag(ctx context.Context, conversationID, userID, col1, col2 string, v bool) error {
	res, err := c.db.ExecContext(ctx, `
        UPDATE conversations SET
            `+col1+` = CASE WHEN participant1 = ?2 THEN ?3 ELSE `+col1+` END,
            `+col2+` = CASE WHEN participant2 = ?2 THEN ?3 ELSE `+col2+` END
        WHERE conversation_id = ?1 AND (participant1 = ?2 OR participant2 = ?2)`,
		conversationID, userID, v)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if n == 0 {
		return fmt.Errorf("conversation %s for user %s: %w", conversationID, userID, model.ErrNotFound)
	}
	return nil
}

// --- Messages ---

type messages struct{ db *sql.DB }

const msgColumns = `message_id, conversation_id, sender_id, body, attachments, is_read, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var out model.Message
	var attachments sql.NullString
	if err := row.Scan(&out.MessageID, &out.ConversationID, &out.SenderID, &out.Body,
		&attachments, &out.Read, &out.CreationTime); err != nil {
		return nil, wrapErr(err)
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &out.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return &out, nil
}

func (m *messages) Create(ctx context.Context, msg *model.Message, idempotencyKey *string) (*model.Message, bool, error) {
	var attachments any
	if len(msg.Attachments) > 0 {
		raw, err := json.Marshal(msg.Attachments)
		if err != nil {
			return nil, false, fmt.Errorf("encode attachments: %w", err)
		}
		attachments = string(raw)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	id := msg.MessageID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO messages (message_id, conversation_id, sender_id, body, attachments, idempotency_key, created_at)
        VALUES (?,?,?,?,?,?,?)
        ON CONFLICT (conversation_id, idempotency_key) DO NOTHING`,
		id, msg.ConversationID, msg.SenderID, msg.Body, attachments, idempotencyKey, now)
	if err != nil {
		return nil, false, wrapErr(err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, wrapErr(err)
	}
	if inserted == 0 {
		if idempotencyKey == nil {
			return nil, false, fmt.Errorf("message insert conflict without idempotency key: %w", model.ErrConflict)
		}
		row := tx.QueryRowContext(ctx, `
            SELECT `+msgColumns+` FROM messages
            WHERE conversation_id=? AND idempotency_key=?`, msg.ConversationID, *idempotencyKey)
		existing, err := scanMessage(row)
		if err != nil {
			return nil, false, wrapErr(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, wrapErr(err)
		}
		return existing, false, nil
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE conversations SET last_message_at = ? WHERE conversation_id = ?`,
		now, msg.ConversationID); err != nil {
		return nil, false, wrapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, wrapErr(err)
	}

	out := *msg
	out.MessageID = id
	out.Read = false
	out.CreationTime = now
	return &out, true, nil
}

func (m *messages) last(ctx context.Context, conversationID string) (*model.Message, error) {
	row := m.db.QueryRowContext(ctx, `
        SELECT `+msgColumns+` FROM messages
        WHERE conversation_id=? ORDER BY seq DESC LIMIT 1`, conversationID)
	out, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return out, err
}

func (m *messages) List(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT `+msgColumns+` FROM messages
        WHERE conversation_id=? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, msg)
	}
	return out, wrapErr(rows.Err())
}

func (m *messages) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
        UPDATE messages SET is_read = 1
        WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0`,
		conversationID, readerID)
	if err != nil {
		return 0, wrapErr(err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr(err)
}

// --- Likes ---

type likes struct{ db *sql.DB }

func (l *likes) Create(ctx context.Context, likerID, likedID string) (*model.Like, bool, error) {
	now := time.Now().UTC()
	res, err := l.db.ExecContext(ctx, `
        INSERT INTO likes (liker_id, liked_id, created_at) VALUES (?,?,?)
        ON CONFLICT (liker_id, liked_id) DO NOTHING`, likerID, likedID, now)
	if err != nil {
		return nil, false, wrapErr(err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, wrapErr(err)
	}

	var created time.Time
	row := l.db.QueryRowContext(ctx, `
        SELECT created_at FROM likes WHERE liker_id=? AND liked_id=?`, likerID, likedID)
	if err := row.Scan(&created); err != nil {
		return nil, false, wrapErr(err)
	}
	return &model.Like{LikerID: likerID, LikedID: likedID, CreationTime: created}, inserted > 0, nil
}

func (l *likes) Delete(ctx context.Context, likerID, likedID string) error {
	_, err := l.db.ExecContext(ctx, `
        DELETE FROM likes WHERE liker_id=? AND liked_id=?`, likerID, likedID)
	return wrapErr(err)
}

func (l *likes) Exists(ctx context.Context, likerID, likedID string) (bool, error) {
	var one int
	row := l.db.QueryRowContext(ctx, `
        SELECT 1 FROM likes WHERE liker_id=? AND liked_id=?`, likerID, likedID)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, wrapErr(err)
	}
	return true, nil
}

func (l *likes) ListByLiker(ctx context.Context, likerID string) ([]*model.Like, error) {
	rows, err := l.db.QueryContext(ctx, `
        SELECT liker_id, liked_id, created_at FROM likes
        WHERE liker_id=? ORDER BY created_at DESC`, likerID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*model.Like
	for rows.Next() {
		var lk model.Like
		if err := rows.Scan(&lk.LikerID, &lk.LikedID, &lk.CreationTime); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, &lk)
	}
	return out, wrapErr(rows.Err())
}

// --- Matches ---

type matches struct{ db *sql.DB }

const matchColumns = `match_id, user1, user2, conversation_id, created_at`

func scanMatch(row interface{ Scan(...any) error }) (*model.Match, error) {
	var out model.Match
	if err := row.Scan(&out.MatchID, &out.User1, &out.User2, &out.ConversationID, &out.CreationTime); err != nil {
		return nil, wrapErr(err)
	}
	return &out, nil
}

func (m *matches) Create(ctx context.Context, mt *model.Match) (*model.Match, bool, error) {
	u1, u2 := model.OrderPair(mt.User1, mt.User2)
	id := mt.MatchID
	if id == "" {
		id = uuid.New().String()
	}
	res, err := m.db.ExecContext(ctx, `
        INSERT INTO matches (match_id, user1, user2, conversation_id, created_at)
        VALUES (?,?,?,?,?)
        ON CONFLICT (user1, user2) DO NOTHING`,
		id, u1, u2, mt.ConversationID, time.Now().UTC())
	if err != nil {
		return nil, false, wrapErr(err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, wrapErr(err)
	}

	out, err := m.GetByPair(ctx, u1, u2)
	if err != nil {
		return nil, false, wrapErr(err)
	}
	return out, inserted > 0, nil
}

func (m *matches) GetByPair(ctx context.Context, userA, userB string) (*model.Match, error) {
	u1, u2 := model.OrderPair(userA, userB)
	row := m.db.QueryRowContext(ctx, `
        SELECT `+matchColumns+` FROM matches WHERE user1=? AND user2=?`, u1, u2)
	out, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s/%s: %w", u1, u2, model.ErrNotFound)
	}
	return out, err
}

func (m *matches) ListByUser(ctx context.Context, userID string) ([]*model.Match, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT `+matchColumns+` FROM matches
        WHERE user1=? OR user2=? ORDER BY created_at DESC`, userID, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*model.Match
	for rows.Next() {
		mt, err := scanMatch(rows)
		if err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, mt)
	}
	return out, wrapErr(rows.Err())
}
