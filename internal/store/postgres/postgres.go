package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/roomly/connect/internal/model"
	"github.com/roomly/connect/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and
// verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Conversations() store.Conversations { return &conversations{db: s.db} }
func (s *pgStore) Messages() store.Messages           { return &messages{db: s.db} }
func (s *pgStore) Likes() store.Likes                 { return &likes{db: s.db} }
func (s *pgStore) Matches() store.Matches             { return &matches{db: s.db} }

func (s *pgStore) Ping(ctx context.Context) error {
	return wrapErr(s.db.PingContext(ctx))
}

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

// EnsureSchema creates the tables and constraints the store relies on. The
// pair and idempotency uniqueness constraints are load-bearing: the
// insert-if-absent paths below depend on them.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            conversation_id  UUID PRIMARY KEY,
            participant1     TEXT NOT NULL,
            participant2     TEXT NOT NULL,
            listing_id       TEXT NOT NULL DEFAULT '',
            is_archived_by_1 BOOLEAN NOT NULL DEFAULT FALSE,
            is_archived_by_2 BOOLEAN NOT NULL DEFAULT FALSE,
            is_muted_by_1    BOOLEAN NOT NULL DEFAULT FALSE,
            is_muted_by_2    BOOLEAN NOT NULL DEFAULT FALSE,
            created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
            last_message_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
            CHECK (participant1 < participant2),
            UNIQUE (participant1, participant2, listing_id)
        )`,
		`CREATE TABLE IF NOT EXISTS messages (
            seq              BIGSERIAL PRIMARY KEY,
            message_id       UUID NOT NULL UNIQUE,
            conversation_id  UUID NOT NULL REFERENCES conversations(conversation_id),
            sender_id        TEXT NOT NULL,
            body             TEXT NOT NULL,
            attachments      JSONB,
            is_read          BOOLEAN NOT NULL DEFAULT FALSE,
            idempotency_key  TEXT,
            created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (conversation_id, idempotency_key)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages (conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS likes (
            liker_id   TEXT NOT NULL,
            liked_id   TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (liker_id, liked_id)
        )`,
		`CREATE TABLE IF NOT EXISTS matches (
            match_id        UUID PRIMARY KEY,
            user1           TEXT NOT NULL,
            user2           TEXT NOT NULL,
            conversation_id UUID NOT NULL,
            created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
            CHECK (user1 < user2),
            UNIQUE (user1, user2)
        )`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// listingKey maps the optional listing scope onto the non-null column used
// by the uniqueness constraint ('' means no listing).
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

	row := c.db.QueryRowContext(ctx, `
        INSERT INTO conversations (conversation_id, participant1, participant2, listing_id)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (participant1, participant2, listing_id) DO NOTHING
        RETURNING `+convColumns, uuid.New().String(), p1, p2, lid)
	out, err := scanConversation(row)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, wrapErr(err)
	}

	// Lost the insert race or the row predates this call; either way the
	// unique constraint guarantees it exists now.
	row = c.db.QueryRowContext(ctx, `
        SELECT `+convColumns+` FROM conversations
        WHERE participant1=$1 AND participant2=$2 AND listing_id=$3`, p1, p2, lid)
	out, err = scanConversation(row)
	if err != nil {
		return nil, false, wrapErr(err)
	}
	return out, false, nil
}

func (c *conversations) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT `+convColumns+` FROM conversations WHERE conversation_id=$1`, conversationID)
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
                   AND m.is_read = FALSE AND m.sender_id <> $1) AS unread,
               lm.message_id, lm.sender_id, lm.body, lm.attachments, lm.is_read, lm.created_at
        FROM conversations c
        LEFT JOIN LATERAL (
            SELECT message_id, sender_id, body, attachments, is_read, created_at
            FROM messages m WHERE m.conversation_id = c.conversation_id
            ORDER BY m.seq DESC LIMIT 1
        ) lm ON TRUE
        WHERE c.participant1 = $1 OR c.participant2 = $1
        ORDER BY c.last_message_at DESC`, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*model.ConversationSummary
	for rows.Next() {
		var s model.ConversationSummary
		var listing string
		var lmID, lmSender, lmBody sql.NullString
		var lmAttachments []byte
		var lmRead sql.NullBool
		var lmCreated sql.NullTime
		if err := rows.Scan(&s.ConversationID, &s.Participant1, &s.Participant2, &listing,
			&s.ArchivedBy1, &s.ArchivedBy2, &s.MutedBy1, &s.MutedBy2,
			&s.CreationTime, &s.LastMessageAt, &s.UnreadCount,
			&lmID, &lmSender, &lmBody, &lmAttachments, &lmRead, &lmCreated); err != nil {
			return nil, wrapErr(err)
		}
		s.ListingID = listingPtr(listing)
		if lmID.Valid {
			msg := &model.Message{
				MessageID:      lmID.String,
				ConversationID: s.ConversationID,
				SenderID:       lmSender.String,
				Body:           lmBody.String,
				Read:           lmRead.Bool,
				CreationTime:   lmCreated.Time,
			}
			if len(lmAttachments) > 0 {
				if err := json.Unmarshal(lmAttachments, &msg.Attachments); err != nil {
					return nil, fmt.Errorf("decode attachments: %w", err)
				}
			}
			s.LastMessage = msg
		}
		out = append(out, &s)
	}
	return out, wrapErr(rows.Err())
}

func (c *conversations) ExistsBetween(ctx context.Context, userA, userB string) (bool, error) {
	p1, p2 := model.OrderPair(userA, userB)
	var one int
	row := c.db.QueryRowContext(ctx, `
        SELECT 1 FROM conversations WHERE participant1=$1 AND participant2=$2 LIMIT 1`, p1, p2)
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

// setFlag updates the column owned by userID's side of the pair.
func (c *conversations) setFlag(ctx context.Context, conversationID, userID, col1, col2 string, v bool) error {
	res, err := c.db.ExecContext(ctx, `
        UPDATE conversations SET
            `+col1+` = CASE WHEN participant1 = $2 THEN $3 ELSE `+col1+` END,
            `+col2+` = CASE WHEN participant2 = $2 THEN $3 ELSE `+col2+` END
        WHERE conversation_id = $1 AND (participant1 = $2 OR participant2 = $2)`,
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

func (m *messages) Create(ctx context.Context, msg *model.Message, idempotencyKey *string) (*model.Message, bool, error) {
	attachments, err := encodeAttachments(msg.Attachments)
	if err != nil {
		return nil, false, fmt.Errorf("encode attachments: %w", err)
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
	var created time.Time
	row := tx.QueryRowContext(ctx, `
        INSERT INTO messages (message_id, conversation_id, sender_id, body, attachments, idempotency_key)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (conversation_id, idempotency_key) DO NOTHING
        RETURNING created_at`,
		id, msg.ConversationID, msg.SenderID, msg.Body, attachments, idempotencyKey)
	if err := row.Scan(&created); err != nil {
		if !errors.Is(err, sql.ErrNoRows) || idempotencyKey == nil {
			return nil, false, wrapErr(err)
		}
		// Retried send: return the message originally stored for this key.
		existing, err := m.getByKey(ctx, tx, msg.ConversationID, *idempotencyKey)
		if err != nil {
			return nil, false, wrapErr(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, wrapErr(err)
		}
		return existing, false, nil
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE conversations SET last_message_at = $2 WHERE conversation_id = $1`,
		msg.ConversationID, created); err != nil {
		return nil, false, wrapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, wrapErr(err)
	}

	out := *msg
	out.MessageID = id
	out.Read = false
	out.CreationTime = created
	return &out, true, nil
}

func (m *messages) getByKey(ctx context.Context, tx *sql.Tx, conversationID, key string) (*model.Message, error) {
	row := tx.QueryRowContext(ctx, `
        SELECT message_id, conversation_id, sender_id, body, attachments, is_read, created_at
        FROM messages WHERE conversation_id=$1 AND idempotency_key=$2`, conversationID, key)
	return scanMessage(row)
}

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var out model.Message
	var attachments []byte
	if err := row.Scan(&out.MessageID, &out.ConversationID, &out.SenderID, &out.Body,
		&attachments, &out.Read, &out.CreationTime); err != nil {
		return nil, wrapErr(err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &out.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return &out, nil
}

func encodeAttachments(atts []model.Attachment) ([]byte, error) {
	if len(atts) == 0 {
		return nil, nil
	}
	return json.Marshal(atts)
}

func (m *messages) List(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT message_id, conversation_id, sender_id, body, attachments, is_read, created_at
        FROM messages WHERE conversation_id=$1 ORDER BY seq ASC`, conversationID)
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
        UPDATE messages SET is_read = TRUE
        WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE`,
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
	var created time.Time
	row := l.db.QueryRowContext(ctx, `
        INSERT INTO likes (liker_id, liked_id) VALUES ($1,$2)
        ON CONFLICT (liker_id, liked_id) DO NOTHING
        RETURNING created_at`, likerID, likedID)
	err := row.Scan(&created)
	if err == nil {
		return &model.Like{LikerID: likerID, LikedID: likedID, CreationTime: created}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, wrapErr(err)
	}

	row = l.db.QueryRowContext(ctx, `
        SELECT created_at FROM likes WHERE liker_id=$1 AND liked_id=$2`, likerID, likedID)
	if err := row.Scan(&created); err != nil {
		return nil, false, wrapErr(err)
	}
	return &model.Like{LikerID: likerID, LikedID: likedID, CreationTime: created}, false, nil
}

func (l *likes) Delete(ctx context.Context, likerID, likedID string) error {
	_, err := l.db.ExecContext(ctx, `
        DELETE FROM likes WHERE liker_id=$1 AND liked_id=$2`, likerID, likedID)
	return wrapErr(err)
}

func (l *likes) Exists(ctx context.Context, likerID, likedID string) (bool, error) {
	var one int
	row := l.db.QueryRowContext(ctx, `
        SELECT 1 FROM likes WHERE liker_id=$1 AND liked_id=$2`, likerID, likedID)
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
        WHERE liker_id=$1 ORDER BY created_at DESC`, likerID)
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
	row := m.db.QueryRowContext(ctx, `
        INSERT INTO matches (match_id, user1, user2, conversation_id)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (user1, user2) DO NOTHING
        RETURNING `+matchColumns, id, u1, u2, mt.ConversationID)
	out, err := scanMatch(row)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, wrapErr(err)
	}

	existing, err := m.GetByPair(ctx, u1, u2)
	if err != nil {
		return nil, false, wrapErr(err)
	}
	return existing, false, nil
}

func (m *matches) GetByPair(ctx context.Context, userA, userB string) (*model.Match, error) {
	u1, u2 := model.OrderPair(userA, userB)
	row := m.db.QueryRowContext(ctx, `
        SELECT `+matchColumns+` FROM matches WHERE user1=$1 AND user2=$2`, u1, u2)
	out, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s/%s: %w", u1, u2, model.ErrNotFound)
	}
	return out, err
}

func (m *matches) ListByUser(ctx context.Context, userID string) ([]*model.Match, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT `+matchColumns+` FROM matches
        WHERE user1=$1 OR user2=$1 ORDER BY created_at DESC`, userID)
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
