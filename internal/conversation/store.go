package conversation

import (
	"context"
	"database/sql"
	"time"
)

const defaultMaxMessages = 50

type Message struct {
	UserID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store is the per-user conversation history the decision engine scans for
// life events. Only the newest maxMessages per user are kept.
type Store struct {
	db          *sql.DB
	maxMessages int
	loc         *time.Location
}

type Option func(*Store)

// WithLocation sets the zone message timestamps are returned in
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation_messages(user_id, created_at DESC);
`

// NewStore creates a conversation store using the provided database connection
func NewStore(db *sql.DB, maxMessages int, opts ...Option) (*Store, error) {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	s := &Store{db: db, maxMessages: maxMessages, loc: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Add(ctx context.Context, userID, role, content string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, role, content, at.UnixNano(),
	)
	if err != nil {
		return err
	}

	// trim to max messages (FIFO)
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM conversation_messages
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM conversation_messages
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)`, userID, userID, s.maxMessages)

	return err
}

// Recent returns a user's messages created at or after since, oldest first,
// capped at limit (the store maximum when limit <= 0)
func (s *Store) Recent(ctx context.Context, userID string, since time.Time, limit int) ([]Message, error) {
	if limit <= 0 || limit > s.maxMessages {
		limit = s.maxMessages
	}
	var sinceNanos int64
	if !since.IsZero() {
		sinceNanos = since.UnixNano()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at
			FROM conversation_messages
			WHERE user_id = ? AND created_at >= ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC`, userID, sinceNanos, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.UserID = userID
		m.CreatedAt = time.Unix(0, createdAt).In(s.loc)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (s *Store) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE user_id = ?`, userID)
	return err
}
