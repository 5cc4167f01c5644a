package channel

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bowerhall/nudge/internal/profile"
)

const InAppName = "inapp"

// Recipients resolves the delivery addresses of a user
type Recipients interface {
	Get(ctx context.Context, userID string) (*profile.Profile, error)
}

// InboxItem is a notification waiting in the in-app inbox
type InboxItem struct {
	ID           string
	UserID       string
	ReminderType string
	Content      string
	CreatedAt    time.Time
	ReadAt       time.Time
}

// InApp stores notifications in an inbox table the app reads from.
// It is available for every known user.
type InApp struct {
	db         *sql.DB
	recipients Recipients
	now        func() time.Time
}

const inboxSchema = `
CREATE TABLE IF NOT EXISTS inbox_messages (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    reminder_type TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    read_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_inbox_user ON inbox_messages(user_id, created_at DESC);
`

func NewInApp(db *sql.DB, recipients Recipients) (*InApp, error) {
	if _, err := db.Exec(inboxSchema); err != nil {
		return nil, fmt.Errorf("create inbox schema: %w", err)
	}
	return &InApp{db: db, recipients: recipients, now: time.Now}, nil
}

func (c *InApp) Name() string { return InAppName }

func (c *InApp) CheckAvailable(ctx context.Context, userID string) bool {
	if c.recipients == nil {
		return userID != ""
	}
	_, err := c.recipients.Get(ctx, userID)
	return err == nil
}

func (c *InApp) Send(ctx context.Context, userID string, msg Message) (string, error) {
	id := uuid.NewString()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO inbox_messages (id, user_id, reminder_type, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, userID, msg.ReminderType, msg.Content, c.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("write inbox: %w", err)
	}
	return id, nil
}

// SendBatch writes all deliveries in one transaction
func (c *InApp) SendBatch(ctx context.Context, deliveries []Delivery) []Result {
	out := make([]Result, len(deliveries))
	fail := func(err error) []Result {
		for i := range out {
			out[i] = Result{Channel: InAppName, Err: err}
		}
		return out
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback()

	now := c.now().UnixNano()
	for i, d := range deliveries {
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inbox_messages (id, user_id, reminder_type, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			id, d.UserID, d.Message.ReminderType, d.Message.Content, now); err != nil {
			return fail(fmt.Errorf("write inbox: %w", err))
		}
		out[i] = Result{Success: true, Channel: InAppName, MessageID: id}
	}

	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return out
}

// Inbox returns a user's newest messages first
func (c *InApp) Inbox(ctx context.Context, userID string, limit int) ([]InboxItem, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, reminder_type, content, created_at, read_at
		FROM inbox_messages WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InboxItem
	for rows.Next() {
		var item InboxItem
		var createdAt int64
		var readAt sql.NullInt64
		if err := rows.Scan(&item.ID, &item.UserID, &item.ReminderType, &item.Content, &createdAt, &readAt); err != nil {
			return nil, err
		}
		item.CreatedAt = time.Unix(0, createdAt)
		if readAt.Valid {
			item.ReadAt = time.Unix(0, readAt.Int64)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (c *InApp) MarkRead(ctx context.Context, userID, id string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE inbox_messages SET read_at = ? WHERE id = ? AND user_id = ? AND read_at IS NULL`,
		c.now().UnixNano(), id, userID)
	return err
}
