package reminder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bowerhall/nudge/internal/rules"
)

var ErrNotFound = errors.New("reminder not found")

// Setting is one user's configuration for one reminder type. A setting with
// IntervalMinutes > 0 repeats from TimeOfDay until midnight.
type Setting struct {
	UserID          string
	ReminderType    string
	Enabled         bool
	TimeOfDay       string // "HH:MM" in the scheduler's location
	WeekdaysOnly    bool
	IntervalMinutes int
	Message         string
	UpdatedAt       time.Time
}

// Clock returns TimeOfDay as an offset from midnight
func (s Setting) Clock() (time.Duration, error) {
	return rules.ParseClock(s.TimeOfDay)
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS reminder_settings (
    user_id TEXT NOT NULL,
    reminder_type TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    time_of_day TEXT NOT NULL,
    weekdays_only INTEGER NOT NULL DEFAULT 0,
    interval_minutes INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, reminder_type)
);

CREATE INDEX IF NOT EXISTS idx_reminder_enabled ON reminder_settings(enabled);
`

func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create reminder schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Upsert validates and saves a setting
func (s *Store) Upsert(ctx context.Context, r *Setting) error {
	if r.UserID == "" || r.ReminderType == "" {
		return fmt.Errorf("user id and reminder type are required")
	}
	if _, err := r.Clock(); err != nil {
		return err
	}
	if r.IntervalMinutes < 0 {
		return fmt.Errorf("interval must not be negative: %d", r.IntervalMinutes)
	}
	r.UpdatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_settings (user_id, reminder_type, enabled, time_of_day, weekdays_only, interval_minutes, message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, reminder_type) DO UPDATE SET
			enabled = excluded.enabled,
			time_of_day = excluded.time_of_day,
			weekdays_only = excluded.weekdays_only,
			interval_minutes = excluded.interval_minutes,
			message = excluded.message,
			updated_at = excluded.updated_at`,
		r.UserID, r.ReminderType, r.Enabled, r.TimeOfDay, r.WeekdaysOnly, r.IntervalMinutes, r.Message, r.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *Store) Get(ctx context.Context, userID, reminderType string) (*Setting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, reminder_type, enabled, time_of_day, weekdays_only, interval_minutes, message, updated_at
		FROM reminder_settings WHERE user_id = ? AND reminder_type = ?`, userID, reminderType)

	r, err := scanSetting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, userID, reminderType)
	}
	return r, err
}

// ListEnabled returns every enabled setting across users
func (s *Store) ListEnabled(ctx context.Context) ([]*Setting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, reminder_type, enabled, time_of_day, weekdays_only, interval_minutes, message, updated_at
		FROM reminder_settings WHERE enabled = 1
		ORDER BY user_id, reminder_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Setting
	for rows.Next() {
		r, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SetEnabled(ctx context.Context, userID, reminderType string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminder_settings SET enabled = ?, updated_at = ?
		WHERE user_id = ? AND reminder_type = ?`,
		enabled, s.now().UnixNano(), userID, reminderType)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, userID, reminderType)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, reminderType string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminder_settings WHERE user_id = ? AND reminder_type = ?`, userID, reminderType)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSetting(row scanner) (*Setting, error) {
	var r Setting
	var updatedAt int64
	if err := row.Scan(&r.UserID, &r.ReminderType, &r.Enabled, &r.TimeOfDay, &r.WeekdaysOnly,
		&r.IntervalMinutes, &r.Message, &updatedAt); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Unix(0, updatedAt)
	return &r, nil
}
