package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultClaimTTL is how long a claimed job stays invisible to other drains.
// A worker that dies mid-batch releases its jobs after this.
const DefaultClaimTTL = 10 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS notification_jobs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    reminder_type TEXT NOT NULL,
    scheduled_at INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    message TEXT NOT NULL DEFAULT '',
    channel TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    sent_at INTEGER,
    claimed_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (user_id, reminder_type, scheduled_at)
);

CREATE INDEX IF NOT EXISTS idx_jobs_pending ON notification_jobs(status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON notification_jobs(user_id, reminder_type, scheduled_at);
`

const columns = `id, user_id, reminder_type, scheduled_at, status, retry_count, max_retries,
	message, channel, error_message, sent_at, claimed_at, created_at, updated_at`

// Store is the persistent notification queue
type Store struct {
	db       *sql.DB
	now      func() time.Time
	claimTTL time.Duration
	loc      *time.Location
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithClaimTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.claimTTL = d
		}
	}
}

// WithLocation sets the zone timestamps are returned in. Times are stored
// as unix nanoseconds and otherwise come back in time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create jobs schema: %w", err)
	}

	s := &Store{db: db, now: time.Now, claimTTL: DefaultClaimTTL, loc: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnqueueOnce creates a pending job unless the same user and reminder type
// already has a job scheduled within window of scheduledAt. It reports
// whether a new job was created.
func (s *Store) EnqueueOnce(ctx context.Context, userID, reminderType string, scheduledAt time.Time, maxRetries int, window time.Duration) (*Job, bool, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	existing, err := scanJob(tx.QueryRowContext(ctx, `
		SELECT `+columns+` FROM notification_jobs
		WHERE user_id = ? AND reminder_type = ? AND scheduled_at > ? AND scheduled_at < ?
		ORDER BY scheduled_at LIMIT 1`,
		userID, reminderType, scheduledAt.Add(-window).UnixNano(), scheduledAt.Add(window).UnixNano()), s.loc)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	now := s.now()
	job := &Job{
		ID:           uuid.NewString(),
		UserID:       userID,
		ReminderType: reminderType,
		ScheduledAt:  scheduledAt.In(s.loc),
		Status:       StatusPending,
		MaxRetries:   maxRetries,
		CreatedAt:    now.In(s.loc),
		UpdatedAt:    now.In(s.loc),
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO notification_jobs (id, user_id, reminder_type, scheduled_at, status, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, reminder_type, scheduled_at) DO NOTHING`,
		job.ID, userID, reminderType, scheduledAt.UnixNano(), string(StatusPending), maxRetries, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// an exact duplicate of scheduled_at falls outside the open window
		existing, err := scanJob(tx.QueryRowContext(ctx, `
			SELECT `+columns+` FROM notification_jobs
			WHERE user_id = ? AND reminder_type = ? AND scheduled_at = ?`,
			userID, reminderType, scheduledAt.UnixNano()), s.loc)
		if err != nil {
			return nil, false, fmt.Errorf("load conflicting job: %w", err)
		}
		return existing, false, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// ClaimPending atomically claims up to limit pending jobs scheduled before
// dueBefore, oldest first. Claimed jobs are hidden from other claims until
// they transition or the claim expires.
func (s *Store) ClaimPending(ctx context.Context, limit int, dueBefore time.Time) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE notification_jobs SET claimed_at = ?
		WHERE id IN (
			SELECT id FROM notification_jobs
			WHERE status = 'pending'
			  AND retry_count < max_retries
			  AND scheduled_at < ?
			  AND (claimed_at IS NULL OR claimed_at < ?)
			ORDER BY scheduled_at ASC, created_at ASC
			LIMIT ?
		)
		RETURNING `+columns,
		now.UnixNano(), dueBefore.UnixNano(), now.Add(-s.claimTTL).UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows, s.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) MarkSent(ctx context.Context, id, channel, message string) error {
	now := s.now()
	return s.transition(ctx, id, `
		UPDATE notification_jobs
		SET status = 'sent', channel = ?, message = ?, sent_at = ?, error_message = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		channel, message, now.UnixNano(), now.UnixNano(), id)
}

// MarkSkipped resolves a job that should no longer be delivered
func (s *Store) MarkSkipped(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, `
		UPDATE notification_jobs
		SET status = 'skipped', error_message = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		reason, s.now().UnixNano(), id)
}

// MarkFailed fails a job permanently without consuming retries
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, `
		UPDATE notification_jobs
		SET status = 'failed', error_message = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		reason, s.now().UnixNano(), id)
}

// RecordFailure counts a failed delivery attempt. The job fails once
// retry_count reaches max_retries; otherwise it is released for the next drain.
func (s *Store) RecordFailure(ctx context.Context, id, reason string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE notification_jobs
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
		    error_message = ?,
		    claimed_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING `+columns,
		reason, s.now().UnixNano(), id), s.loc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missingOrNotPending(ctx, id)
	}
	return j, err
}

func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM notification_jobs WHERE id = ?`, id), s.loc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, err
}

// ListForUser returns a user's most recent jobs, newest first
func (s *Store) ListForUser(ctx context.Context, userID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `SELECT `+columns+` FROM notification_jobs
		WHERE user_id = ? ORDER BY scheduled_at DESC LIMIT ?`, userID, limit)
}

// TerminalBefore returns finished jobs last updated before cutoff
func (s *Store) TerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.query(ctx, `SELECT `+columns+` FROM notification_jobs
		WHERE status IN ('sent', 'failed', 'skipped') AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`, cutoff.UnixNano(), limit)
}

// Delete removes jobs by id and returns the number removed
func (s *Store) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_jobs WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeTerminal deletes finished jobs last updated before cutoff
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notification_jobs
		WHERE status IN ('sent', 'failed', 'skipped') AND updated_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of jobs in each status
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM notification_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

func (s *Store) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrNotPending(ctx, id)
	}
	return nil
}

func (s *Store) missingOrNotPending(ctx context.Context, id string) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrNotPending, id, j.Status)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows, s.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner, loc *time.Location) (*Job, error) {
	var j Job
	var status string
	var scheduledAt, createdAt, updatedAt int64
	var sentAt, claimedAt sql.NullInt64

	err := row.Scan(&j.ID, &j.UserID, &j.ReminderType, &scheduledAt, &status, &j.RetryCount, &j.MaxRetries,
		&j.Message, &j.Channel, &j.ErrorMessage, &sentAt, &claimedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	j.Status = Status(status)
	j.ScheduledAt = time.Unix(0, scheduledAt).In(loc)
	j.CreatedAt = time.Unix(0, createdAt).In(loc)
	j.UpdatedAt = time.Unix(0, updatedAt).In(loc)
	if sentAt.Valid {
		j.SentAt = time.Unix(0, sentAt.Int64).In(loc)
	}
	if claimedAt.Valid {
		j.ClaimedAt = time.Unix(0, claimedAt.Int64).In(loc)
	}

	return &j, nil
}
