package jobs

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusSkipped
}

var (
	ErrNotFound   = errors.New("job not found")
	ErrNotPending = errors.New("job is not pending")
)

const DefaultMaxRetries = 3

// Job is one delivery attempt series for a reminder firing
type Job struct {
	ID           string
	UserID       string
	ReminderType string
	ScheduledAt  time.Time
	Status       Status
	RetryCount   int
	MaxRetries   int
	Message      string
	Channel      string
	ErrorMessage string
	SentAt       time.Time
	ClaimedAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
