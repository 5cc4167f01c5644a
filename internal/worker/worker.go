package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bowerhall/nudge/internal/alerts"
	"github.com/bowerhall/nudge/internal/channel"
	"github.com/bowerhall/nudge/internal/decision"
	"github.com/bowerhall/nudge/internal/jobs"
	"github.com/bowerhall/nudge/internal/logger"
	"github.com/bowerhall/nudge/internal/metrics"
	"github.com/bowerhall/nudge/internal/profile"
	"github.com/bowerhall/nudge/internal/reminder"
	"github.com/bowerhall/nudge/internal/render"
)

const (
	DefaultBatchSize = 50
	defaultLookahead = 5 * time.Minute
)

type Queue interface {
	ClaimPending(ctx context.Context, limit int, dueBefore time.Time) ([]*jobs.Job, error)
	MarkSent(ctx context.Context, id, channel, message string) error
	MarkSkipped(ctx context.Context, id, reason string) error
	MarkFailed(ctx context.Context, id, reason string) error
	RecordFailure(ctx context.Context, id, reason string) (*jobs.Job, error)
}

type Profiles interface {
	Get(ctx context.Context, userID string) (*profile.Profile, error)
}

type Reminders interface {
	Get(ctx context.Context, userID, reminderType string) (*reminder.Setting, error)
}

type Renderer interface {
	Render(reminderType, style string, data render.Data) (string, error)
}

type Dispatcher interface {
	SendToUser(ctx context.Context, userID, content, reminderType, preferred string) channel.Result
}

type Decider interface {
	MakeDecision(ctx context.Context, userID, notificationType string, plan *decision.Plan) decision.Result
}

type Config struct {
	BatchSize int
	// Lookahead lets a drain pick up jobs scheduled slightly in the future,
	// matching the scheduler's firing window
	Lookahead time.Duration
}

// Worker drains the notification queue
type Worker struct {
	queue      Queue
	profiles   Profiles
	reminders  Reminders
	renderer   Renderer
	dispatcher Dispatcher
	decider    Decider
	alerter    *alerts.Alerter
	metrics    *metrics.Metrics
	now        func() time.Time

	batchSize int
	lookahead time.Duration
}

type Option func(*Worker)

// WithDecider consults the decision engine before every send
func WithDecider(d Decider) Option {
	return func(w *Worker) { w.decider = d }
}

func WithAlerter(a *alerts.Alerter) Option {
	return func(w *Worker) { w.alerter = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func New(cfg Config, queue Queue, profiles Profiles, reminders Reminders, renderer Renderer, dispatcher Dispatcher, opts ...Option) *Worker {
	w := &Worker{
		queue:      queue,
		profiles:   profiles,
		reminders:  reminders,
		renderer:   renderer,
		dispatcher: dispatcher,
		now:        time.Now,
		batchSize:  cfg.BatchSize,
		lookahead:  cfg.Lookahead,
	}
	if w.batchSize <= 0 {
		w.batchSize = DefaultBatchSize
	}
	if w.lookahead <= 0 {
		w.lookahead = defaultLookahead
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessQueue claims up to batchSize due jobs, oldest first, and drives
// each to its next state. It returns the number of jobs processed. Only a
// failed claim is an error; per-job problems are recorded on the job.
func (w *Worker) ProcessQueue(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = w.batchSize
	}

	start := time.Now()
	defer func() { w.metrics.ObserveDrain(time.Since(start)) }()

	claimed, err := w.queue.ClaimPending(ctx, batchSize, w.now().Add(w.lookahead))
	if err != nil {
		return 0, fmt.Errorf("claim jobs: %w", err)
	}

	processed := 0
	for _, job := range claimed {
		if ctx.Err() != nil {
			// unprocessed claims expire and are picked up again
			break
		}
		w.process(ctx, job)
		processed++
	}

	if processed > 0 {
		logger.Debug("queue drained", "processed", processed)
	}
	return processed, nil
}

func (w *Worker) process(ctx context.Context, job *jobs.Job) {
	p, err := w.profiles.Get(ctx, job.UserID)
	if errors.Is(err, profile.ErrNotFound) {
		w.fail(ctx, job, "user not found")
		return
	}
	if err != nil {
		w.retry(ctx, job, fmt.Errorf("load profile: %w", err))
		return
	}

	setting, err := w.reminders.Get(ctx, job.UserID, job.ReminderType)
	if errors.Is(err, reminder.ErrNotFound) {
		w.skip(ctx, job, "reminder no longer configured")
		return
	}
	if err != nil {
		w.retry(ctx, job, fmt.Errorf("load reminder: %w", err))
		return
	}
	if !setting.Enabled {
		w.skip(ctx, job, "reminder disabled")
		return
	}

	message := setting.Message
	if message == "" {
		message, err = w.renderer.Render(job.ReminderType, p.CommunicationStyle, render.Data{
			Name: p.DisplayName,
			Time: job.ScheduledAt.Format("15:04"),
		})
		if err != nil {
			w.fail(ctx, job, err.Error())
			return
		}
	}

	if w.decider != nil {
		res := w.decider.MakeDecision(ctx, job.UserID, job.ReminderType, &decision.Plan{
			PlannedAt: job.ScheduledAt,
			Message:   message,
		})
		logger.Debug("decision", "job", job.ID, "branch", res.Branch, "reasoning", res.Reasoning)

		if !res.Send {
			w.skip(ctx, job, res.Reasoning)
			return
		}
		if res.Adjusted && res.Message != "" {
			message = res.Message
		}
	}

	result := w.dispatcher.SendToUser(ctx, job.UserID, message, job.ReminderType, p.PreferredChannel)
	if !result.Success {
		w.retry(ctx, job, result.Err)
		return
	}

	if err := w.queue.MarkSent(ctx, job.ID, result.Channel, message); err != nil {
		logger.Error("failed to mark job sent", "job", job.ID, "error", err)
		return
	}
	w.metrics.JobOutcome(string(jobs.StatusSent))
	logger.Info("notification sent", "job", job.ID, "user", job.UserID, "type", job.ReminderType, "channel", result.Channel)
}

func (w *Worker) skip(ctx context.Context, job *jobs.Job, reason string) {
	if err := w.queue.MarkSkipped(ctx, job.ID, reason); err != nil {
		logger.Error("failed to mark job skipped", "job", job.ID, "error", err)
		return
	}
	w.metrics.JobOutcome(string(jobs.StatusSkipped))
	logger.Info("notification skipped", "job", job.ID, "user", job.UserID, "reason", reason)
}

func (w *Worker) fail(ctx context.Context, job *jobs.Job, reason string) {
	if err := w.queue.MarkFailed(ctx, job.ID, reason); err != nil {
		logger.Error("failed to mark job failed", "job", job.ID, "error", err)
		return
	}
	w.metrics.JobOutcome(string(jobs.StatusFailed))
	logger.Warn("notification failed", "job", job.ID, "user", job.UserID, "reason", reason)
	w.alerter.Critical("worker", "notification failed permanently", fmt.Errorf("job %s: %s", job.ID, reason))
}

// retry records a failed attempt; the job stays pending until its retry
// budget is spent
func (w *Worker) retry(ctx context.Context, job *jobs.Job, cause error) {
	reason := "delivery failed"
	if cause != nil {
		reason = cause.Error()
	}

	updated, err := w.queue.RecordFailure(ctx, job.ID, reason)
	if err != nil {
		logger.Error("failed to record job failure", "job", job.ID, "error", err)
		return
	}

	if updated.Status == jobs.StatusFailed {
		w.metrics.JobOutcome(string(jobs.StatusFailed))
		logger.Warn("notification failed after retries", "job", job.ID, "user", job.UserID, "retries", updated.RetryCount, "error", reason)
		w.alerter.Critical("worker", "notification failed permanently", fmt.Errorf("job %s: %s", job.ID, reason))
		return
	}

	logger.Info("notification will be retried", "job", job.ID, "retry", updated.RetryCount, "max", updated.MaxRetries, "error", reason)
}
