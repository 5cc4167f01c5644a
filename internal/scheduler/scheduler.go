package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bowerhall/nudge/internal/jobs"
	"github.com/bowerhall/nudge/internal/logger"
	"github.com/bowerhall/nudge/internal/metrics"
	"github.com/bowerhall/nudge/internal/reminder"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultWindow   = 5 * time.Minute
)

type Reminders interface {
	ListEnabled(ctx context.Context) ([]*reminder.Setting, error)
}

type Queue interface {
	EnqueueOnce(ctx context.Context, userID, reminderType string, scheduledAt time.Time, maxRetries int, window time.Duration) (*jobs.Job, bool, error)
}

// Drainer is the worker's drain step
type Drainer interface {
	ProcessQueue(ctx context.Context, batchSize int) (int, error)
}

type Config struct {
	Interval   time.Duration
	Window     time.Duration
	MaxRetries int
	BatchSize  int
	Location   *time.Location
}

// Scheduler turns enabled reminder settings into pending jobs and hands
// them to the worker
type Scheduler struct {
	mu        sync.Mutex
	reminders Reminders
	queue     Queue
	drainer   Drainer
	metrics   *metrics.Metrics
	now       func() time.Time

	interval   time.Duration
	window     time.Duration
	maxRetries int
	batchSize  int
	loc        *time.Location
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(cfg Config, reminders Reminders, queue Queue, drainer Drainer, opts ...Option) *Scheduler {
	s := &Scheduler{
		reminders:  reminders,
		queue:      queue,
		drainer:    drainer,
		now:        time.Now,
		interval:   cfg.Interval,
		window:     cfg.Window,
		maxRetries: cfg.MaxRetries,
		batchSize:  cfg.BatchSize,
		loc:        cfg.Location,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.maxRetries <= 0 {
		s.maxRetries = jobs.DefaultMaxRetries
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tickAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("scheduler stopping")
			return
		case <-ticker.C:
			s.tickAndLog(ctx)
		}
	}
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	enqueued, processed, err := s.Tick(ctx)
	if err != nil {
		logger.Error("scheduler tick failed", "error", err)
		return
	}
	if enqueued > 0 || processed > 0 {
		logger.Info("scheduler tick", "enqueued", enqueued, "processed", processed)
	}
}

// Tick enqueues every reminder due in the current firing window, then
// drains the queue once. It returns the number of new jobs and the number
// of jobs the drain processed.
func (s *Scheduler) Tick(ctx context.Context) (int, int, error) {
	enqueued, err := s.enqueueDue(ctx)
	if err != nil {
		return 0, 0, err
	}

	if s.drainer == nil {
		return enqueued, 0, nil
	}
	processed, err := s.drainer.ProcessQueue(ctx, s.batchSize)
	if err != nil {
		return enqueued, processed, fmt.Errorf("drain queue: %w", err)
	}
	return enqueued, processed, nil
}

func (s *Scheduler) enqueueDue(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.reminders.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reminders: %w", err)
	}

	now := s.now().In(s.loc)
	enqueued := 0
	for _, setting := range settings {
		sched, err := ScheduleFor(setting, s.loc)
		if err != nil {
			logger.Warn("skipping reminder with invalid schedule", "user", setting.UserID, "type", setting.ReminderType, "error", err)
			continue
		}

		at, due := DueAt(sched, now, s.window)
		if !due {
			continue
		}

		job, created, err := s.queue.EnqueueOnce(ctx, setting.UserID, setting.ReminderType, at, s.maxRetries, s.window)
		if err != nil {
			logger.Error("failed to enqueue job", "user", setting.UserID, "type", setting.ReminderType, "error", err)
			continue
		}
		if !created {
			if job != nil {
				logger.Debug("job already enqueued", "job", job.ID, "user", setting.UserID, "type", setting.ReminderType)
			}
			continue
		}

		enqueued++
		s.metrics.JobEnqueued()
		logger.Debug("job enqueued", "job", job.ID, "user", setting.UserID, "type", setting.ReminderType, "at", at)
	}
	return enqueued, nil
}
