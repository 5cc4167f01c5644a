package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bowerhall/nudge/internal/jobs"
	"github.com/bowerhall/nudge/internal/logger"
)

const (
	DefaultRetention           = 7 * 24 * time.Hour
	DefaultMaintenanceSchedule = "0 3 * * *"

	archiveBatch = 500
)

type Purger interface {
	TerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*jobs.Job, error)
	Delete(ctx context.Context, ids []string) (int64, error)
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver stores terminal jobs before they are deleted
type Archiver interface {
	ArchiveJobs(ctx context.Context, list []*jobs.Job, at time.Time) (string, error)
}

// Maintenance purges terminal jobs past retention on a cron schedule
type Maintenance struct {
	purger    Purger
	archiver  Archiver
	retention time.Duration
	now       func() time.Time
	cron      *cron.Cron
}

type MaintenanceOption func(*Maintenance)

// WithArchiver exports each batch before deleting it
func WithArchiver(a Archiver) MaintenanceOption {
	return func(m *Maintenance) { m.archiver = a }
}

func WithMaintenanceClock(now func() time.Time) MaintenanceOption {
	return func(m *Maintenance) { m.now = now }
}

func NewMaintenance(purger Purger, retention time.Duration, opts ...MaintenanceOption) *Maintenance {
	if retention <= 0 {
		retention = DefaultRetention
	}
	m := &Maintenance{
		purger:    purger,
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOnce removes terminal jobs older than the retention and returns how
// many were removed. Archived batches are deleted only after the export
// succeeded.
func (m *Maintenance) RunOnce(ctx context.Context) (int64, error) {
	now := m.now()
	cutoff := now.Add(-m.retention)

	if m.archiver == nil {
		n, err := m.purger.PurgeTerminal(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("purge jobs: %w", err)
		}
		return n, nil
	}

	var total int64
	for {
		batch, err := m.purger.TerminalBefore(ctx, cutoff, archiveBatch)
		if err != nil {
			return total, fmt.Errorf("list terminal jobs: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		key, err := m.archiver.ArchiveJobs(ctx, batch, now)
		if err != nil {
			return total, fmt.Errorf("archive jobs: %w", err)
		}

		ids := make([]string, len(batch))
		for i, j := range batch {
			ids[i] = j.ID
		}
		n, err := m.purger.Delete(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("delete archived jobs: %w", err)
		}
		total += n
		logger.Debug("jobs archived", "key", key, "count", n)

		if len(batch) < archiveBatch {
			return total, nil
		}
		// keys are per call; keep them distinct within one run
		now = now.Add(time.Nanosecond)
	}
}

// Start runs the purge on spec in loc until Stop
func (m *Maintenance) Start(spec string, loc *time.Location) error {
	if spec == "" {
		spec = DefaultMaintenanceSchedule
	}
	if loc == nil {
		loc = time.UTC
	}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(spec, m.run); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}

	m.cron = c
	c.Start()
	logger.Info("maintenance scheduled", "schedule", spec, "retention", m.retention)
	return nil
}

// Stop waits for a running purge to finish
func (m *Maintenance) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}

func (m *Maintenance) run() {
	n, err := m.RunOnce(context.Background())
	if err != nil {
		logger.Error("maintenance failed", "error", err)
		return
	}
	logger.Info("maintenance complete", "purged", n)
}
