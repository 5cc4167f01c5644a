package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bowerhall/nudge/internal/jobs"
	"github.com/bowerhall/nudge/internal/operational"
	"github.com/bowerhall/nudge/internal/reminder"
)

type countingDrainer struct {
	calls int
	err   error
}

func (d *countingDrainer) ProcessQueue(ctx context.Context, batchSize int) (int, error) {
	d.calls++
	return 0, d.err
}

type staticReminders []*reminder.Setting

func (r staticReminders) ListEnabled(ctx context.Context) ([]*reminder.Setting, error) {
	return r, nil
}

func newStores(t *testing.T) (*jobs.Store, *reminder.Store) {
	t.Helper()

	db, err := operational.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	queue, err := jobs.NewStore(db.DB())
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	reminders, err := reminder.NewStore(db.DB())
	if err != nil {
		t.Fatalf("reminders: %v", err)
	}
	return queue, reminders
}

func TestTickIsIdempotentWithinWindow(t *testing.T) {
	queue, reminders := newStores(t)
	ctx := context.Background()
	reminders.Upsert(ctx, &reminder.Setting{UserID: "u1", ReminderType: "water", Enabled: true, TimeOfDay: "19:00"})

	now := at(friday, 18, 56)
	drainer := &countingDrainer{}
	s := New(Config{}, reminders, queue, drainer, WithClock(func() time.Time { return now }))

	first, _, err := s.Tick(ctx)
	if err != nil || first != 1 {
		t.Fatalf("first tick = %d, %v", first, err)
	}

	now = at(friday, 18, 58)
	second, _, err := s.Tick(ctx)
	if err != nil || second != 0 {
		t.Fatalf("second tick = %d, %v", second, err)
	}

	list, _ := queue.ListForUser(ctx, "u1", 10)
	if len(list) != 1 {
		t.Fatalf("jobs = %d, want 1", len(list))
	}
	if !list[0].ScheduledAt.Equal(at(friday, 19, 0)) || list[0].Status != jobs.StatusPending {
		t.Errorf("job = %+v", list[0])
	}
	if list[0].MaxRetries != jobs.DefaultMaxRetries {
		t.Errorf("max retries = %d", list[0].MaxRetries)
	}
}

func TestTickDrainsAfterEnqueue(t *testing.T) {
	queue, reminders := newStores(t)
	drainer := &countingDrainer{}
	s := New(Config{}, reminders, queue, drainer, WithClock(func() time.Time { return at(friday, 12, 0) }))

	if _, _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if drainer.calls != 1 {
		t.Errorf("drain calls = %d, want 1", drainer.calls)
	}
}

func TestTickReportsDrainError(t *testing.T) {
	queue, reminders := newStores(t)
	drainer := &countingDrainer{err: errors.New("db locked")}
	s := New(Config{}, reminders, queue, drainer)

	if _, _, err := s.Tick(context.Background()); err == nil {
		t.Error("expected drain error")
	}
}

func TestTickIgnoresDisabledAndWeekend(t *testing.T) {
	queue, reminders := newStores(t)
	ctx := context.Background()
	reminders.Upsert(ctx, &reminder.Setting{UserID: "u1", ReminderType: "water", Enabled: false, TimeOfDay: "19:00"})
	reminders.Upsert(ctx, &reminder.Setting{UserID: "u1", ReminderType: "diet", Enabled: true, TimeOfDay: "19:00", WeekdaysOnly: true})
	reminders.Upsert(ctx, &reminder.Setting{UserID: "u1", ReminderType: "sleep", Enabled: true, TimeOfDay: "19:02"})

	saturday := friday.AddDate(0, 0, 1)
	s := New(Config{}, reminders, queue, nil, WithClock(func() time.Time { return at(saturday, 18, 58) }))

	n, _, err := s.Tick(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Tick = %d, %v", n, err)
	}
	list, _ := queue.ListForUser(ctx, "u1", 10)
	if len(list) != 1 || list[0].ReminderType != "sleep" {
		t.Errorf("jobs = %+v", list)
	}
}

func TestTickSkipsInvalidSettings(t *testing.T) {
	queue, _ := newStores(t)
	settings := staticReminders{
		{UserID: "u1", ReminderType: "water", Enabled: true, TimeOfDay: "nonsense"},
		{UserID: "u2", ReminderType: "water", Enabled: true, TimeOfDay: "19:00"},
	}
	s := New(Config{MaxRetries: 5}, settings, queue, nil, WithClock(func() time.Time { return at(friday, 18, 59) }))

	n, _, err := s.Tick(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Tick = %d, %v", n, err)
	}
	list, _ := queue.ListForUser(context.Background(), "u2", 10)
	if len(list) != 1 || list[0].MaxRetries != 5 {
		t.Errorf("jobs = %+v", list)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	queue, reminders := newStores(t)
	drainer := &countingDrainer{}
	s := New(Config{Interval: time.Hour}, reminders, queue, drainer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// conflictQueue reports every enqueue as a duplicate without returning the
// job that already holds the slot
type conflictQueue struct{ calls int }

func (q *conflictQueue) EnqueueOnce(ctx context.Context, userID, reminderType string, scheduledAt time.Time, maxRetries int, window time.Duration) (*jobs.Job, bool, error) {
	q.calls++
	return nil, false, nil
}

func TestTickToleratesDuplicateWithoutJob(t *testing.T) {
	reminders := staticReminders{{UserID: "u1", ReminderType: "water", Enabled: true, TimeOfDay: "19:00"}}
	queue := &conflictQueue{}
	s := New(Config{}, reminders, queue, &countingDrainer{}, WithClock(func() time.Time { return at(friday, 18, 58) }))

	enqueued, _, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if enqueued != 0 {
		t.Errorf("enqueued = %d, want 0", enqueued)
	}
	if queue.calls != 1 {
		t.Errorf("enqueue calls = %d, want 1", queue.calls)
	}
}
