package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bowerhall/nudge/internal/alerts"
	"github.com/bowerhall/nudge/internal/channel"
	"github.com/bowerhall/nudge/internal/decision"
	"github.com/bowerhall/nudge/internal/jobs"
	"github.com/bowerhall/nudge/internal/operational"
	"github.com/bowerhall/nudge/internal/profile"
	"github.com/bowerhall/nudge/internal/reminder"
	"github.com/bowerhall/nudge/internal/render"
)

var evening = time.Date(2024, 5, 10, 19, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeDispatcher) SendToUser(ctx context.Context, userID, content, reminderType, preferred string) channel.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, content)
	if f.err != nil {
		return channel.Result{Err: f.err}
	}
	return channel.Result{Success: true, Channel: "inapp", MessageID: "m1"}
}

type fakeDecider struct {
	result decision.Result
	plans  []*decision.Plan
}

func (f *fakeDecider) MakeDecision(ctx context.Context, userID, notificationType string, plan *decision.Plan) decision.Result {
	f.plans = append(f.plans, plan)
	return f.result
}

type fixture struct {
	worker     *Worker
	queue      *jobs.Store
	profiles   *profile.Store
	reminders  *reminder.Store
	renderer   *render.Renderer
	dispatcher *fakeDispatcher
	alerts     []string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	db, err := operational.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := func() time.Time { return evening }

	queue, err := jobs.NewStore(db.DB(), jobs.WithClock(now))
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	profiles, err := profile.NewStore(db.DB())
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	reminders, err := reminder.NewStore(db.DB())
	if err != nil {
		t.Fatalf("reminders: %v", err)
	}
	renderer, err := render.New()
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	f := &fixture{
		queue:      queue,
		profiles:   profiles,
		reminders:  reminders,
		renderer:   renderer,
		dispatcher: &fakeDispatcher{},
	}

	alerter := alerts.New(func(msg string) { f.alerts = append(f.alerts, msg) }, 0)
	opts = append([]Option{WithClock(now), WithAlerter(alerter)}, opts...)
	f.worker = New(Config{}, queue, profiles, reminders, renderer, f.dispatcher, opts...)

	ctx := context.Background()
	if err := profiles.Upsert(ctx, &profile.Profile{UserID: "u1", DisplayName: "Sam", CommunicationStyle: profile.StyleConcise}); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if err := reminders.Upsert(ctx, &reminder.Setting{UserID: "u1", ReminderType: "water", Enabled: true, TimeOfDay: "19:00"}); err != nil {
		t.Fatalf("reminder: %v", err)
	}
	return f
}

func (f *fixture) enqueue(t *testing.T, userID, reminderType string) *jobs.Job {
	t.Helper()
	job, created, err := f.queue.EnqueueOnce(context.Background(), userID, reminderType, evening, 3, 5*time.Minute)
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}
	return job
}

func (f *fixture) job(t *testing.T, id string) *jobs.Job {
	t.Helper()
	j, err := f.queue.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j
}

func TestSendSuccess(t *testing.T) {
	f := newFixture(t)
	job := f.enqueue(t, "u1", "water")

	n, err := f.worker.ProcessQueue(context.Background(), 10)
	if err != nil || n != 1 {
		t.Fatalf("ProcessQueue = %d, %v", n, err)
	}

	got := f.job(t, job.ID)
	if got.Status != jobs.StatusSent || got.Channel != "inapp" || !got.SentAt.Equal(evening) {
		t.Errorf("job = %+v", got)
	}
	if got.Message != "Drink water." {
		t.Errorf("message = %q, want the concise template", got.Message)
	}
}

func TestRetriesExhaustThenFail(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("all channels failed")
	job := f.enqueue(t, "u1", "water")

	for i := 0; i < 4; i++ {
		if _, err := f.worker.ProcessQueue(context.Background(), 10); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
	}

	got := f.job(t, job.ID)
	if got.Status != jobs.StatusFailed || got.RetryCount != 3 {
		t.Errorf("final = %s retry=%d, want failed retry=3", got.Status, got.RetryCount)
	}
	if len(f.dispatcher.calls) != 3 {
		t.Errorf("delivery attempts = %d, want 3", len(f.dispatcher.calls))
	}
	if len(f.alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(f.alerts))
	}
}

func TestDisabledReminderIsSkipped(t *testing.T) {
	f := newFixture(t)
	job := f.enqueue(t, "u1", "water")

	if err := f.reminders.SetEnabled(context.Background(), "u1", "water", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	f.worker.ProcessQueue(context.Background(), 10)

	got := f.job(t, job.ID)
	if got.Status != jobs.StatusSkipped {
		t.Errorf("status = %s, want skipped", got.Status)
	}
	if got.RetryCount != 0 || len(f.dispatcher.calls) != 0 {
		t.Error("skipped job was attempted")
	}
}

func TestDeletedReminderIsSkipped(t *testing.T) {
	f := newFixture(t)
	job := f.enqueue(t, "u1", "diet")

	f.worker.ProcessQueue(context.Background(), 10)

	if got := f.job(t, job.ID); got.Status != jobs.StatusSkipped {
		t.Errorf("status = %s, want skipped", got.Status)
	}
}

func TestMissingUserFailsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	job := f.enqueue(t, "ghost", "water")

	f.worker.ProcessQueue(context.Background(), 10)

	got := f.job(t, job.ID)
	if got.Status != jobs.StatusFailed || got.RetryCount != 0 {
		t.Errorf("job = %s retry=%d, want failed without retry", got.Status, got.RetryCount)
	}
	if !strings.Contains(got.ErrorMessage, "user not found") {
		t.Errorf("error = %q", got.ErrorMessage)
	}
	if len(f.alerts) != 1 {
		t.Errorf("alerts = %d", len(f.alerts))
	}
}

func TestCustomMessageWins(t *testing.T) {
	f := newFixture(t)
	f.reminders.Upsert(context.Background(), &reminder.Setting{
		UserID: "u1", ReminderType: "water", Enabled: true, TimeOfDay: "19:00", Message: "Refill the bottle",
	})
	f.enqueue(t, "u1", "water")

	f.worker.ProcessQueue(context.Background(), 10)

	if len(f.dispatcher.calls) != 1 || f.dispatcher.calls[0] != "Refill the bottle" {
		t.Errorf("calls = %v", f.dispatcher.calls)
	}
}

func TestDecisionBlockSkips(t *testing.T) {
	decider := &fakeDecider{result: decision.Result{Send: false, Branch: decision.BranchRuleBlock, Reasoning: "rule_block: no goal"}}
	f := newFixture(t, WithDecider(decider))
	job := f.enqueue(t, "u1", "water")

	f.worker.ProcessQueue(context.Background(), 10)

	got := f.job(t, job.ID)
	if got.Status != jobs.StatusSkipped || got.ErrorMessage != "rule_block: no goal" {
		t.Errorf("job = %s %q", got.Status, got.ErrorMessage)
	}
	if len(decider.plans) != 1 || !decider.plans[0].PlannedAt.Equal(evening) {
		t.Errorf("plans = %+v", decider.plans)
	}
}

func TestDecisionAdjustsMessage(t *testing.T) {
	decider := &fakeDecider{result: decision.Result{Send: true, Adjusted: true, Message: "Later tonight?", Branch: decision.BranchReschedule, Reasoning: "reschedule"}}
	f := newFixture(t, WithDecider(decider))
	job := f.enqueue(t, "u1", "water")

	f.worker.ProcessQueue(context.Background(), 10)

	got := f.job(t, job.ID)
	if got.Status != jobs.StatusSent || got.Message != "Later tonight?" {
		t.Errorf("job = %s %q", got.Status, got.Message)
	}
}

func TestOldestFirstWithinBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reminders.Upsert(ctx, &reminder.Setting{UserID: "u1", ReminderType: "diet", Enabled: true, TimeOfDay: "18:00"})

	f.queue.EnqueueOnce(ctx, "u1", "water", evening, 3, time.Minute)
	f.queue.EnqueueOnce(ctx, "u1", "diet", evening.Add(-time.Hour), 3, time.Minute)

	n, _ := f.worker.ProcessQueue(ctx, 1)
	if n != 1 {
		t.Fatalf("processed %d, want 1", n)
	}
	if len(f.dispatcher.calls) != 1 || f.dispatcher.calls[0] != "Log your meal." {
		t.Errorf("first delivery = %v, want the older diet job", f.dispatcher.calls)
	}
}

func TestConcurrentWorkersDeliverEachJobOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	types := []string{"water", "exercise", "diet", "sleep"}
	var ids []string
	for _, rt := range types {
		if err := f.reminders.Upsert(ctx, &reminder.Setting{UserID: "u1", ReminderType: rt, Enabled: true, TimeOfDay: "19:00"}); err != nil {
			t.Fatalf("reminder: %v", err)
		}
		ids = append(ids, f.enqueue(t, "u1", rt).ID)
	}

	// independent workers sharing one queue, as separate replicas would
	workers := []*Worker{f.worker}
	for i := 0; i < 3; i++ {
		workers = append(workers, New(Config{}, f.queue, f.profiles, f.reminders, f.renderer, f.dispatcher,
			WithClock(func() time.Time { return evening })))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			n, err := w.ProcessQueue(ctx, 1)
			for err == nil && n > 0 {
				mu.Lock()
				total += n
				mu.Unlock()
				n, err = w.ProcessQueue(ctx, 1)
			}
			if err != nil {
				t.Errorf("ProcessQueue: %v", err)
			}
		}(w)
	}
	wg.Wait()

	if total != len(types) {
		t.Errorf("processed %d, want %d", total, len(types))
	}
	if len(f.dispatcher.calls) != len(types) {
		t.Errorf("dispatched %d messages, want %d", len(f.dispatcher.calls), len(types))
	}
	for _, id := range ids {
		if got := f.job(t, id); got.Status != jobs.StatusSent {
			t.Errorf("job %s status = %s, want sent", got.ReminderType, got.Status)
		}
	}
}
