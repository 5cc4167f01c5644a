package contextstore

import (
	"math"
	"testing"
	"time"

	"github.com/bowerhall/nudge/internal/events"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func newTestStore(t *testing.T, cfg Config) (*Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	s, err := New(cfg, WithClock(c.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, c
}

func event(t events.EventType, conf float64, at time.Time) events.DetectedEvent {
	return events.DetectedEvent{
		ID:          string(t) + at.Format(time.RFC3339Nano),
		Type:        t,
		Confidence:  conf,
		StartTime:   at,
		EndTime:     at.Add(time.Hour),
		ImpactLevel: 5,
	}
}

func TestImportanceFormula(t *testing.T) {
	s, c := newTestStore(t, Config{})

	e := event(events.Illness, 0.8, c.t)
	entry := s.AddEvent("u1", e)

	// base 0.8, decay 1, frequency 0, feedback 0
	want := 0.3*0.8 + 0.4*1
	if math.Abs(entry.AdjustedImportance-want) > 1e-9 {
		t.Errorf("importance = %v, want %v", entry.AdjustedImportance, want)
	}

	fb := s.AddEvent("u1", event(events.Travel, 0.8, c.t).WithFeedback())
	want = 0.3*0.8 + 0.4*1 + 0.1*0.1
	if math.Abs(fb.AdjustedImportance-want) > 1e-9 {
		t.Errorf("feedback importance = %v, want %v", fb.AdjustedImportance, want)
	}
}

func TestDecayHalvesPerHalfLife(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	half := 168 * time.Hour

	if got := timeDecay(now.Add(-half), now, half); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("decay after one half-life = %v, want 0.5", got)
	}
	if got := timeDecay(now.Add(time.Hour), now, half); got != 1 {
		t.Errorf("future event decay = %v, want 1", got)
	}

	prev := 1.0
	for h := 0; h <= 1000; h += 50 {
		d := timeDecay(now.Add(-time.Duration(h)*time.Hour), now, half)
		if d > prev {
			t.Fatalf("decay increased at %dh: %v > %v", h, d, prev)
		}
		prev = d
	}
}

func TestImportanceRecomputedOnRead(t *testing.T) {
	s, c := newTestStore(t, Config{TTL: 24 * 30 * time.Hour})

	written := s.AddEvent("u1", event(events.Overtime, 1, c.t))

	c.t = c.t.Add(168 * time.Hour)
	ctx := s.GetContext("u1", 10, 0)
	if len(ctx.Events) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(ctx.Events))
	}
	read := ctx.Events[0].AdjustedImportance
	if math.Abs((written.AdjustedImportance-read)-0.4*0.5) > 1e-9 {
		t.Errorf("importance went %v -> %v, want a drop of 0.2", written.AdjustedImportance, read)
	}
}

func TestFrequencyFactorCountsBeforeInsert(t *testing.T) {
	s, c := newTestStore(t, Config{})

	var last Entry
	for i := 0; i < 11; i++ {
		last = s.AddEvent("u1", event("water_recorded", 0.9, c.t.Add(-time.Duration(i)*time.Minute)))
	}
	if last.FrequencyFactor != 1 {
		t.Errorf("11th insert frequency = %v, want 1 (10 prior)", last.FrequencyFactor)
	}

	twelfth := s.AddEvent("u1", event("water_recorded", 0.9, c.t))
	if twelfth.FrequencyFactor != 1.0 {
		t.Errorf("12th insert frequency = %v, want min(11/10, 1) = 1", twelfth.FrequencyFactor)
	}

	first := s.AddEvent("u2", event("water_recorded", 0.9, c.t))
	if first.FrequencyFactor != 0 {
		t.Errorf("first insert frequency = %v, want 0", first.FrequencyFactor)
	}
	second := s.AddEvent("u2", event("water_recorded", 0.9, c.t))
	if second.FrequencyFactor != 0.1 {
		t.Errorf("second insert frequency = %v, want 0.1", second.FrequencyFactor)
	}
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	s, c := newTestStore(t, Config{Capacity: 3})

	for i := 0; i < 5; i++ {
		e := event(events.Travel, 0.7, c.t)
		e.ID = string(rune('a' + i))
		s.AddEvent("u1", e)
	}

	if n := s.Len("u1"); n != 3 {
		t.Fatalf("len = %d, want 3", n)
	}

	got := s.GetEventsByType("u1", events.Travel, 0)
	want := []string{"e", "d", "c"}
	for i, e := range got {
		if e.Event.ID != want[i] {
			t.Errorf("entry %d = %s, want %s", i, e.Event.ID, want[i])
		}
	}
}

func TestGetContextSortFilterLimit(t *testing.T) {
	s, c := newTestStore(t, Config{})

	s.Load("u1", nil)
	s.AddEvent("u1", event(events.SocialGathering, 0.6, c.t.Add(-300*time.Hour)))
	s.AddEvent("u1", event(events.Illness, 1.0, c.t))
	s.AddEvent("u1", event(events.Travel, 0.8, c.t.Add(-10*time.Hour)))

	ctx := s.GetContext("u1", 2, 0)
	if len(ctx.Events) != 2 {
		t.Fatalf("expected limit 2, got %d", len(ctx.Events))
	}
	if ctx.Events[0].Event.Type != events.Illness || ctx.Events[1].Event.Type != events.Travel {
		t.Errorf("order = %s, %s", ctx.Events[0].Event.Type, ctx.Events[1].Event.Type)
	}
	if ctx.Summary.Top != events.Illness || ctx.Summary.Total != 2 {
		t.Errorf("summary = %+v", ctx.Summary)
	}
	if ctx.Stale {
		t.Error("fresh context reported stale")
	}

	high := s.GetContext("u1", 10, 0.6)
	for _, e := range high.Events {
		if e.AdjustedImportance < 0.6 {
			t.Errorf("%s below min importance: %v", e.Event.Type, e.AdjustedImportance)
		}
	}
	if len(high.Events) != 2 {
		t.Errorf("expected 2 entries above 0.6, got %d", len(high.Events))
	}
}

func TestStaleness(t *testing.T) {
	s, c := newTestStore(t, Config{TTL: 30 * time.Minute})

	if ctx := s.GetContext("nobody", 10, 0); !ctx.Stale {
		t.Error("unknown user should be stale")
	}

	// observed events alone do not make a context complete
	s.AddEvent("u1", event(events.Illness, 0.9, c.t))
	if ctx := s.GetContext("u1", 10, 0); !ctx.Stale {
		t.Error("context without a history load should be stale")
	}

	s.Load("u1", []events.DetectedEvent{event(events.Illness, 0.9, c.t)})
	if ctx := s.GetContext("u1", 10, 0); ctx.Stale {
		t.Error("context should be fresh after Load")
	}
	s.AddEvent("u1", event(events.Overtime, 0.9, c.t))
	if ctx := s.GetContext("u1", 10, 0); ctx.Stale || len(ctx.Events) != 2 {
		t.Errorf("AddEvent after Load: stale=%v events=%d", ctx.Stale, len(ctx.Events))
	}

	c.t = c.t.Add(31 * time.Minute)
	if ctx := s.GetContext("u1", 10, 0); !ctx.Stale {
		t.Error("context older than TTL should be stale")
	}

	s.Load("u1", []events.DetectedEvent{event(events.Travel, 0.9, c.t)})
	ctx := s.GetContext("u1", 10, 0)
	if ctx.Stale {
		t.Error("context should be fresh after Load")
	}
	if len(ctx.Events) != 1 || ctx.Events[0].Event.Type != events.Travel {
		t.Errorf("Load did not replace entries: %+v", ctx.Events)
	}
}

func TestFirstLoadKeepsObservedEvents(t *testing.T) {
	s, c := newTestStore(t, Config{})

	birthday := event(events.SpecialOccasion, 0.9, c.t.Add(time.Hour))
	dinner := event(events.BusinessDinner, 0.9, c.t.Add(2*time.Hour))
	s.AddEvent("u1", birthday)
	s.AddEvent("u1", dinner)

	// history holds the illness plus the dinner again under a new ID
	again := dinner
	again.ID = "from-history"
	s.Load("u1", []events.DetectedEvent{event(events.Illness, 0.9, c.t), again})

	ctx := s.GetContext("u1", 0, 0)
	if ctx.Stale {
		t.Error("context should be fresh after Load")
	}
	if ctx.Summary.Total != 3 {
		t.Fatalf("total = %d, want 3: %+v", ctx.Summary.Total, ctx.Summary)
	}
	if got := s.GetEventsByType("u1", events.BusinessDinner, 0); len(got) != 1 {
		t.Errorf("dinner stored %d times, want once", len(got))
	}
	if got := s.GetEventsByType("u1", events.SpecialOccasion, 0); len(got) != 1 || got[0].Event.ID != birthday.ID {
		t.Errorf("observed birthday lost: %+v", got)
	}

	// later reloads replace everything
	s.Load("u1", []events.DetectedEvent{event(events.Travel, 0.9, c.t)})
	if n := s.Len("u1"); n != 1 {
		t.Errorf("len after reload = %d, want 1", n)
	}
}

func TestClear(t *testing.T) {
	s, c := newTestStore(t, Config{})

	s.AddEvent("u1", event(events.Illness, 0.9, c.t))
	s.AddEvent("u2", event(events.Illness, 0.9, c.t))
	s.Clear("u1")

	if n := s.Len("u1"); n != 0 {
		t.Errorf("u1 len = %d after clear", n)
	}
	if n := s.Len("u2"); n != 1 {
		t.Errorf("u2 len = %d, clear leaked across users", n)
	}
}

func TestUserCacheBounded(t *testing.T) {
	s, c := newTestStore(t, Config{MaxUsers: 2})

	s.AddEvent("a", event(events.Illness, 0.9, c.t))
	s.AddEvent("b", event(events.Illness, 0.9, c.t))
	s.AddEvent("c", event(events.Illness, 0.9, c.t))

	if n := s.Len("a"); n != 0 {
		t.Errorf("least recently used user still holds %d entries", n)
	}
	if n := s.Len("c"); n != 1 {
		t.Errorf("newest user holds %d entries, want 1", n)
	}
}
