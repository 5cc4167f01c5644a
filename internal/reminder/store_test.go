package reminder

import (
	"context"
	"errors"
	"testing"

	"github.com/bowerhall/nudge/internal/operational"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	db, err := operational.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db.DB())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestUpsertGetAndList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	settings := []*Setting{
		{UserID: "u1", ReminderType: "exercise", Enabled: true, TimeOfDay: "19:00", WeekdaysOnly: true},
		{UserID: "u1", ReminderType: "water", Enabled: true, TimeOfDay: "09:00", IntervalMinutes: 120},
		{UserID: "u2", ReminderType: "sleep", Enabled: false, TimeOfDay: "23:00"},
	}
	for _, r := range settings {
		if err := s.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert %s: %v", r.ReminderType, err)
		}
	}

	got, err := s.Get(ctx, "u1", "exercise")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.WeekdaysOnly || got.TimeOfDay != "19:00" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	enabled, err := s.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled settings, got %d", len(enabled))
	}
	if enabled[1].IntervalMinutes != 120 {
		t.Errorf("interval = %d, want 120", enabled[1].IntervalMinutes)
	}
}

func TestUpsertRejectsBadClock(t *testing.T) {
	s := newStore(t)

	err := s.Upsert(context.Background(), &Setting{UserID: "u1", ReminderType: "diet", TimeOfDay: "25:99"})
	if err == nil {
		t.Fatal("expected error for invalid time of day")
	}
}

func TestSetEnabled(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.Upsert(ctx, &Setting{UserID: "u1", ReminderType: "exercise", Enabled: true, TimeOfDay: "19:00"})

	if err := s.SetEnabled(ctx, "u1", "exercise", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	got, _ := s.Get(ctx, "u1", "exercise")
	if got.Enabled {
		t.Error("setting still enabled")
	}

	if err := s.SetEnabled(ctx, "u1", "nope", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, "u9", "exercise"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
