package profile

import (
	"context"
	"errors"
	"testing"
	"time"

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

func TestUpsertAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	p := &Profile{
		UserID:           "u1",
		PreferredTimes:   []string{"07:30", "bogus", "20:00"},
		PreferredChannel: "telegram",
		TelegramChatID:   42,
		HasActiveGoal:    true,
	}
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CommunicationStyle != StyleFriendly {
		t.Errorf("style = %q, want default friendly", got.CommunicationStyle)
	}
	if got.TelegramChatID != 42 || !got.HasActiveGoal || got.PreferredChannel != "telegram" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	offsets := got.PreferredOffsets()
	if len(offsets) != 2 || offsets[0] != 7*time.Hour+30*time.Minute || offsets[1] != 20*time.Hour {
		t.Errorf("offsets = %v", offsets)
	}

	p.CommunicationStyle = StyleConcise
	p.HasActiveGoal = false
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, _ = s.Get(ctx, "u1")
	if got.CommunicationStyle != StyleConcise || got.HasActiveGoal {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)

	_, err := s.Get(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
