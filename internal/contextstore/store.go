package contextstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bowerhall/nudge/internal/events"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 30 * time.Minute
	DefaultHalfLife = 7 * 24 * time.Hour
	DefaultMaxUsers = 10000
)

// Entry is a detected event held in a user's context together with the
// factors fixed at insert time. AdjustedImportance is recomputed on read.
type Entry struct {
	Event              events.DetectedEvent
	BaseImportance     float64
	FrequencyCount     int
	FrequencyFactor    float64
	FeedbackFactor     float64
	AdjustedImportance float64
	AddedAt            time.Time
}

// Summary aggregates the entries returned by GetContext
type Summary struct {
	Total      int
	ByType     map[events.EventType]int
	ByCategory map[events.Category]int
	Top        events.EventType
}

func (s Summary) String() string {
	if s.Total == 0 {
		return "no recent events"
	}
	types := make([]string, 0, len(s.ByType))
	for t, n := range s.ByType {
		types = append(types, fmt.Sprintf("%s x%d", t, n))
	}
	sort.Strings(types)
	return fmt.Sprintf("%d events (%s), most important: %s", s.Total, strings.Join(types, ", "), s.Top)
}

// Context is a read of one user's entries. Stale is set until the user's
// history has been loaded, and again once nothing was written within the
// TTL; callers then reload from persistence with Load.
type Context struct {
	Events    []Entry
	Summary   Summary
	Stale     bool
	LastWrite time.Time
}

type shard struct {
	mu        sync.Mutex
	entries   []Entry
	lastWrite time.Time
	// loaded is set once history has been read back; until then the
	// entries are only what was observed since the shard was created
	loaded bool
}

// Store keeps a bounded, per-user window of detected events. Users are held
// in an LRU so memory stays bounded across many users; each user's entries
// are evicted oldest first once capacity is reached.
type Store struct {
	capacity int
	ttl      time.Duration
	halfLife time.Duration
	now      func() time.Time

	mu    sync.Mutex
	users *lru.Cache[string, *shard]
}

type Config struct {
	Capacity int
	TTL      time.Duration
	HalfLife time.Duration
	MaxUsers int
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultHalfLife
	}
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = DefaultMaxUsers
	}

	users, err := lru.New[string, *shard](cfg.MaxUsers)
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}

	s := &Store{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		halfLife: cfg.HalfLife,
		now:      time.Now,
		users:    users,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) shard(userID string, create bool) *shard {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sh, ok := s.users.Get(userID); ok {
		return sh
	}
	if !create {
		return nil
	}
	sh := &shard{}
	s.users.Add(userID, sh)
	return sh
}

// AddEvent records an event for a user and returns the stored entry
func (s *Store) AddEvent(userID string, e events.DetectedEvent) Entry {
	sh := s.shard(userID, true)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry := s.insert(sh, e, now)
	sh.lastWrite = now
	return entry
}

// Load replaces a user's entries with events read back from persistence,
// oldest first, and marks the context fresh. On the first load, events
// observed earlier are kept unless the history yields the same event again.
func (s *Store) Load(userID string, evs []events.DetectedEvent) {
	sh := s.shard(userID, true)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	var observed []Entry
	if !sh.loaded {
		observed = sh.entries
	}

	sh.entries = nil
	seen := make(map[eventKey]bool, len(evs))
	for _, e := range evs {
		s.insert(sh, e, now)
		seen[keyOf(e)] = true
	}
	for _, entry := range observed {
		if !seen[keyOf(entry.Event)] {
			s.insert(sh, entry.Event, entry.AddedAt)
		}
	}
	sh.lastWrite = now
	sh.loaded = true
}

type eventKey struct {
	t          events.EventType
	start, end int64
}

func keyOf(e events.DetectedEvent) eventKey {
	k := eventKey{t: e.Type}
	if !e.StartTime.IsZero() {
		k.start = e.StartTime.UnixNano()
	}
	if !e.EndTime.IsZero() {
		k.end = e.EndTime.UnixNano()
	}
	return k
}

// insert must be called with sh.mu held
func (s *Store) insert(sh *shard, e events.DetectedEvent, now time.Time) Entry {
	prior := 0
	for _, existing := range sh.entries {
		if existing.Event.Type == e.Type {
			prior++
		}
	}

	entry := Entry{
		Event:           e,
		BaseImportance:  baseImportance(e),
		FrequencyCount:  prior + 1,
		FrequencyFactor: frequencyFactor(prior),
		FeedbackFactor:  feedbackFactor(e),
		AddedAt:         now,
	}
	entry.AdjustedImportance = s.score(entry, now)

	sh.entries = append(sh.entries, entry)
	if over := len(sh.entries) - s.capacity; over > 0 {
		sh.entries = append([]Entry(nil), sh.entries[over:]...)
	}

	return entry
}

func (s *Store) score(e Entry, now time.Time) float64 {
	happened := e.Event.StartTime
	if happened.IsZero() {
		happened = e.AddedAt
	}
	decay := timeDecay(happened, now, s.halfLife)
	return adjustedImportance(e.BaseImportance, decay, e.FrequencyFactor, e.FeedbackFactor)
}

// GetContext returns the user's entries re-scored at the current time,
// sorted by importance, filtered by minImportance and limited to maxEvents
// (no limit when maxEvents <= 0)
func (s *Store) GetContext(userID string, maxEvents int, minImportance float64) Context {
	sh := s.shard(userID, false)
	if sh == nil {
		return Context{Stale: true, Summary: summarize(nil)}
	}

	now := s.now()

	sh.mu.Lock()
	out := make([]Entry, 0, len(sh.entries))
	for _, e := range sh.entries {
		e.AdjustedImportance = s.score(e, now)
		if e.AdjustedImportance >= minImportance {
			out = append(out, e)
		}
	}
	lastWrite, loaded := sh.lastWrite, sh.loaded
	sh.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AdjustedImportance > out[j].AdjustedImportance
	})
	if maxEvents > 0 && len(out) > maxEvents {
		out = out[:maxEvents]
	}

	return Context{
		Events:    out,
		Summary:   summarize(out),
		Stale:     !loaded || now.Sub(lastWrite) > s.ttl,
		LastWrite: lastWrite,
	}
}

// GetEventsByType returns the user's entries of one type, newest first
func (s *Store) GetEventsByType(userID string, t events.EventType, limit int) []Entry {
	sh := s.shard(userID, false)
	if sh == nil {
		return nil
	}

	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	var out []Entry
	for i := len(sh.entries) - 1; i >= 0; i-- {
		e := sh.entries[i]
		if e.Event.Type != t {
			continue
		}
		e.AdjustedImportance = s.score(e, now)
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Clear drops all cached state for a user
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users.Remove(userID)
}

// Len returns the number of cached entries for a user
func (s *Store) Len(userID string) int {
	sh := s.shard(userID, false)
	if sh == nil {
		return 0
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.entries)
}

func summarize(entries []Entry) Summary {
	sum := Summary{
		Total:      len(entries),
		ByType:     make(map[events.EventType]int),
		ByCategory: make(map[events.Category]int),
	}
	for _, e := range entries {
		sum.ByType[e.Event.Type]++
		sum.ByCategory[e.Event.Category]++
	}
	if len(entries) > 0 {
		sum.Top = entries[0].Event.Type
	}
	return sum
}
