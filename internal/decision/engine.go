package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/nudge/internal/contextstore"
	"github.com/bowerhall/nudge/internal/conversation"
	"github.com/bowerhall/nudge/internal/events"
	"github.com/bowerhall/nudge/internal/logger"
	"github.com/bowerhall/nudge/internal/metrics"
	"github.com/bowerhall/nudge/internal/profile"
	"github.com/bowerhall/nudge/internal/rules"
)

const (
	defaultMaxContext   = 20
	defaultHistoryLimit = 50
	defaultLookback     = 48 * time.Hour
)

type Detector interface {
	Detect(ctx context.Context, text string, at time.Time) []events.DetectedEvent
}

type ContextStore interface {
	AddEvent(userID string, e events.DetectedEvent) contextstore.Entry
	Load(userID string, evs []events.DetectedEvent)
	GetContext(userID string, maxEvents int, minImportance float64) contextstore.Context
}

type History interface {
	Recent(ctx context.Context, userID string, since time.Time, limit int) ([]conversation.Message, error)
}

type Profiles interface {
	Get(ctx context.Context, userID string) (*profile.Profile, error)
}

type RuleSource interface {
	Current() *rules.RuleSet
}

type Config struct {
	Mode       Mode
	MaxContext int
	Lookback   time.Duration
}

// Engine decides whether, and when, a reminder should go out given what the
// user has recently said
type Engine struct {
	detector Detector
	store    ContextStore
	history  History
	profiles Profiles
	rules    RuleSource
	checks   map[string]Check
	metrics  *metrics.Metrics
	now      func() time.Time

	mode       Mode
	maxContext int
	lookback   time.Duration
}

type Option func(*Engine)

func WithChecks(checks map[string]Check) Option {
	return func(e *Engine) { e.checks = checks }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(cfg Config, detector Detector, store ContextStore, history History, profiles Profiles, src RuleSource, opts ...Option) *Engine {
	e := &Engine{
		detector:   detector,
		store:      store,
		history:    history,
		profiles:   profiles,
		rules:      src,
		checks:     DefaultChecks(),
		now:        time.Now,
		mode:       cfg.Mode,
		maxContext: cfg.MaxContext,
		lookback:   cfg.Lookback,
	}
	if e.mode == "" {
		e.mode = ModeBalanced
	}
	if e.maxContext <= 0 {
		e.maxContext = defaultMaxContext
	}
	if e.lookback <= 0 {
		e.lookback = defaultLookback
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Mode() Mode {
	return e.mode
}

// ObserveMessage runs detection over a new user message and records the
// events in the user's context
func (e *Engine) ObserveMessage(ctx context.Context, userID, text string, at time.Time) []events.DetectedEvent {
	found := e.detector.Detect(ctx, text, at)
	for _, ev := range found {
		e.store.AddEvent(userID, ev)
	}
	return found
}

// MakeDecision never fails outward: internal errors and panics produce a
// standard send with the fault in Reasoning
func (e *Engine) MakeDecision(ctx context.Context, userID, notificationType string, plan *Plan) (res Result) {
	if plan == nil {
		plan = &Plan{}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("decision engine panicked", "user", userID, "type", notificationType, "panic", r)
			res = faultResult(plan, fmt.Errorf("panic: %v", r))
		}
		e.metrics.Decision(string(res.Branch))
	}()

	res, err := e.decide(ctx, userID, notificationType, plan)
	if err != nil {
		logger.Warn("decision fell back to standard reminder", "user", userID, "type", notificationType, "error", err)
		return faultResult(plan, err)
	}
	return res
}

func (e *Engine) decide(ctx context.Context, userID, notificationType string, plan *Plan) (Result, error) {
	now := e.now()

	p, err := e.profiles.Get(ctx, userID)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		return Result{}, fmt.Errorf("load profile: %w", err)
	}

	if check, ok := e.checks[notificationType]; ok {
		if allowed, reason := check(p); !allowed {
			return Result{
				Send:      false,
				Branch:    BranchRuleBlock,
				Reasoning: fmt.Sprintf("rule_block: %s blocked, %s", notificationType, reason),
			}, nil
		}
	}

	candidates, err := e.gather(ctx, userID, now)
	if err != nil {
		return Result{}, err
	}

	var plannedAt *time.Time
	ref := now
	if !plan.PlannedAt.IsZero() {
		plannedAt = &plan.PlannedAt
		ref = plan.PlannedAt
	}

	// events that ended well before the reminder are history, not conflicts
	var live []events.DetectedEvent
	for _, ev := range candidates {
		if ev.HasWindow() && ev.EndTime.Before(ref.Add(-plannedBand)) {
			continue
		}
		live = append(live, ev)
	}

	conflicts := GetConflictingEvents(e.rules.Current().ConflictsFor(notificationType), live, plannedAt)
	if len(conflicts) == 0 {
		return Result{
			Send:      true,
			Message:   plan.Message,
			Branch:    BranchStandard,
			Reasoning: fmt.Sprintf("standard: no conflicting events among %d in context", len(candidates)),
		}, nil
	}

	conf := maxConfidence(conflicts)
	w := e.mode.Weights()
	if w.AI*conf < w.Rule*(1-conf) {
		return Result{
			Send:      true,
			Message:   plan.Message,
			Branch:    BranchStandard,
			Conflicts: conflicts,
			Reasoning: fmt.Sprintf("standard: %s conflict at confidence %.2f not trusted in %s mode",
				conflicts[0].Type, conf, e.mode),
		}, nil
	}

	windows := proposeWindows(conflicts, p, plan.PlannedAt, now)
	res := Result{
		Send:        true,
		Adjusted:    true,
		Message:     rescheduleMessage(notificationType, conflicts, windows),
		Branch:      BranchReschedule,
		NewSchedule: windows,
		Conflicts:   conflicts,
		Reasoning: fmt.Sprintf("reschedule: %d conflicting events (%s), max confidence %.2f in %s mode",
			len(conflicts), typeList(conflicts), conf, e.mode),
	}
	if len(windows) > 0 {
		t := windows[0].Start
		res.Timing = &t
	}
	return res, nil
}

// gather returns the user's context events, rebuilding the context from
// conversation history when the cached copy is stale
func (e *Engine) gather(ctx context.Context, userID string, now time.Time) ([]events.DetectedEvent, error) {
	cached := e.store.GetContext(userID, e.maxContext, 0)
	if cached.Stale {
		if err := e.reload(ctx, userID, now); err != nil {
			return nil, fmt.Errorf("reload context: %w", err)
		}
		cached = e.store.GetContext(userID, e.maxContext, 0)
	}

	out := make([]events.DetectedEvent, 0, len(cached.Events))
	for _, entry := range cached.Events {
		out = append(out, entry.Event)
	}
	return out, nil
}

func (e *Engine) reload(ctx context.Context, userID string, now time.Time) error {
	msgs, err := e.history.Recent(ctx, userID, now.Add(-e.lookback), defaultHistoryLimit)
	if err != nil {
		return err
	}

	var found []events.DetectedEvent
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		found = append(found, e.detector.Detect(ctx, m.Content, m.CreatedAt)...)
	}

	e.store.Load(userID, found)
	logger.Debug("context reloaded from history", "user", userID, "messages", len(msgs), "events", len(found))
	return nil
}

func faultResult(plan *Plan, err error) Result {
	return Result{
		Send:      true,
		Message:   plan.Message,
		Branch:    BranchFault,
		Reasoning: "fault: sending standard reminder after " + err.Error(),
	}
}

func rescheduleMessage(notificationType string, conflicts []events.DetectedEvent, windows []Window) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Looks like %s may get in the way of your %s reminder.", humanize(string(conflicts[0].Type)), notificationType)
	if len(windows) > 0 {
		times := make([]string, len(windows))
		for i, w := range windows {
			times[i] = w.Start.Format("Mon 15:04")
		}
		fmt.Fprintf(&b, " How about %s instead?", strings.Join(times, " or "))
	}
	return b.String()
}

func typeList(evs []events.DetectedEvent) string {
	names := make([]string, len(evs))
	for i, e := range evs {
		names[i] = string(e.Type)
	}
	return strings.Join(names, ", ")
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
