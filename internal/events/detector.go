package events

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bowerhall/nudge/internal/logger"
	"github.com/bowerhall/nudge/internal/metrics"
	"github.com/bowerhall/nudge/internal/rules"
)

const defaultFallbackTimeout = 5 * time.Second

// RuleSource hands out the current rule snapshot
type RuleSource interface {
	Current() *rules.RuleSet
}

// Classifier is the secondary detection path used when the rules find nothing
type Classifier interface {
	Classify(ctx context.Context, text string, at time.Time) ([]DetectedEvent, error)
}

type Detector struct {
	rules           RuleSource
	fallback        Classifier
	fallbackTimeout time.Duration
	metrics         *metrics.Metrics

	// last rule snapshot checked for unsupported types
	audited atomic.Pointer[rules.RuleSet]
}

type Option func(*Detector)

// WithFallback sets the classifier consulted when no rule fires
func WithFallback(c Classifier, timeout time.Duration) Option {
	return func(d *Detector) {
		d.fallback = c
		if timeout > 0 {
			d.fallbackTimeout = timeout
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

func NewDetector(src RuleSource, opts ...Option) *Detector {
	d := &Detector{
		rules:           src,
		fallbackTimeout: defaultFallbackTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect extracts life events from free text. It never fails: empty input,
// a broken rule or a failing fallback all degrade to fewer events. Results
// are sorted by confidence then priority, one event per type.
func (d *Detector) Detect(ctx context.Context, text string, at time.Time) []DetectedEvent {
	rs := d.rules.Current()
	if d.audited.Swap(rs) != rs {
		for _, t := range Unsupported(rs) {
			logger.Warn("rule type ignored: not a built-in type and no known category", "type", t)
		}
	}

	normalized := rules.Normalize(text)
	if normalized == "" {
		return nil
	}

	var found []DetectedEvent
	if rs.RulesEnabled {
		found = MatchRules(rs, normalized, at)
	}

	if len(found) == 0 && rs.FallbackEnabled && d.fallback != nil {
		found = append(found, d.classify(ctx, rs, text, at)...)
	}

	found = rank(found)
	for _, e := range found {
		d.metrics.EventDetected(string(e.Type), e.Detector)
	}

	return found
}

// MatchRules scores every rule against already normalised text and returns
// the events at or above the snapshot threshold.
func MatchRules(rs *rules.RuleSet, normalized string, at time.Time) []DetectedEvent {
	tokens := tokenSet(normalized)

	var out []DetectedEvent
	for _, rule := range rs.Events {
		et := EventType(rule.Type)
		category, ok := ruleCategory(rule)
		if !ok {
			continue
		}

		counts := countMatches(rule, normalized, tokens)
		if counts.families() == 0 {
			continue
		}

		conf := confidence(rule, counts, rs.Bonus)
		if conf < rs.Threshold {
			continue
		}

		start, end := resolveWindow(rs, normalized, at, rule.DefaultDuration)

		out = append(out, DetectedEvent{
			ID:          uuid.NewString(),
			Type:        et,
			Category:    category,
			Confidence:  conf,
			StartTime:   start,
			EndTime:     end,
			Source:      SourceConversation,
			Keywords:    counts.keywords,
			ImpactLevel: rule.ImpactLevel,
			Priority:    rule.Priority,
			Detector:    DetectorRules,
		})
	}

	return out
}

func (d *Detector) classify(ctx context.Context, rs *rules.RuleSet, text string, at time.Time) []DetectedEvent {
	ctx, cancel := context.WithTimeout(ctx, d.fallbackTimeout)
	defer cancel()

	type result struct {
		events []DetectedEvent
		err    error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("fallback classifier panicked", "panic", r)
				done <- result{}
			}
		}()
		evs, err := d.fallback.Classify(ctx, text, at)
		done <- result{events: evs, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		logger.Warn("fallback classifier timed out", "timeout", d.fallbackTimeout)
		return nil
	case res = <-done:
	}

	if res.err != nil {
		logger.Warn("fallback classifier failed", "error", res.err)
		return nil
	}

	var out []DetectedEvent
	for _, e := range res.events {
		e, ok := sanitizeFallback(rs, e, at)
		if ok {
			out = append(out, e)
		}
	}
	return out
}

// sanitizeFallback forces a classifier result into the same shape and
// guarantees as rule-based events
func sanitizeFallback(rs *rules.RuleSet, e DetectedEvent, at time.Time) (DetectedEvent, bool) {
	e.Type = EventType(strings.ToLower(strings.TrimSpace(string(e.Type))))
	rule, hasRule := rs.Rule(string(e.Type))
	if !IsKnown(e.Type) {
		if !hasRule {
			return e, false
		}
		if _, ok := ruleCategory(rule); !ok {
			return e, false
		}
	}

	e.Confidence = clamp01(e.Confidence)
	if e.Confidence < rs.Threshold {
		return e, false
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Category == "" {
		e.Category = CategoryOf(e.Type)
		if hasRule && rule.Category != "" {
			e.Category = Category(rule.Category)
		}
	}
	if e.Source == "" {
		e.Source = SourceConversation
	}
	if e.ImpactLevel < 1 || e.ImpactLevel > 5 {
		e.ImpactLevel = 3
		if hasRule {
			e.ImpactLevel = rule.ImpactLevel
		}
	}
	if e.Priority == 0 && hasRule {
		e.Priority = rule.Priority
	}

	dur := 2 * time.Hour
	if hasRule && rule.DefaultDuration > 0 {
		dur = rule.DefaultDuration
	}
	if e.StartTime.IsZero() {
		e.StartTime = at
	}
	if e.EndTime.IsZero() || e.EndTime.Before(e.StartTime) {
		e.EndTime = e.StartTime.Add(dur)
	}

	e.Detector = DetectorFallback
	return e, true
}

// rank sorts by confidence then priority and keeps one event per type.
// On a confidence tie the rule-based event wins.
func rank(evs []DetectedEvent) []DetectedEvent {
	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Detector == DetectorRules && b.Detector != DetectorRules
	})

	seen := make(map[EventType]bool, len(evs))
	out := evs[:0]
	for _, e := range evs {
		if seen[e.Type] {
			continue
		}
		seen[e.Type] = true
		out = append(out, e)
	}
	return out
}
