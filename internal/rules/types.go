package rules

import (
	"regexp"
	"time"
)

// Weights combine the four matcher families into a raw score
type Weights struct {
	Exact    float64 `yaml:"exact"`
	Variant  float64 `yaml:"variant"`
	Pattern  float64 `yaml:"pattern"`
	Semantic float64 `yaml:"semantic"`
}

// Sum returns the normalisation denominator
func (w Weights) Sum() float64 {
	return w.Exact + w.Variant + w.Pattern + w.Semantic
}

var DefaultWeights = Weights{Exact: 0.4, Variant: 0.2, Pattern: 0.3, Semantic: 0.1}

// EventRule is one event type as written in the rule file
type EventRule struct {
	Type            string   `yaml:"type"`
	Category        string   `yaml:"category,omitempty"`
	Keywords        []string `yaml:"keywords"`
	Variants        []string `yaml:"variants"`
	Patterns        []string `yaml:"patterns"`
	Semantic        []string `yaml:"semantic"`
	Weights         Weights  `yaml:"weights"`
	ImpactLevel     int      `yaml:"impact_level"`
	Priority        int      `yaml:"priority"`
	DefaultDuration string   `yaml:"default_duration"`
}

// TimePattern maps a phrase like "tonight" to a window relative to the
// detection timestamp. Empty Start means the window starts at the timestamp.
type TimePattern struct {
	Name      string `yaml:"name"`
	Pattern   string `yaml:"pattern"`
	DayOffset int    `yaml:"day_offset"`
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	Evening   bool   `yaml:"evening"`
}

// File is the on-disk shape of the rule configuration
type File struct {
	ConfidenceThreshold float64             `yaml:"confidence_threshold"`
	ConfidenceBonus     float64             `yaml:"confidence_bonus"`
	RulesEnabled        *bool               `yaml:"rules_enabled"`
	FallbackEnabled     bool                `yaml:"fallback_enabled"`
	ClockPattern        string              `yaml:"clock_pattern"`
	TimePatterns        []TimePattern       `yaml:"time_patterns"`
	Events              []EventRule         `yaml:"events"`
	Conflicts           map[string][]string `yaml:"conflicts"`
}

// CompiledRule is an EventRule with normalised keywords and compiled patterns
type CompiledRule struct {
	Type            string
	Category        string
	Keywords        []string
	Variants        []string
	Patterns        []*regexp.Regexp
	Semantic        []string
	Weights         Weights
	ImpactLevel     int
	Priority        int
	DefaultDuration time.Duration
}

// CompiledTimePattern is a TimePattern with its regex compiled and clock
// offsets parsed into durations since midnight.
type CompiledTimePattern struct {
	Name      string
	Regexp    *regexp.Regexp
	DayOffset int
	Start     time.Duration
	HasStart  bool
	End       time.Duration
	HasEnd    bool
	Evening   bool
}

// RuleSet is an immutable snapshot of the rule configuration. Callers hold
// one snapshot for the duration of a detection call.
type RuleSet struct {
	Threshold       float64
	Bonus           float64
	RulesEnabled    bool
	FallbackEnabled bool
	Clock           *regexp.Regexp
	TimePatterns    []CompiledTimePattern
	Events          []CompiledRule
	Problems        []*ConfigError
	LoadedAt        time.Time
	Source          string

	conflicts map[string][]string
}

// ConflictsFor returns the event types that conflict with a notification type.
// The returned slice is a copy.
func (rs *RuleSet) ConflictsFor(notificationType string) []string {
	if rs == nil {
		return nil
	}
	types := rs.conflicts[notificationType]
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	copy(out, types)
	return out
}

// Rule returns the compiled rule for an event type
func (rs *RuleSet) Rule(eventType string) (CompiledRule, bool) {
	for _, r := range rs.Events {
		if r.Type == eventType {
			return r, true
		}
	}
	return CompiledRule{}, false
}
