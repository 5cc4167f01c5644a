package events

import (
	"time"

	"github.com/bowerhall/nudge/internal/rules"
)

type EventType string

const (
	BusinessDinner  EventType = "business_dinner"
	Illness         EventType = "illness"
	Travel          EventType = "travel"
	Overtime        EventType = "overtime"
	FamilyEvent     EventType = "family_event"
	SocialGathering EventType = "social_gathering"
	SpecialOccasion EventType = "special_occasion"
)

type Category string

const (
	CategoryWork     Category = "work_related"
	CategoryHealth   Category = "health_related"
	CategoryPersonal Category = "personal"
	CategorySocial   Category = "social"
	CategorySpecial  Category = "special"
)

type Source string

const (
	SourceConversation Source = "conversation"
	SourceProfile      Source = "profile"
	SourceSystem       Source = "system"
)

// DetectorRules and DetectorFallback record which path produced an event
const (
	DetectorRules    = "rules"
	DetectorFallback = "fallback"
)

// MetaFeedback marks an event the user has already given feedback on
const MetaFeedback = "feedback"

// catalog of supported event types and their default category
var catalog = map[EventType]Category{
	BusinessDinner:  CategoryWork,
	Illness:         CategoryHealth,
	Travel:          CategoryPersonal,
	Overtime:        CategoryWork,
	FamilyEvent:     CategoryPersonal,
	SocialGathering: CategorySocial,
	SpecialOccasion: CategorySpecial,
}

// IsKnown reports whether the detector supports an event type
func IsKnown(t EventType) bool {
	_, ok := catalog[t]
	return ok
}

// CategoryOf returns the default category for a supported type
func CategoryOf(t EventType) Category {
	return catalog[t]
}

var categories = map[Category]bool{
	CategoryWork:     true,
	CategoryHealth:   true,
	CategoryPersonal: true,
	CategorySocial:   true,
	CategorySpecial:  true,
}

// ruleCategory resolves the category a configured rule emits. Built-in
// types default to their catalog category; any other type is supported
// only when its rule names a known category.
func ruleCategory(rule rules.CompiledRule) (Category, bool) {
	c := Category(rule.Category)
	if def, ok := catalog[EventType(rule.Type)]; ok {
		if c == "" {
			c = def
		}
		return c, true
	}
	return c, categories[c]
}

// Unsupported lists the rule types the detector will never emit
func Unsupported(rs *rules.RuleSet) []string {
	var out []string
	for _, rule := range rs.Events {
		if _, ok := ruleCategory(rule); !ok {
			out = append(out, rule.Type)
		}
	}
	return out
}

// DetectedEvent is a typed, time-scoped observation extracted from text.
// Values are never modified after detection; use With* helpers to derive copies.
type DetectedEvent struct {
	ID          string
	Type        EventType
	Category    Category
	Confidence  float64
	StartTime   time.Time
	EndTime     time.Time
	Source      Source
	Keywords    []string
	ImpactLevel int
	Priority    int
	Detector    string
	Metadata    map[string]string
}

// HasWindow reports whether both ends of the time window are set
func (e DetectedEvent) HasWindow() bool {
	return !e.StartTime.IsZero() && !e.EndTime.IsZero()
}

// Duration returns the window length, zero when unset
func (e DetectedEvent) Duration() time.Duration {
	if !e.HasWindow() {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// HasFeedback reports whether the metadata marks prior user feedback
func (e DetectedEvent) HasFeedback() bool {
	return e.Metadata[MetaFeedback] == "true"
}

// WithFeedback returns a copy marked as having user feedback
func (e DetectedEvent) WithFeedback() DetectedEvent {
	meta := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[MetaFeedback] = "true"
	e.Metadata = meta
	e.Keywords = append([]string(nil), e.Keywords...)
	return e
}
