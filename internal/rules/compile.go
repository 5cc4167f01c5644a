package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/width"
	"gopkg.in/yaml.v3"

	"github.com/bowerhall/nudge/internal/logger"
)

const (
	defaultThreshold = 0.6
	defaultBonus     = 0.15
	defaultDuration  = 2 * time.Hour
	defaultClock     = `(\d{1,2})(?:[:](\d{2})|点)`
)

// Normalize folds full-width characters, lowercases and collapses whitespace.
// Keywords and input text go through the same function.
func Normalize(s string) string {
	s = width.Fold.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// Parse decodes a YAML rule file and compiles it. Only a syntactically
// invalid document is an error; bad entries are isolated into Problems.
func Parse(data []byte, source string, now time.Time) (*RuleSet, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrConfiguration, source, err)
	}
	return Compile(f, source, now), nil
}

// Compile validates a decoded rule file into an immutable RuleSet
func Compile(f File, source string, now time.Time) *RuleSet {
	rs := &RuleSet{
		Threshold:       f.ConfidenceThreshold,
		Bonus:           f.ConfidenceBonus,
		RulesEnabled:    true,
		FallbackEnabled: f.FallbackEnabled,
		LoadedAt:        now,
		Source:          source,
		conflicts:       make(map[string][]string),
	}

	if f.RulesEnabled != nil {
		rs.RulesEnabled = *f.RulesEnabled
	}

	if rs.Threshold <= 0 || rs.Threshold > 1 {
		if f.ConfidenceThreshold != 0 {
			rs.problem("", "confidence_threshold", fmt.Sprint(f.ConfidenceThreshold), fmt.Errorf("must be in (0,1]"))
		}
		rs.Threshold = defaultThreshold
	}

	if rs.Bonus < 0 || rs.Bonus > 1 {
		rs.problem("", "confidence_bonus", fmt.Sprint(f.ConfidenceBonus), fmt.Errorf("must be in [0,1]"))
		rs.Bonus = defaultBonus
	} else if rs.Bonus == 0 {
		rs.Bonus = defaultBonus
	}

	clock := f.ClockPattern
	if clock == "" {
		clock = defaultClock
	}
	re, err := regexp.Compile(clock)
	if err != nil {
		rs.problem("", "clock_pattern", clock, err)
		re = regexp.MustCompile(defaultClock)
	}
	rs.Clock = re

	for _, tp := range f.TimePatterns {
		if c, ok := rs.compileTimePattern(tp); ok {
			rs.TimePatterns = append(rs.TimePatterns, c)
		}
	}

	seen := make(map[string]bool)
	for _, er := range f.Events {
		if er.Type == "" {
			rs.problem("", "type", "", fmt.Errorf("event rule without type"))
			continue
		}
		if seen[er.Type] {
			rs.problem(er.Type, "type", er.Type, fmt.Errorf("duplicate event type"))
			continue
		}
		seen[er.Type] = true
		rs.Events = append(rs.Events, rs.compileRule(er))
	}

	for notificationType, eventTypes := range f.Conflicts {
		var types []string
		for _, t := range eventTypes {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
		rs.conflicts[notificationType] = types
	}

	for _, p := range rs.Problems {
		logger.Warn("rule configuration problem", "source", source, "error", p)
	}

	return rs
}

func (rs *RuleSet) problem(eventType, field, value string, err error) {
	rs.Problems = append(rs.Problems, &ConfigError{EventType: eventType, Field: field, Value: value, Err: err})
}

func (rs *RuleSet) compileRule(er EventRule) CompiledRule {
	cr := CompiledRule{
		Type:        er.Type,
		Category:    er.Category,
		Keywords:    normalizeAll(er.Keywords),
		Variants:    normalizeAll(er.Variants),
		Semantic:    normalizeAll(er.Semantic),
		Weights:     er.Weights,
		ImpactLevel: er.ImpactLevel,
		Priority:    er.Priority,
	}

	// one bad pattern disables only that pattern
	for _, p := range er.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			rs.problem(er.Type, "patterns", p, err)
			continue
		}
		cr.Patterns = append(cr.Patterns, re)
	}

	w := cr.Weights
	if w.Exact < 0 || w.Variant < 0 || w.Pattern < 0 || w.Semantic < 0 {
		rs.problem(er.Type, "weights", fmt.Sprintf("%+v", w), fmt.Errorf("weights must not be negative"))
		cr.Weights = DefaultWeights
	} else if w.Sum() == 0 {
		cr.Weights = DefaultWeights
	}

	if cr.ImpactLevel < 1 || cr.ImpactLevel > 5 {
		if cr.ImpactLevel != 0 {
			rs.problem(er.Type, "impact_level", fmt.Sprint(er.ImpactLevel), fmt.Errorf("must be in [1,5]"))
		}
		cr.ImpactLevel = 3
	}

	if cr.Priority < 0 {
		rs.problem(er.Type, "priority", fmt.Sprint(er.Priority), fmt.Errorf("must not be negative"))
		cr.Priority = 0
	}

	cr.DefaultDuration = defaultDuration
	if er.DefaultDuration != "" {
		d, err := time.ParseDuration(er.DefaultDuration)
		if err != nil || d <= 0 {
			rs.problem(er.Type, "default_duration", er.DefaultDuration, fmt.Errorf("invalid duration"))
		} else {
			cr.DefaultDuration = d
		}
	}

	return cr
}

func (rs *RuleSet) compileTimePattern(tp TimePattern) (CompiledTimePattern, bool) {
	re, err := regexp.Compile(tp.Pattern)
	if err != nil {
		rs.problem("", "time_patterns."+tp.Name, tp.Pattern, err)
		return CompiledTimePattern{}, false
	}

	c := CompiledTimePattern{
		Name:      tp.Name,
		Regexp:    re,
		DayOffset: tp.DayOffset,
		Evening:   tp.Evening,
	}

	if tp.Start != "" {
		d, err := ParseClock(tp.Start)
		if err != nil {
			rs.problem("", "time_patterns."+tp.Name+".start", tp.Start, err)
			return CompiledTimePattern{}, false
		}
		c.Start, c.HasStart = d, true
	}

	if tp.End != "" {
		d, err := ParseClock(tp.End)
		if err != nil {
			rs.problem("", "time_patterns."+tp.Name+".end", tp.End, err)
			return CompiledTimePattern{}, false
		}
		c.End, c.HasEnd = d, true
	}

	if c.HasStart && c.HasEnd && c.End < c.Start {
		rs.problem("", "time_patterns."+tp.Name, tp.Start+"-"+tp.End, fmt.Errorf("end before start"))
		return CompiledTimePattern{}, false
	}

	return c, true
}

// ParseClock parses "HH:MM" into a duration since midnight
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func normalizeAll(in []string) []string {
	var out []string
	for _, s := range in {
		if n := Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
