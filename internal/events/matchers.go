package events

import (
	"math"
	"strings"
	"unicode"

	"github.com/bowerhall/nudge/internal/rules"
)

// matchCounts holds the integer hit count of each matcher family
type matchCounts struct {
	exact    int
	variant  int
	pattern  int
	semantic int
	keywords []string
}

func (c matchCounts) families() int {
	n := 0
	for _, v := range []int{c.exact, c.variant, c.pattern, c.semantic} {
		if v > 0 {
			n++
		}
	}
	return n
}

// countMatches runs the four matchers of one rule against normalised text
func countMatches(rule rules.CompiledRule, text string, tokens map[string]bool) matchCounts {
	var c matchCounts
	seen := make(map[string]bool)
	hit := func(kw string) {
		if !seen[kw] {
			seen[kw] = true
			c.keywords = append(c.keywords, kw)
		}
	}

	for _, kw := range rule.Keywords {
		if strings.Contains(text, kw) {
			c.exact++
			hit(kw)
		}
	}

	for _, v := range rule.Variants {
		if variantMatches(v, text, tokens) {
			c.variant++
			hit(v)
		}
	}

	for _, re := range rule.Patterns {
		if re.MatchString(text) {
			c.pattern++
		}
	}

	// substring containment stands in for a similarity function
	for _, s := range rule.Semantic {
		if strings.Contains(text, s) {
			c.semantic++
			hit(s)
		}
	}

	return c
}

// variantMatches reports whether every token of the variant occurs in the
// text. Latin tokens must match whole words; CJK tokens match as substrings
// because the text is not segmented.
func variantMatches(variant, text string, tokens map[string]bool) bool {
	vt := tokenize(variant)
	if len(vt) == 0 {
		return false
	}
	for _, t := range vt {
		if isASCII(t) {
			if !tokens[t] {
				return false
			}
			continue
		}
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

// confidence normalises the weighted counts into [0,1] and applies the
// multi-family bonus
func confidence(rule rules.CompiledRule, c matchCounts, bonus float64) float64 {
	w := rule.Weights
	sum := w.Sum()
	if sum <= 0 {
		return 0
	}

	raw := w.Exact*float64(c.exact) +
		w.Variant*float64(c.variant) +
		w.Pattern*float64(c.pattern) +
		w.Semantic*float64(c.semantic)

	conf := raw / sum
	if c.families() >= 2 {
		conf += bonus
	}

	return clamp01(conf)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize(s) {
		set[t] = true
	}
	return set
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
