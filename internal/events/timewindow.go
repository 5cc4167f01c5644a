package events

import (
	"strconv"
	"time"

	"github.com/bowerhall/nudge/internal/rules"
)

// resolveWindow maps relative day phrases and clock times in the text to a
// [start, end] window anchored at the detection timestamp.
func resolveWindow(rs *rules.RuleSet, text string, at time.Time, dur time.Duration) (time.Time, time.Time) {
	if dur <= 0 {
		dur = 2 * time.Hour
	}

	midnight := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())

	var phrase *rules.CompiledTimePattern
	for i := range rs.TimePatterns {
		if rs.TimePatterns[i].Regexp.MatchString(text) {
			phrase = &rs.TimePatterns[i]
			break
		}
	}

	day := midnight
	if phrase != nil {
		day = midnight.AddDate(0, 0, phrase.DayOffset)
	}

	if clock, ok := findClock(rs, text, phrase); ok {
		start := day.Add(clock)
		return start, start.Add(dur)
	}

	if phrase == nil {
		return at, at.Add(dur)
	}

	start := at
	if phrase.HasStart {
		start = day.Add(phrase.Start)
	} else if phrase.DayOffset != 0 {
		start = day
	}

	end := start.Add(dur)
	if phrase.HasEnd {
		end = day.Add(phrase.End)
	}
	if end.Before(start) {
		end = start.Add(dur)
	}

	return start, end
}

// findClock extracts the first valid clock time as an offset from midnight.
// Within an evening phrase a bare "7" means 19:00.
func findClock(rs *rules.RuleSet, text string, phrase *rules.CompiledTimePattern) (time.Duration, bool) {
	if rs.Clock == nil {
		return 0, false
	}

	for _, m := range rs.Clock.FindAllStringSubmatch(text, -1) {
		if len(m) < 2 {
			continue
		}

		hour, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		minute := 0
		if len(m) > 2 && m[2] != "" {
			if minute, err = strconv.Atoi(m[2]); err != nil {
				continue
			}
		}

		if phrase != nil && phrase.Evening && hour < 12 {
			hour += 12
		}

		if hour > 23 || minute > 59 {
			continue
		}

		return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, true
	}

	return 0, false
}
