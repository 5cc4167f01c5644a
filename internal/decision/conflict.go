package decision

import (
	"sort"
	"time"

	"github.com/bowerhall/nudge/internal/events"
	"github.com/bowerhall/nudge/internal/profile"
)

const (
	minConflictConfidence = 0.5
	plannedBand           = 2 * time.Hour
	pervasiveDuration     = 4 * time.Hour
	proposalLength        = time.Hour
	maxProposals          = 2
)

// GetConflictingEvents filters events down to genuine conflicts for a
// notification. conflictTypes lists the event types that can conflict at all;
// an empty list means nothing conflicts. With a planned time, an event must
// overlap two hours either side of it unless it lasts more than four hours.
func GetConflictingEvents(conflictTypes []string, evs []events.DetectedEvent, plannedAt *time.Time) []events.DetectedEvent {
	if len(conflictTypes) == 0 {
		return nil
	}

	allowed := make(map[events.EventType]bool, len(conflictTypes))
	for _, t := range conflictTypes {
		allowed[events.EventType(t)] = true
	}

	var out []events.DetectedEvent
	for _, e := range evs {
		if !allowed[e.Type] || e.Confidence <= minConflictConfidence {
			continue
		}
		if plannedAt == nil || e.Duration() > pervasiveDuration || overlapsBand(e, *plannedAt) {
			out = append(out, e)
		}
	}
	return out
}

func overlapsBand(e events.DetectedEvent, planned time.Time) bool {
	if !e.HasWindow() {
		return false
	}
	return e.StartTime.Before(planned.Add(plannedBand)) && e.EndTime.After(planned.Add(-plannedBand))
}

func maxConfidence(evs []events.DetectedEvent) float64 {
	m := 0.0
	for _, e := range evs {
		if e.Confidence > m {
			m = e.Confidence
		}
	}
	return m
}

// proposeWindows suggests up to two slots after the conflicts end, preferring
// the user's preferred times on that day and the next
func proposeWindows(conflicts []events.DetectedEvent, p *profile.Profile, planned, now time.Time) []Window {
	after := now
	for _, e := range conflicts {
		if e.HasWindow() && e.EndTime.After(after) {
			after = e.EndTime
		}
	}

	var starts []time.Time
	if p != nil {
		offsets := p.PreferredOffsets()
		day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, after.Location())
		for d := 0; d < 2; d++ {
			for _, off := range offsets {
				t := day.AddDate(0, 0, d).Add(off)
				if !t.Before(after) {
					starts = append(starts, t)
				}
			}
		}
	}

	if len(starts) == 0 {
		starts = append(starts, after.Add(time.Hour))
		if !planned.IsZero() {
			next := planned.AddDate(0, 0, 1)
			if next.After(after) {
				starts = append(starts, next)
			}
		}
	}

	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	var out []Window
	for _, s := range starts {
		if len(out) > 0 && s.Equal(out[len(out)-1].Start) {
			continue
		}
		out = append(out, Window{Start: s, End: s.Add(proposalLength)})
		if len(out) == maxProposals {
			break
		}
	}
	return out
}
