package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bowerhall/nudge/internal/reminder"
)

// cronParser is configured for standard 5-field cron expressions
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleFor converts a reminder setting into its firing schedule in loc.
// Daily settings become cron specs; interval settings repeat from
// TimeOfDay until midnight.
func ScheduleFor(s *reminder.Setting, loc *time.Location) (cron.Schedule, error) {
	clock, err := s.Clock()
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	if s.IntervalMinutes > 0 {
		return &intervalSchedule{
			start:        clock,
			every:        time.Duration(s.IntervalMinutes) * time.Minute,
			weekdaysOnly: s.WeekdaysOnly,
			loc:          loc,
		}, nil
	}

	dow := "*"
	if s.WeekdaysOnly {
		dow = "1-5"
	}
	spec := fmt.Sprintf("%d %d * * %s", int(clock.Minutes())%60, int(clock.Hours()), dow)

	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if ss, ok := sched.(*cron.SpecSchedule); ok {
		ss.Location = loc
	}
	return sched, nil
}

// DueAt returns the fire time inside [now, now+window), if any
func DueAt(sched cron.Schedule, now time.Time, window time.Duration) (time.Time, bool) {
	next := sched.Next(now.Add(-time.Nanosecond))
	if next.IsZero() || next.Before(now) || !next.Before(now.Add(window)) {
		return time.Time{}, false
	}
	return next, true
}

// intervalSchedule fires every `every` starting at `start` past local
// midnight, stopping at the end of the day
type intervalSchedule struct {
	start        time.Duration
	every        time.Duration
	weekdaysOnly bool
	loc          *time.Location
}

func (s *intervalSchedule) Next(t time.Time) time.Time {
	t = t.In(s.loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)

	// a week always contains a weekday
	for i := 0; i < 8; i++ {
		if !s.weekdaysOnly || isWeekday(day.Weekday()) {
			first := day.Add(s.start)
			end := day.AddDate(0, 0, 1)

			if t.Before(first) {
				return first
			}
			n := t.Sub(first)/s.every + 1
			if next := first.Add(n * s.every); next.Before(end) {
				return next
			}
		}
		day = day.AddDate(0, 0, 1)
		t = day.Add(-time.Nanosecond)
	}
	return time.Time{}
}

func isWeekday(d time.Weekday) bool {
	return d != time.Saturday && d != time.Sunday
}
