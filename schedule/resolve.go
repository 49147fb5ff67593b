package schedule

import (
	"time"

	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/nightshift"
)

// ExpectedDay is a schedule row anchored to a concrete date.
type ExpectedDay struct {
	Date                generic.Date
	Weekday             time.Weekday
	IsWorkDay           bool
	ExpectedWorkMinutes generic.Minutes

	// Absolute scheduled times; nil on non-work days.
	Entry      *time.Time
	Exit       *time.Time
	BreakStart *time.Time
	BreakEnd   *time.Time

	// Scheduled minutes (break excluded) inside the night window.
	ExpectedNightMinutes generic.Minutes

	// Gap is set when the schedule has no row for this weekday.
	Gap *ScheduleGapError
}

// ResolveExpectedDay returns the expected working time of date under s, with
// wall-clock times anchored in loc (UTC when nil).
func ResolveExpectedDay(s WorkSchedule, date generic.Date, loc *time.Location) ExpectedDay {
	if loc == nil {
		loc = time.UTC
	}
	out := ExpectedDay{Date: date, Weekday: date.Weekday()}

	day, ok := s.DayFor(date.Weekday())
	if !ok {
		out.Gap = &ScheduleGapError{ScheduleID: s.ID, Weekday: date.Weekday()}
		return out
	}
	if !day.IsWorkDay {
		return out
	}

	midnight := date.In(loc)
	at := func(offset int) *time.Time {
		t := time.Date(midnight.Year(), midnight.Month(), midnight.Day(), 0, offset, 0, 0, loc)
		return &t
	}

	entry, exit, bs, be := day.offsets()
	out.IsWorkDay = true
	out.ExpectedWorkMinutes = day.ExpectedWorkMinutes()
	out.Entry = at(entry)
	out.Exit = at(exit)
	if day.HasBreak() {
		out.BreakStart = at(bs)
		out.BreakEnd = at(be)
	}

	if s.HasNightWindow() {
		out.ExpectedNightMinutes = nightshift.OverlapMinutesAll(out.Intervals(),
			nightshift.Window{Start: s.NightStart, End: s.NightEnd})
	}
	return out
}

// Intervals returns the scheduled working intervals with the break removed.
func (e ExpectedDay) Intervals() []generic.Interval {
	if !e.IsWorkDay || e.Entry == nil || e.Exit == nil {
		return nil
	}
	shift := generic.Interval{Start: *e.Entry, End: *e.Exit}
	if e.BreakStart == nil || e.BreakEnd == nil {
		return []generic.Interval{shift}
	}
	return shift.Subtract([]generic.Interval{{Start: *e.BreakStart, End: *e.BreakEnd}})
}

// ResolvePeriod resolves every day in p.
func ResolvePeriod(s WorkSchedule, p generic.Period, loc *time.Location) []ExpectedDay {
	days := p.Days()
	out := make([]ExpectedDay, 0, len(days))
	for _, d := range days {
		out = append(out, ResolveExpectedDay(s, d, loc))
	}
	return out
}

// LateExitAllowance is how long after a midnight-crossing shift's scheduled
// exit its punches still belong to the previous day.
const LateExitAllowance = 4 * time.Hour

// DayWindow returns the span of clock events that belong to date. It is the
// calendar day, except that punches from the tail of the previous day's
// midnight-crossing shift stay with the previous day.
func DayWindow(s WorkSchedule, date generic.Date, loc *time.Location) generic.Interval {
	if loc == nil {
		loc = time.UTC
	}
	return generic.Interval{Start: dayBoundary(s, date, loc), End: dayBoundary(s, date.AddDays(1), loc)}
}

func dayBoundary(s WorkSchedule, date generic.Date, loc *time.Location) time.Time {
	midnight := date.In(loc)
	prev, ok := s.DayFor(date.AddDays(-1).Weekday())
	if !ok || !prev.IsWorkDay || !prev.CrossesMidnight() {
		return midnight
	}

	boundary := prev.Exit.On(date, loc).Add(LateExitAllowance)
	if today, ok := s.DayFor(date.Weekday()); ok && today.IsWorkDay {
		if entry := today.Entry.On(date, loc); entry.Before(boundary) {
			boundary = entry
		}
	}
	if boundary.Before(midnight) {
		return midnight
	}
	return boundary
}
