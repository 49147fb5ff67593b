/*
Package schedule models recurring weekly work schedules and resolves them
into the expected working time of a concrete calendar day.

PURPOSE:
  A WorkSchedule has one Day row per weekday. Resolving a date picks the row
  for that weekday and re-anchors its wall-clock times to the date, so the
  reconciliation engine can compare absolute clock events against it.

MIDNIGHT:
  An exit time earlier than the entry time (22:00 -> 06:00) is a shift that
  crosses midnight. The exit, and any break after midnight, land on date+1.

SEE ALSO:
  - resolve.go: ResolveExpectedDay
  - derive.go: EvenWeek (weekly minutes -> days)
  - factory/schedule.go: JSON -> WorkSchedule
*/
package schedule

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/generic"
)

// Type is the contractual kind of schedule.
type Type string

const (
	TypeFixed        Type = "FIXED"
	TypeFlexible     Type = "FLEXIBLE"
	TypeShift        Type = "SHIFT"
	TypePartTime     Type = "PART_TIME"
	TypeIntermittent Type = "INTERMITTENT"
)

// Valid reports whether t is a known schedule type.
func (t Type) Valid() bool {
	switch t {
	case TypeFixed, TypeFlexible, TypeShift, TypePartTime, TypeIntermittent:
		return true
	}
	return false
}

// =============================================================================
// DAY - One weekday row of a schedule
// =============================================================================

// Day is the schedule row for one weekday. When IsWorkDay is false the time
// fields are ignored.
type Day struct {
	Weekday    time.Weekday
	IsWorkDay  bool
	Entry      generic.TimeOfDay
	Exit       generic.TimeOfDay
	BreakStart *generic.TimeOfDay
	BreakEnd   *generic.TimeOfDay
}

// HasBreak reports whether both break bounds are set.
func (d Day) HasBreak() bool {
	return d.BreakStart != nil && d.BreakEnd != nil
}

// CrossesMidnight reports whether the exit falls on the following day.
func (d Day) CrossesMidnight() bool {
	return d.Exit < d.Entry
}

// ExpectedWorkMinutes is (exit - entry) - (breakEnd - breakStart), clamped
// to zero. Non-work days expect nothing.
func (d Day) ExpectedWorkMinutes() generic.Minutes {
	if !d.IsWorkDay {
		return 0
	}
	entry, exit, bs, be := d.offsets()
	worked := exit - entry
	if d.HasBreak() {
		worked -= be - bs
	}
	return generic.Minutes(worked).ClampZero()
}

// offsets returns entry, exit and break bounds as minutes from the entry
// day's midnight, unwrapping anything that happens after midnight.
func (d Day) offsets() (entry, exit, breakStart, breakEnd int) {
	entry = int(d.Entry)
	exit = int(d.Exit)
	if exit < entry {
		exit += 24 * 60
	}
	if d.HasBreak() {
		breakStart = int(*d.BreakStart)
		if breakStart < entry {
			breakStart += 24 * 60
		}
		breakEnd = int(*d.BreakEnd)
		if breakEnd < breakStart {
			breakEnd += 24 * 60
		}
	}
	return entry, exit, breakStart, breakEnd
}

// =============================================================================
// WORK SCHEDULE
// =============================================================================

// WorkSchedule is a recurring weekly schedule.
type WorkSchedule struct {
	ID                      string
	Name                    string
	Type                    Type
	WeeklyExpectedMinutes   generic.Minutes
	ToleranceMinutes        generic.Minutes
	MinBreakMinutes         generic.Minutes
	MaxDailyOvertimeMinutes generic.Minutes

	BankEnabled          bool
	BankExpirationMonths int             // 0 = credits never expire
	BankMultiplier       decimal.Decimal // zero value = 1.0

	NightStart          generic.TimeOfDay
	NightEnd            generic.TimeOfDay
	NightPremiumPercent decimal.Decimal

	Days []Day
}

// DayFor returns the row for a weekday.
func (s WorkSchedule) DayFor(wd time.Weekday) (Day, bool) {
	for _, d := range s.Days {
		if d.Weekday == wd {
			return d, true
		}
	}
	return Day{}, false
}

// ComputedWeeklyMinutes sums ExpectedWorkMinutes over the configured days.
func (s WorkSchedule) ComputedWeeklyMinutes() generic.Minutes {
	var total generic.Minutes
	for _, d := range s.Days {
		total += d.ExpectedWorkMinutes()
	}
	return total
}

// Multiplier returns the credit multiplier, defaulting to 1.
func (s WorkSchedule) Multiplier() decimal.Decimal {
	if s.BankMultiplier.IsZero() {
		return decimal.NewFromInt(1)
	}
	return s.BankMultiplier
}

// ExpiresCredits reports whether bank credits carry an expiration date.
func (s WorkSchedule) ExpiresCredits() bool {
	return s.BankEnabled && s.BankExpirationMonths > 0
}

// CreditExpiration returns the expiration date for a credit earned on date,
// or nil when credits do not expire.
func (s WorkSchedule) CreditExpiration(date generic.Date) *generic.Date {
	if !s.ExpiresCredits() {
		return nil
	}
	exp := date.AddMonths(s.BankExpirationMonths)
	return &exp
}

// HasNightWindow reports whether a non-empty night window is configured.
func (s WorkSchedule) HasNightWindow() bool {
	return s.NightStart != s.NightEnd
}

// Validate checks the structural rules of a schedule. Weekdays without a row
// are allowed; they resolve as non-work days.
func (s WorkSchedule) Validate() error {
	var problems []string

	if s.ID == "" {
		problems = append(problems, "id is required")
	}
	if s.Type != "" && !s.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown type %q", s.Type))
	}
	if s.ToleranceMinutes < 0 || s.MinBreakMinutes < 0 || s.MaxDailyOvertimeMinutes < 0 || s.WeeklyExpectedMinutes < 0 {
		problems = append(problems, "minute settings must not be negative")
	}
	if s.BankExpirationMonths < 0 {
		problems = append(problems, "bank expiration months must not be negative")
	}
	if s.BankMultiplier.IsNegative() {
		problems = append(problems, "bank multiplier must not be negative")
	}
	if s.NightPremiumPercent.IsNegative() {
		problems = append(problems, "night premium percent must not be negative")
	}
	if !s.NightStart.Valid() || !s.NightEnd.Valid() {
		problems = append(problems, "night window times out of range")
	}

	seen := make(map[time.Weekday]bool, 7)
	for _, d := range s.Days {
		if d.Weekday < time.Sunday || d.Weekday > time.Saturday {
			problems = append(problems, fmt.Sprintf("weekday %d out of range", d.Weekday))
			continue
		}
		if seen[d.Weekday] {
			problems = append(problems, fmt.Sprintf("%s configured more than once", d.Weekday))
		}
		seen[d.Weekday] = true

		if !d.IsWorkDay {
			continue
		}
		if !d.Entry.Valid() || !d.Exit.Valid() {
			problems = append(problems, fmt.Sprintf("%s: entry/exit out of range", d.Weekday))
		}
		if (d.BreakStart == nil) != (d.BreakEnd == nil) {
			problems = append(problems, fmt.Sprintf("%s: break start and end must both be set or both be empty", d.Weekday))
		}
		if d.HasBreak() && (!d.BreakStart.Valid() || !d.BreakEnd.Valid()) {
			problems = append(problems, fmt.Sprintf("%s: break out of range", d.Weekday))
		}
	}

	if len(problems) > 0 {
		return &generic.InvalidScheduleError{ScheduleID: s.ID, Problems: problems}
	}
	return nil
}

// ScheduleGapError reports a weekday with no configured row. The resolver
// degrades it to a non-work day and attaches it to the ExpectedDay instead of
// returning it.
type ScheduleGapError struct {
	ScheduleID string
	Weekday    time.Weekday
}

func (e *ScheduleGapError) Error() string {
	return fmt.Sprintf("schedule %q has no row for %s", e.ScheduleID, e.Weekday)
}
