package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - A civil calendar day (no clock, no zone)
// =============================================================================

// DateLayout is the wire and storage layout of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day. Employee-days, holiday dates, reference dates and
// credit expiration dates are all Dates; they are anchored to a location only
// when interval arithmetic needs absolute instants.
type Date struct {
	t time.Time // always midnight UTC
}

// NewDate builds a Date, normalizing overflow the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Today returns the current calendar day in loc.
func Today(loc *time.Location) Date {
	return DateOf(time.Now().In(loc))
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals in tests and presets.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.t.After(o.t) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.t.Before(o.t) }
func (d Date) IsZero() bool              { return d.t.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }

// DaysUntil returns the number of days from d to o (negative when o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

// Properties
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// TIME OF DAY - Wall-clock time used by schedules and night windows
// =============================================================================

// TimeOfDay is a wall-clock time expressed as minutes since midnight (0..1439).
type TimeOfDay int

const minutesPerDay = 24 * 60

// NewTimeOfDay builds a TimeOfDay from hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

// MustParseTimeOfDay is ParseTimeOfDay for literals.
func MustParseTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

// Valid reports whether the value is a real wall-clock time.
func (t TimeOfDay) Valid() bool { return t >= 0 && t < minutesPerDay }

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// On anchors the time of day to date in loc.
func (t TimeOfDay) On(date Date, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// =============================================================================
// INTERVAL - Half-open absolute span [Start, End)
// =============================================================================

type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration is End-Start, or zero for an empty or inverted interval.
func (i Interval) Duration() time.Duration {
	if !i.End.After(i.Start) {
		return 0
	}
	return i.End.Sub(i.Start)
}

// Minutes is the duration in whole minutes (truncated).
func (i Interval) Minutes() Minutes {
	return DurationMinutes(i.Duration())
}

func (i Interval) IsEmpty() bool { return !i.End.After(i.Start) }

// Shift moves both ends by d.
func (i Interval) Shift(d time.Duration) Interval {
	return Interval{Start: i.Start.Add(d), End: i.End.Add(d)}
}

// Intersect returns the overlap of i and o, and false when they do not overlap.
func (i Interval) Intersect(o Interval) (Interval, bool) {
	start := i.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := i.End
	if o.End.Before(end) {
		end = o.End
	}
	out := Interval{Start: start, End: end}
	if out.IsEmpty() {
		return Interval{}, false
	}
	return out, true
}

// Subtract removes every cut from i and returns the remaining pieces in order.
// Cuts are expected sorted by start.
func (i Interval) Subtract(cuts []Interval) []Interval {
	pieces := []Interval{i}
	for _, c := range cuts {
		var next []Interval
		for _, p := range pieces {
			overlap, ok := p.Intersect(c)
			if !ok {
				next = append(next, p)
				continue
			}
			if overlap.Start.After(p.Start) {
				next = append(next, Interval{Start: p.Start, End: overlap.Start})
			}
			if p.End.After(overlap.End) {
				next = append(next, Interval{Start: overlap.End, End: p.End})
			}
		}
		pieces = next
	}
	return pieces
}

// DurationMinutes truncates a duration to whole minutes.
func DurationMinutes(d time.Duration) Minutes {
	return Minutes(d / time.Minute)
}
