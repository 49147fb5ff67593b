package generic

// =============================================================================
// PERIOD - Inclusive date range used by aggregation and bank summaries
// =============================================================================

// Period is the inclusive range [Start, End] of calendar days.
//
// Examples:
//   - A payroll week: Mon 2025-03-10 .. Sun 2025-03-16
//   - A month: 2025-03-01 .. 2025-03-31
type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// NewPeriod validates that end is not before start.
func NewPeriod(start, end Date) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate returns ErrInvalidPeriod when End is before Start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns all days in the period.
func (p Period) Days() []Date {
	var days []Date
	for d := p.Start; d.BeforeOrEqual(p.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// Len is the number of days in the period.
func (p Period) Len() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return p.Start.DaysUntil(p.End) + 1
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthOf returns the calendar month containing d.
func MonthOf(d Date) Period {
	start := NewDate(d.Year(), d.Month(), 1)
	return Period{Start: start, End: start.AddMonths(1).AddDays(-1)}
}

// WeekOf returns the Monday..Sunday week containing d.
func WeekOf(d Date) Period {
	offset := (int(d.Weekday()) + 6) % 7
	start := d.AddDays(-offset)
	return Period{Start: start, End: start.AddDays(6)}
}
