package generic

import "context"

// =============================================================================
// HOLIDAY CALENDAR - External holiday lookups
// =============================================================================

// Holiday is a company holiday.
type Holiday struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id,omitempty"` // empty = global
	Date      Date   `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"` // same month/day every year
}

// HolidayCalendar looks up the holiday falling on a date, if any.
type HolidayCalendar interface {
	HolidayOn(ctx context.Context, date Date) (*Holiday, error)
}

// NoHolidays is a calendar without holidays.
type NoHolidays struct{}

func (NoHolidays) HolidayOn(context.Context, Date) (*Holiday, error) { return nil, nil }

// StaticCalendar is an in-memory calendar, mainly for tests and CLI runs.
type StaticCalendar []Holiday

func (c StaticCalendar) HolidayOn(_ context.Context, date Date) (*Holiday, error) {
	for i := range c {
		h := c[i]
		if h.Date.Equal(date) {
			return &h, nil
		}
		if h.Recurring && h.Date.Month() == date.Month() && h.Date.Day() == date.Day() {
			return &h, nil
		}
	}
	return nil, nil
}

// =============================================================================
// ABSENCES - External leave lookups
// =============================================================================

// Absence is an approved leave covering one employee-day.
type Absence struct {
	EmployeeID string `json:"employee_id"`
	Date       Date   `json:"date"`
	Type       string `json:"type"` // e.g. "vacation", "sick"
}

// AbsenceProvider looks up the absence recorded for an employee-day, if any.
type AbsenceProvider interface {
	AbsenceOn(ctx context.Context, employeeID string, date Date) (*Absence, error)
}

// NoAbsences is a provider without absences.
type NoAbsences struct{}

func (NoAbsences) AbsenceOn(context.Context, string, Date) (*Absence, error) { return nil, nil }
