/*
Package reconcile compares one employee-day of clock events against the
expected day of a schedule and classifies the minutes.

PURPOSE:
  Reconcile is a pure function: same events and expected day in, identical
  DailySummary out. It never fails. Malformed event sequences degrade to a
  best-effort summary carrying warnings, so a day is always reportable.

STATUS:
  Each day has exactly one DayStatus, chosen by precedence:
    ABSENCE > HOLIDAY > MISSING > PENDING > NORMAL
  The warnings list keeps the facts that a higher status hides (a holiday
  with an unmatched IN still carries INCOMPLETE_RECORDS).

SEE ALSO:
  - engine.go: Reconcile
  - aggregate.go: Aggregate (DailySummary stream -> PeriodTotals)
  - timesheet/service.go: Fetches inputs and posts results to the bank
*/
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/nightshift"
	"github.com/warp/worktime-engine/schedule"
)

// =============================================================================
// CLOCK EVENTS
// =============================================================================

type EventKind string

const (
	EventIn         EventKind = "IN"
	EventOut        EventKind = "OUT"
	EventBreakStart EventKind = "BREAK_START"
	EventBreakEnd   EventKind = "BREAK_END"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventIn, EventOut, EventBreakStart, EventBreakEnd:
		return true
	}
	return false
}

// ClockEvent is a raw punch. Pending events await manager approval and are
// counted optimistically.
type ClockEvent struct {
	EmployeeID string    `json:"employee_id"`
	At         time.Time `json:"at"`
	Kind       EventKind `json:"kind"`
	Pending    bool      `json:"pending,omitempty"`
}

// =============================================================================
// DAY STATUS
// =============================================================================

type DayStatus string

const (
	StatusNormal  DayStatus = "NORMAL"
	StatusHoliday DayStatus = "HOLIDAY"
	StatusAbsence DayStatus = "ABSENCE"
	StatusMissing DayStatus = "MISSING"
	StatusPending DayStatus = "PENDING"
)

// AllStatuses lists every status in precedence order.
var AllStatuses = []DayStatus{StatusAbsence, StatusHoliday, StatusMissing, StatusPending, StatusNormal}

// WarningCode identifies a degraded-input condition.
type WarningCode string

const (
	// WarnIncompleteRecords: an IN or OUT is missing its pair.
	WarnIncompleteRecords WarningCode = "INCOMPLETE_RECORDS"
	// WarnUnmatchedBreak: a BREAK_START or BREAK_END is missing its pair.
	WarnUnmatchedBreak WarningCode = "UNMATCHED_BREAK"
	// WarnPendingRecords: at least one event awaits approval.
	WarnPendingRecords WarningCode = "PENDING_RECORDS"
	// WarnScheduleGap: the schedule has no row for the weekday.
	WarnScheduleGap WarningCode = "SCHEDULE_GAP"
	// WarnShortBreak: total break is below the schedule minimum.
	WarnShortBreak WarningCode = "SHORT_BREAK"
)

type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
	At      *time.Time  `json:"at,omitempty"`
}

// =============================================================================
// RULES & INPUT
// =============================================================================

// Rules are the per-schedule knobs the engine applies.
type Rules struct {
	Tolerance           generic.Minutes
	MaxDailyOvertime    generic.Minutes // <= 0 means no cap
	MinBreak            generic.Minutes
	Night               *nightshift.Window
	NightPremiumPercent decimal.Decimal
}

// RulesFor extracts the reconciliation rules of a schedule.
func RulesFor(s schedule.WorkSchedule) Rules {
	r := Rules{
		Tolerance:           s.ToleranceMinutes,
		MaxDailyOvertime:    s.MaxDailyOvertimeMinutes,
		MinBreak:            s.MinBreakMinutes,
		NightPremiumPercent: s.NightPremiumPercent,
	}
	if s.HasNightWindow() {
		r.Night = &nightshift.Window{Start: s.NightStart, End: s.NightEnd}
	}
	return r
}

// Input is everything needed to reconcile one employee-day.
type Input struct {
	EmployeeID string
	Events     []ClockEvent
	Expected   schedule.ExpectedDay
	Rules      Rules
	Holiday    *generic.Holiday
	Absence    *generic.Absence
}

// =============================================================================
// DAILY SUMMARY
// =============================================================================

// DailySummary is the reconciled result of one employee-day.
type DailySummary struct {
	EmployeeID string       `json:"employee_id"`
	Date       generic.Date `json:"date"`
	Weekday    time.Weekday `json:"weekday"`
	Status     DayStatus    `json:"status"`

	FirstEntry *time.Time `json:"first_entry,omitempty"`
	LastExit   *time.Time `json:"last_exit,omitempty"`
	BreakStart *time.Time `json:"break_start,omitempty"`
	BreakEnd   *time.Time `json:"break_end,omitempty"`

	ScheduledEntry      *time.Time `json:"scheduled_entry,omitempty"`
	ScheduledExit       *time.Time `json:"scheduled_exit,omitempty"`
	ScheduledBreakStart *time.Time `json:"scheduled_break_start,omitempty"`
	ScheduledBreakEnd   *time.Time `json:"scheduled_break_end,omitempty"`

	ExpectedWorkMinutes generic.Minutes `json:"expected_work_minutes"`
	WorkedMinutes       generic.Minutes `json:"worked_minutes"`
	BreakMinutes        generic.Minutes `json:"break_minutes"`
	OvertimeMinutes     generic.Minutes `json:"overtime_minutes"`
	// ExcessOvertimeMinutes is the overtime dropped by the daily cap.
	ExcessOvertimeMinutes generic.Minutes `json:"excess_overtime_minutes"`
	DeficitMinutes        generic.Minutes `json:"deficit_minutes"`
	NightShiftMinutes     generic.Minutes `json:"night_shift_minutes"`
	NightPremiumMinutes   generic.Minutes `json:"night_premium_minutes"`

	HolidayName string    `json:"holiday_name,omitempty"`
	AbsenceType string    `json:"absence_type,omitempty"`
	Warnings    []Warning `json:"warnings,omitempty"`
}

func (s DailySummary) IsHoliday() bool { return s.Status == StatusHoliday }
func (s DailySummary) IsAbsent() bool  { return s.Status == StatusAbsence }

// HasMissingRecords reports an incomplete IN/OUT pairing.
func (s DailySummary) HasMissingRecords() bool { return s.hasWarning(WarnIncompleteRecords) }

// HasPendingRecords reports events still awaiting approval.
func (s DailySummary) HasPendingRecords() bool { return s.hasWarning(WarnPendingRecords) }

func (s DailySummary) hasWarning(code WarningCode) bool {
	for _, w := range s.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// NetMinutes is overtime minus deficit, the day's signed contribution.
func (s DailySummary) NetMinutes() generic.Minutes {
	return s.OvertimeMinutes - s.DeficitMinutes
}
