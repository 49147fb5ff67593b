/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types that
  already carry JSON tags (reconcile.DailySummary, overtime.Movement,
  overtime.Summary) are embedded and extended with display strings in the
  "{H}h{MM}m" format, so clients never format minutes themselves.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  h.decode(), which unmarshals and validates in one step. Field names in
  validation messages are the JSON names.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/schedule.go: ScheduleJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/factory"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/overtime"
	"github.com/warp/worktime-engine/reconcile"
	"github.com/warp/worktime-engine/schedule"
	"github.com/warp/worktime-engine/store/sqlite"
)

// =============================================================================
// RECONCILIATION
// =============================================================================

// ClockEventDTO is one punch in a request body.
type ClockEventDTO struct {
	At      time.Time `json:"at" validate:"required"`
	Kind    string    `json:"kind" validate:"required,oneof=IN OUT BREAK_START BREAK_END"`
	Pending bool      `json:"pending,omitempty"`
}

// ReconcileRequest reconciles one day without touching stored state.
type ReconcileRequest struct {
	EmployeeID  string                `json:"employee_id" validate:"required"`
	Date        string                `json:"date" validate:"required,datetime=2006-01-02"`
	Schedule    *factory.ScheduleJSON `json:"schedule" validate:"required"`
	Events      []ClockEventDTO       `json:"events" validate:"dive"`
	HolidayName string                `json:"holiday_name,omitempty"`
	AbsenceType string                `json:"absence_type,omitempty"`
}

// DaySummaryDTO is a DailySummary with display strings.
type DaySummaryDTO struct {
	reconcile.DailySummary
	Expected   string `json:"expected"`
	Worked     string `json:"worked"`
	Overtime   string `json:"overtime"`
	Deficit    string `json:"deficit"`
	NightShift string `json:"night_shift"`
	HasMissing bool   `json:"has_missing_records"`
	HasPending bool   `json:"has_pending_records"`
	Net        string `json:"net"`
}

func toDaySummaryDTO(s reconcile.DailySummary) DaySummaryDTO {
	return DaySummaryDTO{
		DailySummary: s,
		Expected:     s.ExpectedWorkMinutes.String(),
		Worked:       s.WorkedMinutes.String(),
		Overtime:     s.OvertimeMinutes.String(),
		Deficit:      s.DeficitMinutes.String(),
		NightShift:   s.NightShiftMinutes.String(),
		HasMissing:   s.HasMissingRecords(),
		HasPending:   s.HasPendingRecords(),
		Net:          s.NetMinutes().String(),
	}
}

// TimesheetResponse is a reconciled period.
type TimesheetResponse struct {
	Days   []DaySummaryDTO        `json:"days"`
	Totals reconcile.PeriodTotals `json:"totals"`
}

// PostDayResponse reports a timesheet posting.
type PostDayResponse struct {
	Summary   DaySummaryDTO `json:"summary"`
	Skipped   bool          `json:"skipped"`
	Reason    string        `json:"reason,omitempty"`
	Revision  int           `json:"revision"`
	Movements []MovementDTO `json:"movements"`
}

// =============================================================================
// SCHEDULES
// =============================================================================

// ScheduleDTO is a stored schedule.
type ScheduleDTO struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Version        int                  `json:"version"`
	WeeklyExpected string               `json:"weekly_expected"`
	Config         factory.ScheduleJSON `json:"config"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// ExpectedDayDTO is a resolved schedule day.
type ExpectedDayDTO struct {
	Date                 generic.Date `json:"date"`
	Weekday              string       `json:"weekday"`
	IsWorkDay            bool         `json:"is_work_day"`
	ExpectedWorkMinutes  int          `json:"expected_work_minutes"`
	Expected             string       `json:"expected"`
	Entry                *time.Time   `json:"entry,omitempty"`
	Exit                 *time.Time   `json:"exit,omitempty"`
	BreakStart           *time.Time   `json:"break_start,omitempty"`
	BreakEnd             *time.Time   `json:"break_end,omitempty"`
	ExpectedNightMinutes int          `json:"expected_night_minutes"`
	Gap                  string       `json:"gap,omitempty"`
}

func toExpectedDayDTO(e schedule.ExpectedDay) ExpectedDayDTO {
	dto := ExpectedDayDTO{
		Date:                 e.Date,
		Weekday:              e.Weekday.String(),
		IsWorkDay:            e.IsWorkDay,
		ExpectedWorkMinutes:  int(e.ExpectedWorkMinutes),
		Expected:             e.ExpectedWorkMinutes.String(),
		Entry:                e.Entry,
		Exit:                 e.Exit,
		BreakStart:           e.BreakStart,
		BreakEnd:             e.BreakEnd,
		ExpectedNightMinutes: int(e.ExpectedNightMinutes),
	}
	if e.Gap != nil {
		dto.Gap = e.Gap.Error()
	}
	return dto
}

// AssignScheduleRequest assigns a schedule to an employee.
type AssignScheduleRequest struct {
	ScheduleID string `json:"schedule_id" validate:"required"`
	CompanyID  string `json:"company_id,omitempty"`
}

// RecordEventsRequest stores punches for an employee.
type RecordEventsRequest struct {
	Events []ClockEventDTO `json:"events" validate:"required,min=1,dive"`
}

// =============================================================================
// OVERTIME BANK
// =============================================================================

// AppendMovementRequest is a manual bank movement.
type AppendMovementRequest struct {
	Type           string           `json:"type" validate:"required,oneof=CREDIT DEBIT ADJUSTMENT EXPIRATION PAYOUT"`
	Minutes        int              `json:"minutes" validate:"required,gt=0"`
	Multiplier     *decimal.Decimal `json:"multiplier,omitempty"`
	Decrease       bool             `json:"decrease,omitempty"`
	ReferenceDate  string           `json:"reference_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ExpirationDate string           `json:"expiration_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Description    string           `json:"description" validate:"max=500"`
	IdempotencyKey string           `json:"idempotency_key,omitempty" validate:"max=200"`
}

// MovementDTO is a movement with display strings.
type MovementDTO struct {
	overtime.Movement
	Effective string `json:"effective"`
	Balance   string `json:"balance"`
}

func toMovementDTO(m overtime.Movement) MovementDTO {
	effect := m.SignedEffect()
	return MovementDTO{
		Movement:  m,
		Effective: effect.String(),
		Balance:   m.BalanceAfter.String(),
	}
}

func toMovementDTOs(ms []overtime.Movement) []MovementDTO {
	dtos := make([]MovementDTO, 0, len(ms))
	for _, m := range ms {
		dtos = append(dtos, toMovementDTO(m))
	}
	return dtos
}

// VerifyResponse reports a ledger integrity check.
type VerifyResponse struct {
	EmployeeID string `json:"employee_id"`
	Valid      bool   `json:"valid"`
	Movements  int    `json:"movements"`
	Error      string `json:"error,omitempty"`
}

// =============================================================================
// CALENDAR
// =============================================================================

// CreateHolidayRequest creates a holiday.
type CreateHolidayRequest struct {
	CompanyID string `json:"company_id,omitempty"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Name      string `json:"name" validate:"required,max=200"`
	Recurring bool   `json:"recurring"`
}

// HolidayImportResponse reports an XLSX import.
type HolidayImportResponse struct {
	Imported []generic.Holiday `json:"imported"`
	Skipped  []string          `json:"skipped,omitempty"`
}

// CreateAbsenceRequest records an approved absence.
type CreateAbsenceRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Type       string `json:"type" validate:"required"`
}

// =============================================================================
// ADMIN
// =============================================================================

// SweepRunDTO is a recorded scheduler run.
type SweepRunDTO struct {
	ID             string     `json:"id"`
	RunDate        string     `json:"run_date"`
	Status         string     `json:"status"`
	Employees      int        `json:"employees"`
	Expirations    int        `json:"expirations"`
	ExpiredMinutes string     `json:"expired_minutes"`
	PostedDays     int        `json:"posted_days"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toSweepRunDTO(r sqlite.SweepRun) SweepRunDTO {
	return SweepRunDTO{
		ID:             r.ID,
		RunDate:        r.RunDate.String(),
		Status:         r.Status,
		Employees:      r.Employees,
		Expirations:    r.Expirations,
		ExpiredMinutes: r.ExpiredMinutes.String(),
		PostedDays:     r.PostedDays,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
