/*
handlers.go - HTTP API handlers for the work-time engine

PURPOSE:
  Exposes schedule resolution, daily reconciliation and the overtime bank
  via REST API. Handles HTTP request/response, JSON serialization, and
  delegates to domain logic.

ENDPOINTS:
  Reconciliation:
    POST   /api/reconcile                               Stateless single-day reconciliation

  Schedules:
    GET    /api/schedules                               List schedules
    POST   /api/schedules                               Create/replace schedule from JSON
    GET    /api/schedules/{id}                          Get schedule
    GET    /api/schedules/{id}/expected?date=           Resolve one day

  Employees:
    PUT    /api/employees/{id}/schedule                 Assign schedule
    POST   /api/employees/{id}/events                   Record clock events
    GET    /api/employees/{id}/timesheet?from=&to=      Reconcile a period
    POST   /api/employees/{id}/timesheet/{date}/post    Post a day to the bank

  Overtime bank:
    GET    /api/employees/{id}/overtime/movements       Movement history
    POST   /api/employees/{id}/overtime/movements       Manual movement
    GET    /api/employees/{id}/overtime/summary         Balance + totals + expiring
    GET    /api/employees/{id}/overtime/verify          Replay the balance chain

  Calendar:
    GET    /api/holidays, POST /api/holidays, DELETE /api/holidays/{id}
    POST   /api/holidays/import                         XLSX upload (multipart "file")
    POST   /api/absences

  Admin:
    POST   /api/admin/sweep                             Run the scheduler job now
    GET    /api/admin/sweep-runs                        Scheduler audit

ERROR HANDLING:
  Errors are returned as JSON ErrorResponse with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Schedule or employee assignment not found
  - 409: Conflict (idempotency key reused, broken balance chain)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Deploy behind a gateway that
  resolves the caller.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/warp/worktime-engine/factory"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/overtime"
	"github.com/warp/worktime-engine/reconcile"
	"github.com/warp/worktime-engine/schedule"
	"github.com/warp/worktime-engine/store/sqlite"
	"github.com/warp/worktime-engine/timesheet"
)

// maxUploadBytes bounds holiday spreadsheet uploads.
const maxUploadBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store           *sqlite.Store
	Ledger          *overtime.Ledger
	Timesheet       *timesheet.Service
	ScheduleFactory *factory.ScheduleFactory
	Scheduler       *SweepScheduler
	Location        *time.Location
	LookaheadDays   int
	Logger          *slog.Logger

	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(store *sqlite.Store, ledger *overtime.Ledger, ts *timesheet.Service) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		Store:           store,
		Ledger:          ledger,
		Timesheet:       ts,
		ScheduleFactory: factory.NewScheduleFactory(),
		Location:        time.UTC,
		LookaheadDays:   overtime.DefaultLookaheadDays,
		Logger:          slog.Default(),
		validate:        v,
	}
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// Reconcile reconciles one day from the request alone.
// POST /api/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if !h.decode(w, r, &req) {
		return
	}

	sched, err := h.ScheduleFactory.FromJSON(*req.Schedule)
	if err != nil {
		writeDomainError(w, "Invalid schedule", err)
		return
	}
	date, _ := generic.ParseDate(req.Date)

	in := reconcile.Input{
		EmployeeID: req.EmployeeID,
		Events:     toClockEvents(req.EmployeeID, req.Events),
		Expected:   schedule.ResolveExpectedDay(*sched, date, h.Location),
		Rules:      reconcile.RulesFor(*sched),
	}
	if req.HolidayName != "" {
		in.Holiday = &generic.Holiday{Date: date, Name: req.HolidayName}
	}
	if req.AbsenceType != "" {
		in.Absence = &generic.Absence{EmployeeID: req.EmployeeID, Date: date, Type: req.AbsenceType}
	}

	writeJSON(w, http.StatusOK, toDaySummaryDTO(reconcile.Reconcile(in)))
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// ListSchedules returns all schedules.
// GET /api/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedules", err)
		return
	}

	dtos := make([]ScheduleDTO, 0, len(records))
	for _, rec := range records {
		dto, err := h.toScheduleDTO(rec)
		if err != nil {
			h.Logger.Warn("skipping unparsable schedule", "schedule_id", rec.ID, "error", err)
			continue
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSchedule parses, validates and stores a schedule.
// POST /api/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	sched, err := h.ScheduleFactory.ParseSchedule(string(body))
	if err != nil {
		writeDomainError(w, "Invalid schedule", err)
		return
	}

	// Store the normalized form so derived fields (even_week days, computed
	// weekly minutes) are persisted explicitly.
	normalized, err := json.Marshal(factory.ToJSON(*sched))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode schedule", err)
		return
	}
	rec := sqlite.ScheduleRecord{ID: sched.ID, Name: sched.Name, ConfigJSON: string(normalized)}
	if err := h.Store.SaveSchedule(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save schedule", err)
		return
	}

	saved, err := h.Store.GetSchedule(r.Context(), sched.ID)
	if err != nil {
		writeDomainError(w, "Failed to load schedule", err)
		return
	}
	dto, err := h.toScheduleDTO(*saved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// GetSchedule returns one schedule.
// GET /api/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Schedule not found", err)
		return
	}
	dto, err := h.toScheduleDTO(*rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Stored schedule is invalid", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetExpectedDay resolves one date under a schedule.
// GET /api/schedules/{id}/expected?date=YYYY-MM-DD
func (h *Handler) GetExpectedDay(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Schedule not found", err)
		return
	}
	date, err := generic.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (YYYY-MM-DD)", err)
		return
	}
	sched, err := h.ScheduleFactory.ParseSchedule(rec.ConfigJSON)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Stored schedule is invalid", err)
		return
	}

	writeJSON(w, http.StatusOK, toExpectedDayDTO(schedule.ResolveExpectedDay(*sched, date, h.Location)))
}

func (h *Handler) toScheduleDTO(rec sqlite.ScheduleRecord) (ScheduleDTO, error) {
	sched, err := h.ScheduleFactory.ParseSchedule(rec.ConfigJSON)
	if err != nil {
		return ScheduleDTO{}, err
	}
	return ScheduleDTO{
		ID:             rec.ID,
		Name:           rec.Name,
		Version:        rec.Version,
		WeeklyExpected: sched.WeeklyExpectedMinutes.String(),
		Config:         factory.ToJSON(*sched),
		UpdatedAt:      rec.UpdatedAt,
	}, nil
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// AssignSchedule sets an employee's schedule.
// PUT /api/employees/{id}/schedule
func (h *Handler) AssignSchedule(w http.ResponseWriter, r *http.Request) {
	var req AssignScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	a := sqlite.Assignment{
		EmployeeID: chi.URLParam(r, "id"),
		ScheduleID: req.ScheduleID,
		CompanyID:  req.CompanyID,
	}
	if err := h.Store.AssignSchedule(r.Context(), a); err != nil {
		writeDomainError(w, "Failed to assign schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"employee_id": a.EmployeeID,
		"schedule_id": a.ScheduleID,
	})
}

// RecordEvents stores clock events for an employee.
// POST /api/employees/{id}/events
func (h *Handler) RecordEvents(w http.ResponseWriter, r *http.Request) {
	var req RecordEventsRequest
	if !h.decode(w, r, &req) {
		return
	}

	employeeID := chi.URLParam(r, "id")
	if err := h.Store.SaveEvents(r.Context(), toClockEvents(employeeID, req.Events)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record events", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"employee_id": employeeID,
		"recorded":    len(req.Events),
	})
}

// GetTimesheet reconciles a period for an employee.
// GET /api/employees/{id}/timesheet?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) GetTimesheet(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	summaries, totals, err := h.Timesheet.Range(r.Context(), chi.URLParam(r, "id"), period)
	if err != nil {
		writeDomainError(w, "Failed to reconcile timesheet", err)
		return
	}

	resp := TimesheetResponse{Days: make([]DaySummaryDTO, 0, len(summaries)), Totals: totals}
	for _, s := range summaries {
		resp.Days = append(resp.Days, toDaySummaryDTO(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostDay reconciles a day and posts its overtime/deficit to the bank.
// POST /api/employees/{id}/timesheet/{date}/post
func (h *Handler) PostDay(w http.ResponseWriter, r *http.Request) {
	date, err := generic.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (YYYY-MM-DD)", err)
		return
	}

	summary, res, err := h.Timesheet.Close(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		writeDomainError(w, "Failed to post day", err)
		return
	}
	writeJSON(w, http.StatusOK, PostDayResponse{
		Summary:   toDaySummaryDTO(summary),
		Skipped:   res.Skipped,
		Reason:    res.Reason,
		Revision:  res.Revision,
		Movements: toMovementDTOs(res.Movements),
	})
}

// =============================================================================
// OVERTIME BANK HANDLERS
// =============================================================================

// ListMovements returns an employee's movement history.
// GET /api/employees/{id}/overtime/movements
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.Ledger.Movements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to load movements", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

// AppendMovement appends a manual movement.
// POST /api/employees/{id}/overtime/movements
func (h *Handler) AppendMovement(w http.ResponseWriter, r *http.Request) {
	var req AppendMovementRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := overtime.AppendInput{
		EmployeeID:     chi.URLParam(r, "id"),
		Type:           overtime.MovementType(req.Type),
		Minutes:        generic.Minutes(req.Minutes),
		Decrease:       req.Decrease,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		Source:         overtime.SourceManual,
	}
	if req.Multiplier != nil {
		in.Multiplier = *req.Multiplier
	}
	if req.ReferenceDate != "" {
		d, _ := generic.ParseDate(req.ReferenceDate)
		in.ReferenceDate = &d
	}
	if req.ExpirationDate != "" {
		d, _ := generic.ParseDate(req.ExpirationDate)
		in.ExpirationDate = &d
	}
	if in.Type == overtime.Credit {
		if sched, err := h.Store.ScheduleFor(r.Context(), in.EmployeeID); err == nil {
			in.ExpirationRequired = sched.ExpiresCredits()
			if in.ExpirationDate == nil && in.ReferenceDate != nil {
				in.ExpirationDate = sched.CreditExpiration(*in.ReferenceDate)
			}
		}
	}

	m, err := h.Ledger.Append(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to append movement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(m))
}

// GetOvertimeSummary returns the bank summary for a period.
// GET /api/employees/{id}/overtime/summary?from=&to=&lookahead_days=
// Without from/to the current month is used.
func (h *Handler) GetOvertimeSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	period := generic.MonthOf(generic.Today(h.Location))
	if q.Get("from") != "" || q.Get("to") != "" {
		p, err := h.periodParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period", err)
			return
		}
		period = p
	}

	lookahead := h.LookaheadDays
	if raw := q.Get("lookahead_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid lookahead_days", err)
			return
		}
		lookahead = n
	}

	summary, err := h.Ledger.Summarize(r.Context(), chi.URLParam(r, "id"), period, lookahead)
	if err != nil {
		writeDomainError(w, "Failed to summarize bank", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// VerifyLedger replays the employee's balance chain.
// GET /api/employees/{id}/overtime/verify
func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	movements, err := h.Ledger.Movements(r.Context(), employeeID)
	if err != nil {
		writeDomainError(w, "Failed to load movements", err)
		return
	}

	resp := VerifyResponse{EmployeeID: employeeID, Valid: true, Movements: len(movements)}
	if err := h.Ledger.Verify(r.Context(), employeeID); err != nil {
		if !errors.Is(err, generic.ErrBrokenBalanceChain) {
			writeError(w, http.StatusInternalServerError, "Failed to verify ledger", err)
			return
		}
		resp.Valid = false
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ListHolidays returns company and global holidays.
// GET /api/holidays?company_id=
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context(), r.URL.Query().Get("company_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get holidays", err)
		return
	}
	if holidays == nil {
		holidays = []generic.Holiday{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": holidays})
}

// CreateHoliday creates a holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, _ := generic.ParseDate(req.Date)
	hol := generic.Holiday{
		ID:        uuid.NewString(),
		CompanyID: req.CompanyID,
		Date:      date,
		Name:      req.Name,
		Recurring: req.Recurring,
	}
	if err := h.Store.SaveHoliday(r.Context(), hol); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, hol)
}

// DeleteHoliday deletes a holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete holiday", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportHolidays loads holidays from an uploaded spreadsheet.
// POST /api/holidays/import (multipart form: file, company_id)
func (h *Handler) ImportHolidays(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file", err)
		return
	}
	defer file.Close()

	imp, err := factory.ParseHolidaysXLSX(file, r.FormValue("company_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read spreadsheet", err)
		return
	}
	for _, hol := range imp.Holidays {
		if err := h.Store.SaveHoliday(r.Context(), hol); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save holiday", err)
			return
		}
	}

	resp := HolidayImportResponse{Imported: imp.Holidays, Skipped: imp.Skipped}
	if resp.Imported == nil {
		resp.Imported = []generic.Holiday{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateAbsence records an approved absence.
// POST /api/absences
func (h *Handler) CreateAbsence(w http.ResponseWriter, r *http.Request) {
	var req CreateAbsenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, _ := generic.ParseDate(req.Date)
	a := generic.Absence{EmployeeID: req.EmployeeID, Date: date, Type: req.Type}
	if err := h.Store.SaveAbsence(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save absence", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the scheduler job synchronously.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}
	run, err := h.Scheduler.RunOnce(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Sweep finished with errors",
			Code:    "sweep_failed",
			Details: toSweepRunDTO(run),
		})
		return
	}
	writeJSON(w, http.StatusOK, toSweepRunDTO(run))
}

// ListSweepRuns returns recent scheduler runs.
// GET /api/admin/sweep-runs?status=&limit=
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.Store.ListSweepRuns(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sweep runs", err)
		return
	}

	dtos := make([]SweepRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toSweepRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "invalid_json",
			Details: formatDecodeError(err),
		})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make(map[string]string, len(ve))
			for _, fe := range ve {
				fields[fe.Namespace()] = formatFieldError(fe)
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation_failed", Details: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func formatDecodeError(err error) string {
	if errors.Is(err, io.EOF) {
		return "Request body is empty"
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("Invalid JSON at byte offset %d", syntaxErr.Offset)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("Field '%s' should be of type %s", typeErr.Field, typeErr.Type.String())
	}
	return err.Error()
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a date (YYYY-MM-DD)"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return fmt.Sprintf("failed validation for '%s'", fe.Tag())
}

func (h *Handler) periodParam(r *http.Request) (generic.Period, error) {
	q := r.URL.Query()
	from, err := generic.ParseDate(q.Get("from"))
	if err != nil {
		return generic.Period{}, fmt.Errorf("from: %w", err)
	}
	to, err := generic.ParseDate(q.Get("to"))
	if err != nil {
		return generic.Period{}, fmt.Errorf("to: %w", err)
	}
	return generic.NewPeriod(from, to)
}

func toClockEvents(employeeID string, dtos []ClockEventDTO) []reconcile.ClockEvent {
	events := make([]reconcile.ClockEvent, 0, len(dtos))
	for _, e := range dtos {
		events = append(events, reconcile.ClockEvent{
			EmployeeID: employeeID,
			At:         e.At,
			Kind:       reconcile.EventKind(e.Kind),
			Pending:    e.Pending,
		})
	}
	return events
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case generic.IsClientError(err):
		status, code = http.StatusBadRequest, "invalid_request"
	case generic.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case generic.IsConflict(err):
		status, code = http.StatusConflict, "duplicate_idempotency_key"
	case errors.Is(err, generic.ErrBrokenBalanceChain):
		status, code = http.StatusConflict, "broken_balance_chain"
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}
