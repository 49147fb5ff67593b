package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/worktime-engine/factory"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/reconcile"
	"github.com/warp/worktime-engine/schedule"
	"github.com/warp/worktime-engine/timesheet"
)

// =============================================================================
// SCHEDULE STORE
// =============================================================================

// ScheduleRecord is a stored schedule with its JSON config.
type ScheduleRecord struct {
	ID         string
	Name       string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaveSchedule inserts or replaces a schedule definition.
func (s *Store) SaveSchedule(ctx context.Context, r ScheduleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO schedules (id, name, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = schedules.version + 1,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, r.ID, r.Name, r.ConfigJSON, now, now)
	return err
}

// GetSchedule returns a schedule record, or ErrScheduleNotFound.
func (s *Store) GetSchedule(ctx context.Context, id string) (*ScheduleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getSchedule(ctx, id)
}

func (s *Store) getSchedule(ctx context.Context, id string) (*ScheduleRecord, error) {
	var r ScheduleRecord
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, config_json, version, created_at, updated_at FROM schedules WHERE id = ?", id,
	).Scan(&r.ID, &r.Name, &r.ConfigJSON, &r.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrScheduleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// ListSchedules returns every schedule record.
func (s *Store) ListSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, config_json, version, created_at, updated_at FROM schedules ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduleRecord
	for rows.Next() {
		var r ScheduleRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.ConfigJSON, &r.Version, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Assignment links an employee to a schedule.
type Assignment struct {
	EmployeeID string
	ScheduleID string
	CompanyID  string
	AssignedAt time.Time
}

// AssignSchedule sets (or replaces) an employee's schedule.
func (s *Store) AssignSchedule(ctx context.Context, a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getSchedule(ctx, a.ScheduleID); err != nil {
		return err
	}
	query := `
		INSERT INTO employee_schedules (employee_id, schedule_id, company_id, assigned_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(employee_id) DO UPDATE SET
			schedule_id = excluded.schedule_id,
			company_id = excluded.company_id,
			assigned_at = excluded.assigned_at
	`
	_, err := s.db.ExecContext(ctx, query, a.EmployeeID, a.ScheduleID, a.CompanyID, time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetAssignment returns an employee's assignment, or ErrEmployeeNotFound.
func (s *Store) GetAssignment(ctx context.Context, employeeID string) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a Assignment
	var assignedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT employee_id, schedule_id, company_id, assigned_at FROM employee_schedules WHERE employee_id = ?",
		employeeID,
	).Scan(&a.EmployeeID, &a.ScheduleID, &a.CompanyID, &assignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, employeeID)
	}
	if err != nil {
		return nil, err
	}
	a.AssignedAt, _ = time.Parse(time.RFC3339, assignedAt)
	return &a, nil
}

// ScheduleFor parses the schedule assigned to an employee.
func (s *Store) ScheduleFor(ctx context.Context, employeeID string) (*schedule.WorkSchedule, error) {
	a, err := s.GetAssignment(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	rec, err := s.GetSchedule(ctx, a.ScheduleID)
	if err != nil {
		return nil, err
	}
	return factory.NewScheduleFactory().ParseSchedule(rec.ConfigJSON)
}

// ScheduledEmployees lists every employee with a schedule assignment.
func (s *Store) ScheduledEmployees(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryStrings(ctx, "SELECT employee_id FROM employee_schedules ORDER BY employee_id")
}

// =============================================================================
// CLOCK EVENTS (timesheet.EventSource)
// =============================================================================

// eventTimeLayout is fixed width so punch times compare correctly as text.
const eventTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SaveEvents stores punches. Re-sending a punch only updates its pending flag.
func (s *Store) SaveEvents(ctx context.Context, events []reconcile.ClockEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO clock_events (employee_id, at, kind, pending, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, at, kind) DO UPDATE SET pending = excluded.pending
	`
	now := time.Now().UTC().Format(time.RFC3339)
	for _, ev := range events {
		_, err := tx.ExecContext(ctx, query,
			ev.EmployeeID, ev.At.UTC().Format(eventTimeLayout), string(ev.Kind), ev.Pending, now)
		if err != nil {
			return fmt.Errorf("failed to save clock event: %w", err)
		}
	}
	return tx.Commit()
}

// EventsBetween returns an employee's punches in [from, to), oldest first.
func (s *Store) EventsBetween(ctx context.Context, employeeID string, from, to time.Time) ([]reconcile.ClockEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT employee_id, at, kind, pending
		FROM clock_events
		WHERE employee_id = ? AND at >= ? AND at < ?
		ORDER BY at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, employeeID,
		from.UTC().Format(eventTimeLayout), to.UTC().Format(eventTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query clock events: %w", err)
	}
	defer rows.Close()

	var events []reconcile.ClockEvent
	for rows.Next() {
		var ev reconcile.ClockEvent
		var at, kind string
		if err := rows.Scan(&ev.EmployeeID, &at, &kind, &ev.Pending); err != nil {
			return nil, err
		}
		if ev.At, err = time.Parse(eventTimeLayout, at); err != nil {
			return nil, fmt.Errorf("bad clock event time %q: %w", at, err)
		}
		ev.Kind = reconcile.EventKind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// DAY POSTINGS (timesheet.PostingStore)
// =============================================================================

func (s *Store) Posting(ctx context.Context, employeeID string, date generic.Date) (*timesheet.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p timesheet.Posting
	var overtimeMin, deficitMin int
	var postedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT overtime_minutes, deficit_minutes, revision, posted_at
		FROM day_postings WHERE employee_id = ? AND date = ?`,
		employeeID, date.String(),
	).Scan(&overtimeMin, &deficitMin, &p.Revision, &postedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.EmployeeID = employeeID
	p.Date = date
	p.OvertimeMinutes = generic.Minutes(overtimeMin)
	p.DeficitMinutes = generic.Minutes(deficitMin)
	p.PostedAt, _ = time.Parse(time.RFC3339, postedAt)
	return &p, nil
}

func (s *Store) SavePosting(ctx context.Context, p timesheet.Posting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO day_postings (employee_id, date, overtime_minutes, deficit_minutes, revision, posted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, date) DO UPDATE SET
			overtime_minutes = excluded.overtime_minutes,
			deficit_minutes = excluded.deficit_minutes,
			revision = excluded.revision,
			posted_at = excluded.posted_at
	`
	_, err := s.db.ExecContext(ctx, query, p.EmployeeID, p.Date.String(),
		int(p.OvertimeMinutes), int(p.DeficitMinutes), p.Revision, p.PostedAt.UTC().Format(time.RFC3339))
	return err
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// SaveHoliday saves a holiday to the database.
func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, company_id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, date, name) DO UPDATE SET
			recurring = excluded.recurring
	`

	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.CompanyID,
		h.Date.String(),
		h.Name,
		h.Recurring,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	return err
}

// ListHolidays returns company-specific and global holidays.
func (s *Store) ListHolidays(ctx context.Context, companyID string) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, date, name, recurring
		FROM holidays
		WHERE company_id = ? OR company_id = ''
		ORDER BY date ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		h, err := scanHoliday(rows)
		if err != nil {
			return nil, err
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// HolidayFor returns the holiday on date for a company, matching recurring
// holidays by month and day. Company holidays win over global ones.
func (s *Store) HolidayFor(ctx context.Context, companyID string, date generic.Date) (*generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, company_id, date, name, recurring FROM holidays
		WHERE (company_id = ? OR company_id = '')
		  AND (
			(recurring = FALSE AND date = ?)
			OR (recurring = TRUE AND strftime('%m-%d', date) = ?)
		  )
		ORDER BY company_id DESC
		LIMIT 1
	`
	rows, err := s.db.QueryContext(ctx, query, companyID, date.String(), fmt.Sprintf("%02d-%02d", date.Month(), date.Day()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	h, err := scanHoliday(rows)
	if err != nil {
		return nil, err
	}
	if h.Recurring {
		h.Date = date
	}
	return &h, nil
}

func scanHoliday(rows *sql.Rows) (generic.Holiday, error) {
	var h generic.Holiday
	var dateStr string
	if err := rows.Scan(&h.ID, &h.CompanyID, &dateStr, &h.Name, &h.Recurring); err != nil {
		return h, err
	}
	d, err := generic.ParseDate(dateStr)
	if err != nil {
		return h, err
	}
	h.Date = d
	return h, nil
}

// Calendar is a company's view of the holiday table.
type Calendar struct {
	store     *Store
	companyID string
}

// Calendar returns the holiday calendar of a company ("" = global only).
func (s *Store) Calendar(companyID string) *Calendar {
	return &Calendar{store: s, companyID: companyID}
}

func (c *Calendar) HolidayOn(ctx context.Context, date generic.Date) (*generic.Holiday, error) {
	return c.store.HolidayFor(ctx, c.companyID, date)
}

// =============================================================================
// ABSENCES (generic.AbsenceProvider)
// =============================================================================

func (s *Store) SaveAbsence(ctx context.Context, a generic.Absence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO absences (employee_id, date, absence_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(employee_id, date) DO UPDATE SET absence_type = excluded.absence_type
	`
	_, err := s.db.ExecContext(ctx, query, a.EmployeeID, a.Date.String(), a.Type, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) AbsenceOn(ctx context.Context, employeeID string, date generic.Date) (*generic.Absence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := generic.Absence{EmployeeID: employeeID, Date: date}
	err := s.db.QueryRowContext(ctx,
		"SELECT absence_type FROM absences WHERE employee_id = ? AND date = ?",
		employeeID, date.String(),
	).Scan(&a.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// SWEEP RUNS (scheduler audit)
// =============================================================================

// SweepRun records one scheduler run.
type SweepRun struct {
	ID             string
	RunDate        generic.Date
	Status         string // running, completed, failed
	Employees      int
	Expirations    int
	ExpiredMinutes generic.Minutes
	PostedDays     int
	Error          string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// SaveSweepRun inserts or updates a run.
func (s *Store) SaveSweepRun(ctx context.Context, r SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sweep_runs (id, run_date, status, employees, expirations, expired_minutes,
			posted_days, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			employees = excluded.employees,
			expirations = excluded.expirations,
			expired_minutes = excluded.expired_minutes,
			posted_days = excluded.posted_days,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		c := r.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &c
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.RunDate.String(), r.Status, r.Employees, r.Expirations, int(r.ExpiredMinutes),
		r.PostedDays, nullString(r.Error), r.StartedAt.UTC().Format(time.RFC3339), completedAt,
	)
	return err
}

// ListSweepRuns returns runs, newest first. An empty status returns all.
func (s *Store) ListSweepRuns(ctx context.Context, status string, limit int) ([]SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, run_date, status, employees, expirations, expired_minutes, posted_days,
			error, started_at, completed_at
		FROM sweep_runs
		WHERE (? = '' OR status = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, status, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []SweepRun
	for rows.Next() {
		var (
			r                  SweepRun
			runDate, startedAt string
			expiredMinutes     int
			errText, completed sql.NullString
		)
		if err := rows.Scan(&r.ID, &runDate, &r.Status, &r.Employees, &r.Expirations, &expiredMinutes,
			&r.PostedDays, &errText, &startedAt, &completed); err != nil {
			return nil, err
		}
		r.RunDate, _ = generic.ParseDate(runDate)
		r.ExpiredMinutes = generic.Minutes(expiredMinutes)
		r.Error = errText.String
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completed.Valid {
			t, _ := time.Parse(time.RFC3339, completed.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
