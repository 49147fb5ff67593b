/*
Package timesheet wires the pure engines to their data sources and to the
overtime bank.

DATA FLOW:
  schedule + clock events + holiday/absence lookups
      -> reconcile.Reconcile (one DailySummary per employee-day)
      -> reconcile.Aggregate (PeriodTotals)
  and, for schedules with the bank enabled,
      DailySummary -> CREDIT / DEBIT movements in the overtime ledger

POSTING:
  Every posted day is remembered as a Posting (overtime and deficit minutes
  already sent to the bank, plus a revision). Posting a day again, because
  punches were approved, amended or added, sends only the difference:
    overtime up      -> CREDIT for the increase
    overtime down    -> ADJUSTMENT(-) for the credited value of the decrease
    deficit up       -> DEBIT for the increase
    deficit down     -> ADJUSTMENT(+) for the decrease
  Idempotency keys carry the revision and its target overtime/deficit, so a
  retry after a partial failure never double-posts and a revision cut short
  is finished before the next one starts. Posts for one employee are
  serialized. A failed append is returned, never swallowed.

SEE ALSO:
  - reconcile/engine.go
  - overtime/ledger.go
  - api/scheduler.go: closes the previous day for every employee
*/
package timesheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/overtime"
	"github.com/warp/worktime-engine/reconcile"
	"github.com/warp/worktime-engine/schedule"
)

// =============================================================================
// SOURCES
// =============================================================================

// ScheduleSource resolves the schedule assigned to an employee.
type ScheduleSource interface {
	ScheduleFor(ctx context.Context, employeeID string) (*schedule.WorkSchedule, error)
	ScheduledEmployees(ctx context.Context) ([]string, error)
}

// EventSource returns an employee's clock events in [from, to).
type EventSource interface {
	EventsBetween(ctx context.Context, employeeID string, from, to time.Time) ([]reconcile.ClockEvent, error)
}

// Posting records what a day already sent to the bank.
type Posting struct {
	EmployeeID      string
	Date            generic.Date
	OvertimeMinutes generic.Minutes
	DeficitMinutes  generic.Minutes
	Revision        int
	PostedAt        time.Time
}

// PostingStore persists Postings.
type PostingStore interface {
	Posting(ctx context.Context, employeeID string, date generic.Date) (*Posting, error)
	SavePosting(ctx context.Context, p Posting) error
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Schedules ScheduleSource
	Events    EventSource
	Holidays  generic.HolidayCalendar
	Absences  generic.AbsenceProvider
	Ledger    *overtime.Ledger
	Postings  PostingStore
	Location  *time.Location
	Logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// employeeLock returns the mutex serializing posts for one employee.
func (s *Service) employeeLock(employeeID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	mu, ok := s.locks[employeeID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[employeeID] = mu
	}
	return mu
}

func (s *Service) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Day reconciles one employee-day against the employee's schedule.
func (s *Service) Day(ctx context.Context, employeeID string, date generic.Date) (reconcile.DailySummary, *schedule.WorkSchedule, error) {
	sched, err := s.Schedules.ScheduleFor(ctx, employeeID)
	if err != nil {
		return reconcile.DailySummary{}, nil, fmt.Errorf("schedule for %s: %w", employeeID, err)
	}
	summary, err := s.reconcileDay(ctx, employeeID, *sched, date)
	return summary, sched, err
}

func (s *Service) reconcileDay(ctx context.Context, employeeID string, sched schedule.WorkSchedule, date generic.Date) (reconcile.DailySummary, error) {
	window := schedule.DayWindow(sched, date, s.loc())
	events, err := s.Events.EventsBetween(ctx, employeeID, window.Start, window.End)
	if err != nil {
		return reconcile.DailySummary{}, fmt.Errorf("events for %s on %s: %w", employeeID, date, err)
	}

	in := reconcile.Input{
		EmployeeID: employeeID,
		Events:     events,
		Expected:   schedule.ResolveExpectedDay(sched, date, s.loc()),
		Rules:      reconcile.RulesFor(sched),
	}
	if s.Holidays != nil {
		if in.Holiday, err = s.Holidays.HolidayOn(ctx, date); err != nil {
			return reconcile.DailySummary{}, fmt.Errorf("holiday lookup %s: %w", date, err)
		}
	}
	if s.Absences != nil {
		if in.Absence, err = s.Absences.AbsenceOn(ctx, employeeID, date); err != nil {
			return reconcile.DailySummary{}, fmt.Errorf("absence lookup %s on %s: %w", employeeID, date, err)
		}
	}
	return reconcile.Reconcile(in), nil
}

// Range reconciles every day of period and aggregates the result.
func (s *Service) Range(ctx context.Context, employeeID string, period generic.Period) ([]reconcile.DailySummary, reconcile.PeriodTotals, error) {
	if err := period.Validate(); err != nil {
		return nil, reconcile.PeriodTotals{}, err
	}
	sched, err := s.Schedules.ScheduleFor(ctx, employeeID)
	if err != nil {
		return nil, reconcile.PeriodTotals{}, fmt.Errorf("schedule for %s: %w", employeeID, err)
	}

	summaries := make([]reconcile.DailySummary, 0, period.Len())
	for _, d := range period.Days() {
		if err := ctx.Err(); err != nil {
			return nil, reconcile.PeriodTotals{}, err
		}
		summary, err := s.reconcileDay(ctx, employeeID, *sched, d)
		if err != nil {
			return nil, reconcile.PeriodTotals{}, err
		}
		summaries = append(summaries, summary)
	}

	totals := reconcile.Aggregate(summaries)
	totals.EmployeeID = employeeID
	totals.Period = period
	return summaries, totals, nil
}

// PostResult reports what Post sent to the bank.
type PostResult struct {
	Skipped   bool   // bank disabled or nothing changed
	Reason    string
	Revision  int
	Movements []overtime.Movement
}

// target is the overtime and deficit a revision brings the bank to.
type target struct {
	overtime generic.Minutes
	deficit  generic.Minutes
}

func (p Posting) target() target { return target{overtime: p.OvertimeMinutes, deficit: p.DeficitMinutes} }

// Post sends the day's overtime or deficit (or the change since the last
// post) to the overtime bank. Posts for one employee never interleave.
func (s *Service) Post(ctx context.Context, sched schedule.WorkSchedule, summary reconcile.DailySummary) (PostResult, error) {
	mu := s.employeeLock(summary.EmployeeID)
	mu.Lock()
	defer mu.Unlock()

	return s.post(ctx, sched, summary)
}

func (s *Service) post(ctx context.Context, sched schedule.WorkSchedule, summary reconcile.DailySummary) (PostResult, error) {
	if !sched.BankEnabled {
		return PostResult{Skipped: true, Reason: "bank disabled"}, nil
	}

	prev, err := s.Postings.Posting(ctx, summary.EmployeeID, summary.Date)
	if err != nil {
		return PostResult{}, fmt.Errorf("load posting: %w", err)
	}
	posted := Posting{EmployeeID: summary.EmployeeID, Date: summary.Date}
	if prev != nil {
		posted = *prev
	}
	res := PostResult{Revision: posted.Revision}

	// A revision whose movements reached the bank before its posting was
	// saved is finished with its own target before anything new is sent.
	interrupted, err := s.interruptedRevision(ctx, posted)
	if err != nil {
		return res, err
	}
	if interrupted != nil {
		var moved []overtime.Movement
		posted, moved, err = s.apply(ctx, sched, posted, *interrupted)
		res.Movements = append(res.Movements, moved...)
		if err != nil {
			return res, err
		}
		res.Revision = posted.Revision
	}

	want := target{overtime: summary.OvertimeMinutes, deficit: summary.DeficitMinutes}
	if posted.Revision > 0 && posted.target() == want {
		if interrupted == nil {
			res.Skipped, res.Reason = true, "unchanged"
		}
		return res, nil
	}

	posted, moved, err := s.apply(ctx, sched, posted, want)
	res.Movements = append(res.Movements, moved...)
	if err != nil {
		return res, err
	}
	res.Revision = posted.Revision
	return res, nil
}

// apply appends the movements that take the bank from posted to want and
// saves the next revision. The keys carry want, so a duplicate key is the
// same movement already in the bank.
func (s *Service) apply(ctx context.Context, sched schedule.WorkSchedule, posted Posting, want target) (Posting, []overtime.Movement, error) {
	rev := posted.Revision + 1
	date := posted.Date

	var moved []overtime.Movement
	for _, in := range postingInputs(sched, date, posted.target(), want) {
		in.EmployeeID = posted.EmployeeID
		in.ReferenceDate = &date
		in.Source = overtime.SourceReconciliation
		in.IdempotencyKey = postingKey(posted.EmployeeID, date, rev, want, in.IdempotencyKey)

		m, err := s.Ledger.Append(ctx, in)
		switch {
		case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
			continue
		case err != nil:
			return posted, moved, fmt.Errorf("post %s %s for %s on %s: %w", in.Type, in.Minutes, posted.EmployeeID, date, err)
		}
		moved = append(moved, m)
	}

	next := Posting{
		EmployeeID:      posted.EmployeeID,
		Date:            date,
		OvertimeMinutes: want.overtime,
		DeficitMinutes:  want.deficit,
		Revision:        rev,
		PostedAt:        time.Now().UTC(),
	}
	if err := s.Postings.SavePosting(ctx, next); err != nil {
		return posted, moved, fmt.Errorf("save posting: %w", err)
	}

	s.logger().Info("timesheet day posted",
		"employee_id", next.EmployeeID,
		"date", date.String(),
		"revision", rev,
		"overtime", want.overtime.String(),
		"deficit", want.deficit.String(),
		"movements", len(moved),
	)
	return next, moved, nil
}

// interruptedRevision returns the target of the revision after posted when
// the bank already holds some of its movements.
func (s *Service) interruptedRevision(ctx context.Context, posted Posting) (*target, error) {
	movements, err := s.Ledger.Movements(ctx, posted.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("load movements: %w", err)
	}

	prefix := postingKeyPrefix(posted.EmployeeID, posted.Date, posted.Revision+1)
	for _, m := range movements {
		rest, ok := strings.CutPrefix(m.IdempotencyKey, prefix)
		if !ok {
			continue
		}
		var ot, def int
		if _, err := fmt.Sscanf(rest, "ot%d:def%d:", &ot, &def); err != nil {
			return nil, fmt.Errorf("parse posting key %q: %w", m.IdempotencyKey, err)
		}
		return &target{overtime: generic.Minutes(ot), deficit: generic.Minutes(def)}, nil
	}
	return nil, nil
}

func postingKeyPrefix(employeeID string, date generic.Date, rev int) string {
	return fmt.Sprintf("recon:%s:%s:r%d:", employeeID, date, rev)
}

// postingKey is recon:{employee}:{date}:r{revision}:ot{overtime}:def{deficit}:{kind}.
func postingKey(employeeID string, date generic.Date, rev int, want target, kind string) string {
	return fmt.Sprintf("%sot%d:def%d:%s", postingKeyPrefix(employeeID, date, rev), int(want.overtime), int(want.deficit), kind)
}

// postingInputs computes the movements that move the bank from posted to
// want. IdempotencyKey holds only the kind; apply completes it.
func postingInputs(sched schedule.WorkSchedule, date generic.Date, posted, want target) []overtime.AppendInput {
	var out []overtime.AppendInput

	switch d := want.overtime - posted.overtime; {
	case d > 0:
		out = append(out, overtime.AppendInput{
			Type:               overtime.Credit,
			Minutes:            d,
			Multiplier:         sched.Multiplier(),
			ExpirationDate:     sched.CreditExpiration(date),
			ExpirationRequired: sched.ExpiresCredits(),
			Description:        fmt.Sprintf("overtime %s on %s", d, date),
			IdempotencyKey:     "credit",
		})
	case d < 0:
		reversal := generic.Minutes(decimal.NewFromInt(int64(-d)).Mul(sched.Multiplier()).Round(0).IntPart())
		if reversal > 0 {
			out = append(out, overtime.AppendInput{
				Type:           overtime.Adjustment,
				Minutes:        reversal,
				Decrease:       true,
				Description:    fmt.Sprintf("overtime on %s reduced by %s", date, -d),
				IdempotencyKey: "credit-reversal",
			})
		}
	}

	switch d := want.deficit - posted.deficit; {
	case d > 0:
		out = append(out, overtime.AppendInput{
			Type:           overtime.Debit,
			Minutes:        d,
			Description:    fmt.Sprintf("deficit %s on %s", d, date),
			IdempotencyKey: "debit",
		})
	case d < 0:
		out = append(out, overtime.AppendInput{
			Type:           overtime.Adjustment,
			Minutes:        -d,
			Description:    fmt.Sprintf("deficit on %s reduced by %s", date, -d),
			IdempotencyKey: "debit-reversal",
		})
	}
	return out
}

// Close reconciles and posts one employee-day. The employee stays locked
// from reading the punches until the posting is saved, so a stale
// reconciliation never overwrites a newer one.
func (s *Service) Close(ctx context.Context, employeeID string, date generic.Date) (reconcile.DailySummary, PostResult, error) {
	mu := s.employeeLock(employeeID)
	mu.Lock()
	defer mu.Unlock()

	summary, sched, err := s.Day(ctx, employeeID, date)
	if err != nil {
		return reconcile.DailySummary{}, PostResult{}, err
	}
	res, err := s.post(ctx, *sched, summary)
	return summary, res, err
}

// CloseResult reports a CloseAll run.
type CloseResult struct {
	Employees int
	Posted    int
	Skipped   int
}

// CloseAll closes date for every employee with an assigned schedule.
// Failures are collected and returned together; the caller must retry them.
func (s *Service) CloseAll(ctx context.Context, date generic.Date) (CloseResult, error) {
	ids, err := s.Schedules.ScheduledEmployees(ctx)
	if err != nil {
		return CloseResult{}, fmt.Errorf("list scheduled employees: %w", err)
	}

	var (
		res  CloseResult
		errs []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res.Employees++
		_, post, err := s.Close(ctx, id, date)
		if err != nil {
			errs = append(errs, fmt.Errorf("employee %s: %w", id, err))
			continue
		}
		if post.Skipped {
			res.Skipped++
		} else {
			res.Posted++
		}
	}
	return res, errors.Join(errs...)
}
