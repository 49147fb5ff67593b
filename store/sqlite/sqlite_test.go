package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/worktime-engine/factory"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/overtime"
	"github.com/warp/worktime-engine/reconcile"
	"github.com/warp/worktime-engine/timesheet"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func datep(d generic.Date) *generic.Date { return &d }

var day0 = generic.MustParseDate("2024-03-04")

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestStore_MovementRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created := time.Date(2024, 3, 4, 9, 30, 0, 123000000, time.UTC)
	batch := []overtime.Movement{
		{
			ID: "m1", EmployeeID: "emp-1", Sequence: 1, Type: overtime.Credit,
			Minutes: 120, Multiplier: decimal.NewFromFloat(1.5), EffectiveMinutes: 180,
			ReferenceDate: datep(day0), ExpirationDate: datep(day0.AddDays(180)),
			BalanceAfter: 180, Description: "overtime", IdempotencyKey: "k1",
			Source: overtime.SourceReconciliation, CreatedAt: created,
		},
		{
			ID: "m2", EmployeeID: "emp-1", Sequence: 2, Type: overtime.Adjustment,
			Minutes: 30, Multiplier: decimal.NewFromInt(1), EffectiveMinutes: 30, Decrease: true,
			BalanceAfter: 150, Source: overtime.SourceManual, CreatedAt: created,
		},
	}
	require.NoError(t, s.AppendBatch(ctx, batch))

	got, err := s.Load(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, overtime.Credit, got[0].Type)
	assert.True(t, got[0].Multiplier.Equal(decimal.NewFromFloat(1.5)))
	assert.Equal(t, generic.Minutes(180), got[0].EffectiveMinutes)
	require.NotNil(t, got[0].ExpirationDate)
	assert.Equal(t, day0.AddDays(180), *got[0].ExpirationDate)
	assert.Equal(t, "k1", got[0].IdempotencyKey)
	assert.True(t, created.Equal(got[0].CreatedAt))

	assert.True(t, got[1].Decrease)
	assert.Nil(t, got[1].ReferenceDate)
	assert.Empty(t, got[1].IdempotencyKey)
	assert.Equal(t, generic.Minutes(150), got[1].BalanceAfter)

	exists, err := s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	ids, err := s.Employees(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"emp-1"}, ids)
}

func TestStore_AppendBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mv := func(id string, seq int64, key string) overtime.Movement {
		return overtime.Movement{
			ID: id, EmployeeID: "emp-1", Sequence: seq, Type: overtime.Debit,
			Minutes: 10, Multiplier: decimal.NewFromInt(1), EffectiveMinutes: 10,
			BalanceAfter: generic.Minutes(-10 * seq), IdempotencyKey: key,
			Source: overtime.SourceManual, CreatedAt: time.Now().UTC(),
		}
	}
	require.NoError(t, s.AppendBatch(ctx, []overtime.Movement{mv("m1", 1, "k1")}))

	// WHEN: the second movement of a batch reuses a key
	err := s.AppendBatch(ctx, []overtime.Movement{mv("m2", 2, ""), mv("m3", 3, "k1")})

	// THEN: nothing of the batch is written
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	got, err := s.Load(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_WithLedger(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ledger := overtime.NewLedger(s)

	_, err := ledger.Append(ctx, overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Credit, Minutes: 60})
	require.NoError(t, err)
	m, err := ledger.Append(ctx, overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Debit, Minutes: 90})
	require.NoError(t, err)

	assert.Equal(t, generic.Minutes(-30), m.BalanceAfter)
	assert.NoError(t, ledger.Verify(ctx, "emp-1"))
}

// =============================================================================
// SCHEDULES
// =============================================================================

func TestStore_Schedules(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cfg := factory.StandardWeekJSON("std", "Standard", 6)
	require.NoError(t, s.SaveSchedule(ctx, ScheduleRecord{ID: "std", Name: "Standard", ConfigJSON: cfg}))
	require.NoError(t, s.SaveSchedule(ctx, ScheduleRecord{ID: "std", Name: "Standard v2", ConfigJSON: cfg}))

	rec, err := s.GetSchedule(ctx, "std")
	require.NoError(t, err)
	assert.Equal(t, "Standard v2", rec.Name)
	assert.Equal(t, 2, rec.Version)

	list, err := s.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetSchedule(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrScheduleNotFound)
}

func TestStore_AssignmentAndScheduleFor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Unknown schedule cannot be assigned.
	err := s.AssignSchedule(ctx, Assignment{EmployeeID: "emp-1", ScheduleID: "std"})
	assert.ErrorIs(t, err, generic.ErrScheduleNotFound)

	require.NoError(t, s.SaveSchedule(ctx, ScheduleRecord{
		ID: "std", Name: "Standard", ConfigJSON: factory.StandardWeekJSON("std", "Standard", 6),
	}))
	require.NoError(t, s.AssignSchedule(ctx, Assignment{EmployeeID: "emp-1", ScheduleID: "std", CompanyID: "acme"}))

	a, err := s.GetAssignment(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "std", a.ScheduleID)
	assert.Equal(t, "acme", a.CompanyID)

	ws, err := s.ScheduleFor(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "std", ws.ID)
	assert.Equal(t, generic.Minutes(2700), ws.WeeklyExpectedMinutes)
	assert.True(t, ws.BankEnabled)

	_, err = s.ScheduleFor(ctx, "nobody")
	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)

	ids, err := s.ScheduledEmployees(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"emp-1"}, ids)
}

// =============================================================================
// CLOCK EVENTS
// =============================================================================

func TestStore_Events(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := func(hhmm string) time.Time { return generic.MustParseTimeOfDay(hhmm).On(day0, time.UTC) }
	events := []reconcile.ClockEvent{
		{EmployeeID: "emp-1", At: at("18:00"), Kind: reconcile.EventOut, Pending: true},
		{EmployeeID: "emp-1", At: at("08:00"), Kind: reconcile.EventIn},
		{EmployeeID: "emp-2", At: at("09:00"), Kind: reconcile.EventIn},
	}
	require.NoError(t, s.SaveEvents(ctx, events))

	// Re-sending the OUT approves it instead of duplicating it.
	require.NoError(t, s.SaveEvents(ctx, []reconcile.ClockEvent{
		{EmployeeID: "emp-1", At: at("18:00"), Kind: reconcile.EventOut},
	}))

	got, err := s.EventsBetween(ctx, "emp-1", day0.In(time.UTC), day0.AddDays(1).In(time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, reconcile.EventIn, got[0].Kind)
	assert.True(t, at("08:00").Equal(got[0].At))
	assert.Equal(t, reconcile.EventOut, got[1].Kind)
	assert.False(t, got[1].Pending)

	// The window is half-open.
	got, err = s.EventsBetween(ctx, "emp-1", at("08:00"), at("18:00"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// =============================================================================
// POSTINGS, HOLIDAYS, ABSENCES
// =============================================================================

func TestStore_Postings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Posting(ctx, "emp-1", day0)
	require.NoError(t, err)
	assert.Nil(t, p)

	posted := timesheet.Posting{
		EmployeeID: "emp-1", Date: day0, OvertimeMinutes: 87, Revision: 1,
		PostedAt: time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SavePosting(ctx, posted))
	posted.OvertimeMinutes, posted.DeficitMinutes, posted.Revision = 0, 15, 2
	require.NoError(t, s.SavePosting(ctx, posted))

	p, err = s.Posting(ctx, "emp-1", day0)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, generic.Minutes(0), p.OvertimeMinutes)
	assert.Equal(t, generic.Minutes(15), p.DeficitMinutes)
	assert.Equal(t, 2, p.Revision)
	assert.Equal(t, day0, p.Date)
}

func TestStore_Holidays(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	holidays := []generic.Holiday{
		{ID: "h1", Date: generic.MustParseDate("2020-12-25"), Name: "Christmas", Recurring: true},
		{ID: "h2", Date: generic.MustParseDate("2024-03-08"), Name: "Global Day"},
		{ID: "h3", CompanyID: "acme", Date: generic.MustParseDate("2024-03-08"), Name: "Acme Day"},
		{ID: "h4", CompanyID: "other", Date: generic.MustParseDate("2024-04-01"), Name: "Other Day"},
	}
	for _, h := range holidays {
		require.NoError(t, s.SaveHoliday(ctx, h))
	}

	tests := []struct {
		name    string
		company string
		date    string
		want    string
	}{
		{name: "recurring in a later year", company: "acme", date: "2024-12-25", want: "Christmas"},
		{name: "company holiday wins", company: "acme", date: "2024-03-08", want: "Acme Day"},
		{name: "global only", company: "", date: "2024-03-08", want: "Global Day"},
		{name: "other company's holiday", company: "acme", date: "2024-04-01"},
		{name: "plain day", company: "acme", date: "2024-03-04"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := generic.MustParseDate(tt.date)
			h, err := s.Calendar(tt.company).HolidayOn(ctx, d)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, h)
				return
			}
			require.NotNil(t, h)
			assert.Equal(t, tt.want, h.Name)
			assert.Equal(t, d, h.Date)
		})
	}

	list, err := s.ListHolidays(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, list, 3)

	require.NoError(t, s.DeleteHoliday(ctx, "h3"))
	h, err := s.HolidayFor(ctx, "acme", generic.MustParseDate("2024-03-08"))
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "Global Day", h.Name)
}

func TestStore_Absences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveAbsence(ctx, generic.Absence{EmployeeID: "emp-1", Date: day0, Type: "vacation"}))
	require.NoError(t, s.SaveAbsence(ctx, generic.Absence{EmployeeID: "emp-1", Date: day0, Type: "sick"}))

	a, err := s.AbsenceOn(ctx, "emp-1", day0)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "sick", a.Type)

	a, err = s.AbsenceOn(ctx, "emp-1", day0.AddDays(1))
	require.NoError(t, err)
	assert.Nil(t, a)
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

func TestStore_SweepRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	started := time.Date(2024, 3, 5, 0, 5, 0, 0, time.UTC)
	run := SweepRun{ID: "r1", RunDate: day0.AddDays(1), Status: "running", StartedAt: started}
	require.NoError(t, s.SaveSweepRun(ctx, run))

	done := started.Add(time.Minute)
	run.Status, run.Employees, run.Expirations, run.ExpiredMinutes, run.PostedDays = "completed", 3, 2, 90, 3
	run.CompletedAt = &done
	require.NoError(t, s.SaveSweepRun(ctx, run))

	failed := SweepRun{ID: "r2", RunDate: day0.AddDays(2), Status: "failed", Error: "boom", StartedAt: started.Add(24 * time.Hour)}
	require.NoError(t, s.SaveSweepRun(ctx, failed))

	all, err := s.ListSweepRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].ID)
	assert.Equal(t, "boom", all[0].Error)
	assert.Nil(t, all[0].CompletedAt)

	completed, err := s.ListSweepRuns(ctx, "completed", 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, generic.Minutes(90), completed[0].ExpiredMinutes)
	assert.Equal(t, 3, completed[0].PostedDays)
	require.NotNil(t, completed[0].CompletedAt)
	assert.True(t, done.Equal(*completed[0].CompletedAt))
}
