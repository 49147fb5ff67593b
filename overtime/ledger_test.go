package overtime_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/overtime"
	"github.com/warp/worktime-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var day0 = generic.MustParseDate("2024-03-04")

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(d generic.Date) *clock {
	return &clock{now: d.In(time.UTC).Add(9 * time.Hour)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(d generic.Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = d.In(time.UTC).Add(9 * time.Hour)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []overtime.MovementAppended
}

func (p *recordingPublisher) Publish(_ context.Context, e overtime.MovementAppended) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newTestLedger(c *clock, opts ...overtime.Option) (*overtime.Ledger, *memory.Memory) {
	store := memory.New()
	opts = append([]overtime.Option{overtime.WithClock(c.Now)}, opts...)
	return overtime.NewLedger(store, opts...), store
}

func datep(d generic.Date) *generic.Date { return &d }

func credit(emp string, minutes int, expires *generic.Date) overtime.AppendInput {
	return overtime.AppendInput{
		EmployeeID:     emp,
		Type:           overtime.Credit,
		Minutes:        generic.Minutes(minutes),
		ReferenceDate:  datep(day0),
		ExpirationDate: expires,
	}
}

func debit(emp string, minutes int) overtime.AppendInput {
	return overtime.AppendInput{
		EmployeeID:    emp,
		Type:          overtime.Debit,
		Minutes:       generic.Minutes(minutes),
		ReferenceDate: datep(day0),
	}
}

// =============================================================================
// APPEND
// =============================================================================

func TestLedger_CreditAppliesMultiplier(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(newClock(day0))

	// GIVEN: an existing balance of 30
	_, err := ledger.Append(ctx, overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Adjustment, Minutes: 30})
	require.NoError(t, err)

	// WHEN: 120 minutes are credited at 1.5
	in := credit("emp-1", 120, datep(day0.AddDays(180)))
	in.Multiplier = decimal.NewFromFloat(1.5)
	m, err := ledger.Append(ctx, in)

	// THEN: effective minutes are 180 and the balance moves by 180
	require.NoError(t, err)
	assert.Equal(t, generic.Minutes(120), m.Minutes)
	assert.Equal(t, generic.Minutes(180), m.EffectiveMinutes)
	assert.Equal(t, generic.Minutes(210), m.BalanceAfter)
	assert.Equal(t, int64(2), m.Sequence)
	assert.True(t, m.Multiplier.Equal(decimal.NewFromFloat(1.5)))
	assert.Equal(t, overtime.SourceManual, m.Source)
	require.NotNil(t, m.ExpirationDate)
	assert.Equal(t, day0.AddDays(180), *m.ExpirationDate)
}

func TestLedger_MultiplierRounding(t *testing.T) {
	tests := []struct {
		name       string
		minutes    int
		multiplier decimal.Decimal
		want       generic.Minutes
	}{
		{name: "default multiplier", minutes: 45, want: 45},
		{name: "half rounds away from zero", minutes: 5, multiplier: decimal.NewFromFloat(1.5), want: 8},
		{name: "double", minutes: 45, multiplier: decimal.NewFromInt(2), want: 90},
		{name: "fraction down", minutes: 10, multiplier: decimal.NewFromFloat(1.33), want: 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, _ := newTestLedger(newClock(day0))
			in := credit("emp-1", tt.minutes, nil)
			in.Multiplier = tt.multiplier

			m, err := ledger.Append(context.Background(), in)

			require.NoError(t, err)
			assert.Equal(t, tt.want, m.EffectiveMinutes)
			assert.Equal(t, tt.want, m.BalanceAfter)
		})
	}
}

func TestLedger_NegativeBalanceIsDebt(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(newClock(day0))

	// GIVEN: a debit on an empty bank
	m, err := ledger.Append(ctx, debit("emp-1", 50))
	require.NoError(t, err)
	assert.Equal(t, generic.Minutes(-50), m.BalanceAfter)

	acct, err := ledger.Account(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, generic.Minutes(50), acct.Debt)
	assert.Empty(t, acct.OpenLots())

	// WHEN: a credit arrives
	m, err = ledger.Append(ctx, credit("emp-1", 80, nil))
	require.NoError(t, err)

	// THEN: it repays the debt first
	assert.Equal(t, generic.Minutes(30), m.BalanceAfter)
	acct, err = ledger.Account(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, generic.Minutes(0), acct.Debt)
	require.Len(t, acct.OpenLots(), 1)
	assert.Equal(t, generic.Minutes(30), acct.OpenLots()[0].Remaining)
}

func TestLedger_DecreasingAdjustment(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(newClock(day0))

	_, err := ledger.Append(ctx, credit("emp-1", 60, nil))
	require.NoError(t, err)

	m, err := ledger.Append(ctx, overtime.AppendInput{
		EmployeeID: "emp-1", Type: overtime.Adjustment, Minutes: 15, Decrease: true, Description: "correction",
	})
	require.NoError(t, err)
	assert.Equal(t, generic.Minutes(45), m.BalanceAfter)
	assert.Equal(t, generic.Minutes(-15), m.SignedEffect())
}

func TestLedger_FIFOConsumption(t *testing.T) {
	ctx := context.Background()
	c := newClock(day0)
	ledger, _ := newTestLedger(c)

	// GIVEN: C1 (60, expires day 10) then C2 (30, expires day 20)
	first, err := ledger.Append(ctx, credit("emp-1", 60, datep(day0.AddDays(10))))
	require.NoError(t, err)
	second, err := ledger.Append(ctx, credit("emp-1", 30, datep(day0.AddDays(20))))
	require.NoError(t, err)

	// WHEN: 80 minutes are debited
	_, err = ledger.Append(ctx, debit("emp-1", 80))
	require.NoError(t, err)

	// THEN: C1 is used up and 10 of C2 remain with C2's expiration
	acct, err := ledger.Account(ctx, "emp-1")
	require.NoError(t, err)
	lots := acct.OpenLots()
	require.Len(t, lots, 1)
	assert.Equal(t, second.ID, lots[0].CreditID)
	assert.NotEqual(t, first.ID, lots[0].CreditID)
	assert.Equal(t, generic.Minutes(10), lots[0].Remaining)
	require.NotNil(t, lots[0].Expiration)
	assert.Equal(t, day0.AddDays(20), *lots[0].Expiration)

	// AND: no expiration was generated
	history, err := ledger.Movements(ctx, "emp-1")
	require.NoError(t, err)
	for _, m := range history {
		assert.NotEqual(t, overtime.Expiration, m.Type)
	}

	// AND: passing C1's date expires nothing
	c.Set(day0.AddDays(15))
	expired, err := ledger.Sweep(ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, expired)

	// AND: passing C2's date expires only its remainder
	c.Set(day0.AddDays(21))
	expired, err = ledger.Sweep(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overtime.Expiration, expired[0].Type)
	assert.Equal(t, second.ID, expired[0].SourceCreditID)
	assert.Equal(t, generic.Minutes(10), expired[0].EffectiveMinutes)
	assert.Equal(t, generic.Minutes(0), expired[0].BalanceAfter)
}

func TestLedger_PartialLotExpires(t *testing.T) {
	ctx := context.Background()
	c := newClock(day0)
	ledger, _ := newTestLedger(c)

	// GIVEN: credit 60 expiring on day 10, partly consumed by a debit of 20
	credited, err := ledger.Append(ctx, credit("emp-1", 60, datep(day0.AddDays(10))))
	require.NoError(t, err)
	_, err = ledger.Append(ctx, debit("emp-1", 20))
	require.NoError(t, err)

	// WHEN: the sweep runs on the expiration day and the day after
	c.Set(day0.AddDays(10))
	onTheDay, err := ledger.Sweep(ctx, "emp-1")
	require.NoError(t, err)

	c.Set(day0.AddDays(11))
	dayAfter, err := ledger.Sweep(ctx, "emp-1")
	require.NoError(t, err)

	// THEN: only the remaining 40 expire, and only once the date has passed
	assert.Empty(t, onTheDay)
	require.Len(t, dayAfter, 1)
	exp := dayAfter[0]
	assert.Equal(t, overtime.Expiration, exp.Type)
	assert.Equal(t, generic.Minutes(40), exp.EffectiveMinutes)
	assert.Equal(t, credited.ID, exp.SourceCreditID)
	assert.Equal(t, overtime.SourceSweep, exp.Source)
	assert.Equal(t, generic.Minutes(0), exp.BalanceAfter)

	// AND: a second sweep is a no-op
	again, err := ledger.Sweep(ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestLedger_AppendExpiresLazily(t *testing.T) {
	ctx := context.Background()
	c := newClock(day0)
	ledger, _ := newTestLedger(c)

	_, err := ledger.Append(ctx, credit("emp-1", 60, datep(day0.AddDays(1))))
	require.NoError(t, err)

	// WHEN: the next append happens after the credit expired
	c.Set(day0.AddDays(3))
	m, err := ledger.Append(ctx, debit("emp-1", 10))
	require.NoError(t, err)

	// THEN: the expiration lands before the debit, in the same batch
	history, err := ledger.Movements(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, overtime.Credit, history[0].Type)
	assert.Equal(t, overtime.Expiration, history[1].Type)
	assert.Equal(t, overtime.Debit, history[2].Type)
	assert.Equal(t, []int64{1, 2, 3}, []int64{history[0].Sequence, history[1].Sequence, history[2].Sequence})
	assert.Equal(t, generic.Minutes(-10), m.BalanceAfter)
	assert.NoError(t, ledger.Verify(ctx, "emp-1"))
}

func TestLedger_SweepAll(t *testing.T) {
	ctx := context.Background()
	c := newClock(day0)
	ledger, _ := newTestLedger(c)

	_, err := ledger.Append(ctx, credit("emp-1", 60, datep(day0.AddDays(1))))
	require.NoError(t, err)
	_, err = ledger.Append(ctx, credit("emp-2", 45, nil))
	require.NoError(t, err)

	c.Set(day0.AddDays(5))
	res, err := ledger.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, overtime.SweepResult{Employees: 2, Expirations: 1, Minutes: 60}, res)

	res, err = ledger.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Expirations)
}

func TestLedger_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(newClock(day0))

	in := credit("emp-1", 60, nil)
	in.IdempotencyKey = "recon:emp-1:2024-03-04:r1:overtime"

	_, err := ledger.Append(ctx, in)
	require.NoError(t, err)

	_, err = ledger.Append(ctx, in)
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	assert.True(t, generic.IsConflict(err))

	history, err := ledger.Movements(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLedger_InvalidMovement(t *testing.T) {
	tests := []struct {
		name  string
		in    overtime.AppendInput
		field string
	}{
		{
			name:  "missing employee",
			in:    overtime.AppendInput{Type: overtime.Credit, Minutes: 10},
			field: "employee_id",
		},
		{
			name:  "unknown type",
			in:    overtime.AppendInput{EmployeeID: "emp-1", Type: "BONUS", Minutes: 10},
			field: "type",
		},
		{
			name:  "zero minutes",
			in:    overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Debit},
			field: "minutes",
		},
		{
			name:  "negative minutes",
			in:    overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Debit, Minutes: -5},
			field: "minutes",
		},
		{
			name:  "multiplier on debit",
			in:    overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Debit, Minutes: 10, Multiplier: decimal.NewFromInt(2)},
			field: "multiplier",
		},
		{
			name:  "negative multiplier",
			in:    overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Credit, Minutes: 10, Multiplier: decimal.NewFromInt(-1)},
			field: "multiplier",
		},
		{
			name:  "expiration on payout",
			in:    overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Payout, Minutes: 10, ExpirationDate: datep(day0)},
			field: "expiration_date",
		},
		{
			name:  "decrease on credit",
			in:    overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Credit, Minutes: 10, Decrease: true},
			field: "decrease",
		},
		{
			name:  "credit without required expiration",
			in:    overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Credit, Minutes: 10, ExpirationRequired: true},
			field: "expiration_date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, store := newTestLedger(newClock(day0))

			_, err := ledger.Append(context.Background(), tt.in)

			require.Error(t, err)
			assert.ErrorIs(t, err, generic.ErrInvalidMovement)
			var invalid *generic.InvalidMovementError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)

			ids, err := store.Employees(context.Background())
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestLedger_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(newClock(day0))

	// GIVEN: an opening credit the debits and payouts draw from
	_, err := ledger.Append(ctx, credit("emp-1", 100, datep(day0.AddDays(60))))
	require.NoError(t, err)

	// WHEN: credits, debits and payouts race for the same employee
	const n = 60
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var in overtime.AppendInput
			switch i % 3 {
			case 0:
				in = credit("emp-1", 3, datep(day0.AddDays(30+i)))
			case 1:
				in = debit("emp-1", 5)
			default:
				in = overtime.AppendInput{EmployeeID: "emp-1", Type: overtime.Payout, Minutes: 2}
			}
			in.IdempotencyKey = fmt.Sprintf("key-%d", i)
			if _, err := ledger.Append(ctx, in); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// THEN: every movement extends the chain by its own effect
	history, err := ledger.Movements(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, history, n+1)
	var running generic.Minutes
	for i, m := range history {
		assert.Equal(t, int64(i+1), m.Sequence)
		running += m.SignedEffect()
		assert.Equal(t, running, m.BalanceAfter)
	}
	// 100 + 20*3 - 20*5 - 20*2
	want := generic.Minutes(20)
	assert.Equal(t, want, running)
	assert.NoError(t, ledger.Verify(ctx, "emp-1"))

	// AND: the FIFO lots and the summary agree with the chain
	acct, err := ledger.Account(ctx, "emp-1")
	require.NoError(t, err)
	var open generic.Minutes
	for _, lot := range acct.OpenLots() {
		open += lot.Remaining
	}
	assert.Equal(t, want, open-acct.Debt)

	summary, err := ledger.Summarize(ctx, "emp-1", generic.MonthOf(day0), 0)
	require.NoError(t, err)
	assert.Equal(t, want, summary.CurrentBalance)
}

func TestLedger_VerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(newClock(day0))

	for _, in := range []overtime.AppendInput{credit("emp-1", 60, nil), debit("emp-1", 20), credit("emp-1", 10, nil)} {
		_, err := ledger.Append(ctx, in)
		require.NoError(t, err)
	}
	require.NoError(t, ledger.Verify(ctx, "emp-1"))

	// WHEN: a recorded balance is rewritten behind the ledger's back
	require.True(t, store.Tamper("emp-1", 2, 999))

	// THEN: verification and further appends fail
	err := ledger.Verify(ctx, "emp-1")
	assert.ErrorIs(t, err, generic.ErrBrokenBalanceChain)
	var broken *generic.BrokenChainError
	require.ErrorAs(t, err, &broken)
	assert.Equal(t, int64(2), broken.Sequence)
	assert.Equal(t, generic.Minutes(40), broken.Expected)
	assert.Equal(t, generic.Minutes(999), broken.Recorded)

	_, err = ledger.Append(ctx, debit("emp-1", 5))
	assert.ErrorIs(t, err, generic.ErrBrokenBalanceChain)
}

func TestLedger_PublishesCommittedMovements(t *testing.T) {
	ctx := context.Background()
	c := newClock(day0)
	pub := &recordingPublisher{}
	ledger, _ := newTestLedger(c, overtime.WithPublisher(pub))

	_, err := ledger.Append(ctx, credit("emp-1", 60, datep(day0)))
	require.NoError(t, err)
	c.Set(day0.AddDays(2))
	_, err = ledger.Append(ctx, debit("emp-1", 10))
	require.NoError(t, err)

	require.Len(t, pub.events, 3)
	assert.Equal(t, overtime.Credit, pub.events[0].Movement.Type)
	assert.Equal(t, overtime.Expiration, pub.events[1].Movement.Type)
	assert.Equal(t, overtime.Debit, pub.events[2].Movement.Type)
	assert.Equal(t, overtime.EventMovementAppended, pub.events[2].Type)
	assert.Equal(t, "emp-1", pub.events[2].EmployeeID)
}

// =============================================================================
// SUMMARIZE
// =============================================================================

func TestLedger_Summarize(t *testing.T) {
	ctx := context.Background()
	c := newClock(day0)
	ledger, _ := newTestLedger(c)

	// GIVEN: a month of activity
	inputs := []overtime.AppendInput{
		credit("emp-1", 120, datep(day0.AddDays(20))),
		credit("emp-1", 60, datep(day0.AddDays(90))),
		debit("emp-1", 30),
		{EmployeeID: "emp-1", Type: overtime.Payout, Minutes: 15, ReferenceDate: datep(day0)},
	}
	for _, in := range inputs {
		_, err := ledger.Append(ctx, in)
		require.NoError(t, err)
	}

	// WHEN
	s, err := ledger.Summarize(ctx, "emp-1", generic.MonthOf(day0), 30)
	require.NoError(t, err)

	// THEN
	assert.Equal(t, generic.Minutes(135), s.CurrentBalance)
	assert.Equal(t, generic.Minutes(180), s.TotalCredit)
	assert.Equal(t, generic.Minutes(45), s.TotalDebit)
	assert.Equal(t, generic.Minutes(15), s.TotalPaidOut)
	assert.Equal(t, generic.Minutes(0), s.TotalExpired)
	assert.Equal(t, "2h15m", s.Balance)

	// 120 - 45 consumed FIFO = 75 expiring within 30 days
	assert.Equal(t, generic.Minutes(75), s.ExpiringMinutes)
	assert.Equal(t, "1h15m", s.Expiring)
	require.NotNil(t, s.NextExpiration)
	assert.Equal(t, day0.AddDays(20), *s.NextExpiration)
	require.NotNil(t, s.DaysUntilNextExpiration)
	assert.Equal(t, 20, *s.DaysUntilNextExpiration)
}

func TestLedger_SummarizeProjectsExpirations(t *testing.T) {
	ctx := context.Background()
	c := newClock(day0)
	ledger, _ := newTestLedger(c)

	_, err := ledger.Append(ctx, credit("emp-1", 60, datep(day0.AddDays(2))))
	require.NoError(t, err)

	// WHEN: summarizing after the expiration date, before any sweep
	c.Set(day0.AddDays(5))
	s, err := ledger.Summarize(ctx, "emp-1", generic.MonthOf(day0), 0)
	require.NoError(t, err)

	// THEN: the summary reflects the expiration without writing it
	assert.Equal(t, generic.Minutes(0), s.CurrentBalance)
	assert.Equal(t, generic.Minutes(60), s.TotalExpired)
	assert.Equal(t, overtime.DefaultLookaheadDays, s.LookaheadDays)
	assert.Nil(t, s.NextExpiration)

	history, err := ledger.Movements(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLedger_SummarizeInvalidPeriod(t *testing.T) {
	ledger, _ := newTestLedger(newClock(day0))

	_, err := ledger.Summarize(context.Background(), "emp-1", generic.Period{Start: day0, End: day0.AddDays(-1)}, 0)

	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestLedger_SummarizeEmpty(t *testing.T) {
	ledger, _ := newTestLedger(newClock(day0))

	s, err := ledger.Summarize(context.Background(), "nobody", generic.MonthOf(day0), 0)

	require.NoError(t, err)
	assert.Equal(t, generic.Minutes(0), s.CurrentBalance)
	assert.Equal(t, "0h", s.Balance)
}
