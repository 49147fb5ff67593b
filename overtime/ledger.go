/*
Package overtime implements the overtime bank: an append-only, per-employee
ledger of time credits and debits with FIFO expiration.

PURPOSE:
  The Ledger is the only owner of an employee's bank balance. Every change is
  one Movement appended through Append; everything else (balance, open
  credit lots, expiring minutes) is derived by replaying the history.

CORE INVARIANTS:
  1. balanceAfter[n] == balanceAfter[n-1] + signedEffect(movement[n])
  2. Debits, payouts, negative adjustments and expirations consume the
     oldest unconsumed credit remainder first (FIFO)
  3. A negative balance is valid: it is time owed, never rejected
  4. At most one mutating operation per employee at a time

EXPIRATION:
  Credits whose expiration date is before today are expired lazily by the
  next Append for that employee (in the same atomic batch) and eagerly by
  Sweep / SweepAll, which the scheduler runs. Summarize projects pending
  expirations without writing, so it is correct as of now on every call.

CONCURRENCY:
  A read/write lock per employee. Append and Sweep take the write lock,
  Summarize and Movements the read lock, so reads never observe a
  half-applied batch.

SEE ALSO:
  - account.go: Replay and FIFO lots
  - store.go: Persistence interface
  - timesheet/service.go: Posts reconciliation results as movements
*/
package overtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/worktime-engine/generic"
)

// Ledger is the overtime bank.
type Ledger struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	loc       *time.Location
	newID     func() string

	mapMu sync.Mutex
	locks map[string]*sync.RWMutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher sets where MovementAppended events go.
func WithPublisher(p Publisher) Option { return func(l *Ledger) { l.publisher = p } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(l *Ledger) { l.logger = logger } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithLocation sets the zone that decides which calendar day "today" is.
func WithLocation(loc *time.Location) Option { return func(l *Ledger) { l.loc = loc } }

// NewLedger creates a ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		publisher: NopPublisher{},
		logger:    slog.Default(),
		now:       time.Now,
		loc:       time.UTC,
		newID:     uuid.NewString,
		locks:     make(map[string]*sync.RWMutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) employeeLock(employeeID string) *sync.RWMutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	mu, ok := l.locks[employeeID]
	if !ok {
		mu = &sync.RWMutex{}
		l.locks[employeeID] = mu
	}
	return mu
}

func (l *Ledger) today(now time.Time) generic.Date {
	return generic.DateOf(now.In(l.loc))
}

// =============================================================================
// WRITES
// =============================================================================

// Append validates and appends one movement. Expired credits of the employee
// are swept in the same batch first. Nothing is written when an error is
// returned.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (Movement, error) {
	if err := in.validate(); err != nil {
		return Movement{}, err
	}

	mu := l.employeeLock(in.EmployeeID)
	mu.Lock()
	defer mu.Unlock()

	if in.IdempotencyKey != "" {
		exists, err := l.store.Exists(ctx, in.IdempotencyKey)
		if err != nil {
			return Movement{}, fmt.Errorf("check idempotency key: %w", err)
		}
		if exists {
			return Movement{}, generic.ErrDuplicateIdempotencyKey
		}
	}

	acct, err := l.load(ctx, in.EmployeeID)
	if err != nil {
		return Movement{}, err
	}

	now := l.stamp(acct)
	batch := l.expire(acct, now)

	source := in.Source
	if source == "" {
		source = SourceManual
	}
	multiplier := in.multiplier()
	effective := in.Minutes
	if in.Type == Credit {
		effective = effectiveMinutes(in.Minutes, multiplier)
	}

	m := Movement{
		ID:               l.newID(),
		EmployeeID:       in.EmployeeID,
		Sequence:         acct.LastSequence + 1,
		Type:             in.Type,
		Minutes:          in.Minutes,
		Multiplier:       multiplier,
		EffectiveMinutes: effective,
		Decrease:         in.Decrease,
		ReferenceDate:    in.ReferenceDate,
		ExpirationDate:   in.ExpirationDate,
		Description:      in.Description,
		IdempotencyKey:   in.IdempotencyKey,
		Source:           source,
		CreatedAt:        now,
	}
	acct.apply(&m)
	batch = append(batch, m)

	if err := l.store.AppendBatch(ctx, batch); err != nil {
		return Movement{}, fmt.Errorf("append movement: %w", err)
	}

	l.logger.Info("overtime movement appended",
		"employee_id", m.EmployeeID,
		"movement_id", m.ID,
		"type", m.Type,
		"effective", m.EffectiveMinutes.String(),
		"balance_after", m.BalanceAfter.String(),
		"expired_in_batch", len(batch)-1,
	)
	l.publish(ctx, batch)
	return m, nil
}

// Sweep appends EXPIRATION movements for every expired credit of the
// employee and returns them.
func (l *Ledger) Sweep(ctx context.Context, employeeID string) ([]Movement, error) {
	mu := l.employeeLock(employeeID)
	mu.Lock()
	defer mu.Unlock()

	acct, err := l.load(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	batch := l.expire(acct, l.stamp(acct))
	if len(batch) == 0 {
		return nil, nil
	}
	if err := l.store.AppendBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("append expirations: %w", err)
	}

	l.logger.Info("overtime credits expired",
		"employee_id", employeeID,
		"count", len(batch),
		"balance_after", batch[len(batch)-1].BalanceAfter.String(),
	)
	l.publish(ctx, batch)
	return batch, nil
}

// SweepResult reports a SweepAll run.
type SweepResult struct {
	Employees   int
	Expirations int
	Minutes     generic.Minutes
}

// SweepAll sweeps every employee with movements. Failures for one employee
// do not stop the others; they are joined into the returned error.
func (l *Ledger) SweepAll(ctx context.Context) (SweepResult, error) {
	ids, err := l.store.Employees(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list employees: %w", err)
	}

	var (
		res  SweepResult
		errs []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		expired, err := l.Sweep(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("employee %s: %w", id, err))
			continue
		}
		res.Employees++
		res.Expirations += len(expired)
		for _, m := range expired {
			res.Minutes += m.EffectiveMinutes
		}
	}
	return res, errors.Join(errs...)
}

// expire applies an EXPIRATION for every lot that expired before today.
func (l *Ledger) expire(acct *Account, now time.Time) []Movement {
	var out []Movement
	for _, lot := range acct.expiredLots(l.today(now)) {
		m := Movement{
			ID:               l.newID(),
			EmployeeID:       acct.EmployeeID,
			Sequence:         acct.LastSequence + 1,
			Type:             Expiration,
			Minutes:          lot.Remaining,
			Multiplier:       one,
			EffectiveMinutes: lot.Remaining,
			ReferenceDate:    lot.Expiration,
			SourceCreditID:   lot.CreditID,
			Description:      fmt.Sprintf("credit %s expired on %s", lot.CreditID, lot.Expiration),
			Source:           SourceSweep,
			CreatedAt:        now,
		}
		acct.apply(&m)
		out = append(out, m)
	}
	return out
}

// stamp returns the creation time for new movements, never earlier than the
// last one so creation order and sequence order agree.
func (l *Ledger) stamp(acct *Account) time.Time {
	now := l.now().UTC()
	if now.Before(acct.LastCreatedAt) {
		return acct.LastCreatedAt
	}
	return now
}

func (l *Ledger) load(ctx context.Context, employeeID string) (*Account, error) {
	history, err := l.store.Load(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("load movements: %w", err)
	}
	acct, err := Replay(employeeID, history)
	if err != nil {
		l.logger.Error("overtime ledger integrity check failed", "employee_id", employeeID, "error", err)
		return nil, err
	}
	return acct, nil
}

func (l *Ledger) publish(ctx context.Context, batch []Movement) {
	for _, m := range batch {
		if err := l.publisher.Publish(ctx, NewMovementAppended(m)); err != nil {
			l.logger.Warn("publish overtime movement failed",
				"employee_id", m.EmployeeID, "movement_id", m.ID, "error", err)
		}
	}
}

// =============================================================================
// READS
// =============================================================================

// Movements returns the employee's full history.
func (l *Ledger) Movements(ctx context.Context, employeeID string) ([]Movement, error) {
	mu := l.employeeLock(employeeID)
	mu.RLock()
	defer mu.RUnlock()

	return l.store.Load(ctx, employeeID)
}

// Verify replays the history and reports the first broken balanceAfter link.
func (l *Ledger) Verify(ctx context.Context, employeeID string) error {
	mu := l.employeeLock(employeeID)
	mu.RLock()
	defer mu.RUnlock()

	history, err := l.store.Load(ctx, employeeID)
	if err != nil {
		return fmt.Errorf("load movements: %w", err)
	}
	_, err = Replay(employeeID, history)
	return err
}

// Summarize derives the bank summary. Totals cover movements whose
// accounting date is within period; the balance and expiring figures are
// global and as of now. lookaheadDays <= 0 uses DefaultLookaheadDays.
func (l *Ledger) Summarize(ctx context.Context, employeeID string, period generic.Period, lookaheadDays int) (Summary, error) {
	if err := period.Validate(); err != nil {
		return Summary{}, err
	}
	if lookaheadDays <= 0 {
		lookaheadDays = DefaultLookaheadDays
	}

	history, projected, pending, now, err := l.snapshot(ctx, employeeID)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		EmployeeID:     employeeID,
		Period:         period,
		AsOf:           now,
		CurrentBalance: projected.Balance,
		LookaheadDays:  lookaheadDays,
	}

	all := append(append([]Movement(nil), history...), pending...)
	for _, m := range all {
		if !period.Contains(m.AccountingDate()) {
			continue
		}
		switch {
		case m.Type == Expiration:
			s.TotalExpired += m.EffectiveMinutes
		case m.IsIncrease():
			s.TotalCredit += m.EffectiveMinutes
		default:
			s.TotalDebit += m.EffectiveMinutes
			if m.Type == Payout {
				s.TotalPaidOut += m.EffectiveMinutes
			}
		}
	}

	today := l.today(now)
	horizon := today.AddDays(lookaheadDays)
	for _, lot := range projected.Lots {
		if lot.Expiration == nil || lot.Remaining <= 0 || lot.Expiration.Before(today) {
			continue
		}
		if lot.Expiration.BeforeOrEqual(horizon) {
			s.ExpiringMinutes += lot.Remaining
		}
		if s.NextExpiration == nil || lot.Expiration.Before(*s.NextExpiration) {
			exp := *lot.Expiration
			s.NextExpiration = &exp
		}
	}
	if s.NextExpiration != nil {
		days := today.DaysUntil(*s.NextExpiration)
		s.DaysUntilNextExpiration = &days
	}

	s.Balance = s.CurrentBalance.String()
	s.Expiring = s.ExpiringMinutes.String()
	return s, nil
}

// Account returns the replayed account with pending expirations projected.
func (l *Ledger) Account(ctx context.Context, employeeID string) (*Account, error) {
	_, projected, _, _, err := l.snapshot(ctx, employeeID)
	return projected, err
}

// snapshot reads the history under the employee's read lock and projects
// the expirations a sweep would write now, without writing them.
func (l *Ledger) snapshot(ctx context.Context, employeeID string) ([]Movement, *Account, []Movement, time.Time, error) {
	mu := l.employeeLock(employeeID)
	mu.RLock()
	defer mu.RUnlock()

	history, err := l.store.Load(ctx, employeeID)
	if err != nil {
		return nil, nil, nil, time.Time{}, fmt.Errorf("load movements: %w", err)
	}
	acct, err := Replay(employeeID, history)
	if err != nil {
		return nil, nil, nil, time.Time{}, err
	}

	projected := acct.clone()
	now := l.stamp(projected)
	var pending []Movement
	for _, lot := range projected.expiredLots(l.today(now)) {
		m := Movement{
			EmployeeID:       employeeID,
			Type:             Expiration,
			Minutes:          lot.Remaining,
			EffectiveMinutes: lot.Remaining,
			ReferenceDate:    lot.Expiration,
			SourceCreditID:   lot.CreditID,
			CreatedAt:        now,
		}
		projected.apply(&m)
		pending = append(pending, m)
	}
	return history, projected, pending, now, nil
}
