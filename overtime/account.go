package overtime

import (
	"time"

	"github.com/warp/worktime-engine/generic"
)

// =============================================================================
// ACCOUNT - The state a movement history folds into
// =============================================================================

// Lot is the unconsumed remainder of one credit (or positive adjustment).
type Lot struct {
	CreditID   string          `json:"credit_id"`
	Remaining  generic.Minutes `json:"remaining"`
	Expiration *generic.Date   `json:"expiration,omitempty"`
}

// Account is the replayed state of an employee's bank.
//
// Invariant: Balance == sum(Lots.Remaining) - Debt. Debt is time owed that no
// lot covered; the next increase repays it before opening a new lot.
type Account struct {
	EmployeeID    string
	Balance       generic.Minutes
	Debt          generic.Minutes
	Lots          []Lot // FIFO, oldest first
	LastSequence  int64
	LastCreatedAt time.Time
}

// Replay folds a history (ordered by Sequence) into an Account and checks
// every balanceAfter link on the way.
func Replay(employeeID string, movements []Movement) (*Account, error) {
	a := &Account{EmployeeID: employeeID}
	for i := range movements {
		m := movements[i]
		recorded := m.BalanceAfter
		a.apply(&m)
		if m.BalanceAfter != recorded {
			return a, &generic.BrokenChainError{
				MovementID: m.ID,
				Sequence:   m.Sequence,
				Expected:   m.BalanceAfter,
				Recorded:   recorded,
			}
		}
	}
	return a, nil
}

// apply folds m into the account and stamps m.BalanceAfter.
func (a *Account) apply(m *Movement) {
	amount := m.EffectiveMinutes

	switch {
	case m.IsIncrease():
		repay := generic.MinMinutes(a.Debt, amount)
		a.Debt -= repay
		if rest := amount - repay; rest > 0 {
			a.Lots = append(a.Lots, Lot{CreditID: m.ID, Remaining: rest, Expiration: m.ExpirationDate})
		}
	case m.Type == Expiration && m.SourceCreditID != "" && a.dropLot(m.SourceCreditID, amount):
		// removed the named lot
	default:
		a.Debt += a.consume(amount)
	}

	a.Balance += m.SignedEffect()
	m.BalanceAfter = a.Balance
	if m.Sequence > a.LastSequence {
		a.LastSequence = m.Sequence
	}
	if m.CreatedAt.After(a.LastCreatedAt) {
		a.LastCreatedAt = m.CreatedAt
	}
}

// consume takes amount from the oldest lots first, splitting the last one
// it touches, and returns whatever no lot could cover.
func (a *Account) consume(amount generic.Minutes) generic.Minutes {
	need := amount
	for need > 0 && len(a.Lots) > 0 {
		take := generic.MinMinutes(a.Lots[0].Remaining, need)
		a.Lots[0].Remaining -= take
		need -= take
		if a.Lots[0].Remaining == 0 {
			a.Lots = a.Lots[1:]
		}
	}
	return need
}

// dropLot removes the lot of creditID when it holds exactly amount.
func (a *Account) dropLot(creditID string, amount generic.Minutes) bool {
	for i, lot := range a.Lots {
		if lot.CreditID != creditID {
			continue
		}
		if lot.Remaining != amount {
			return false
		}
		a.Lots = append(a.Lots[:i:i], a.Lots[i+1:]...)
		return true
	}
	return false
}

// expiredLots returns the lots whose expiration date is before today.
func (a *Account) expiredLots(today generic.Date) []Lot {
	var out []Lot
	for _, lot := range a.Lots {
		if lot.Expiration != nil && lot.Expiration.Before(today) && lot.Remaining > 0 {
			out = append(out, lot)
		}
	}
	return out
}

// clone copies the account so a projection can run without touching it.
func (a *Account) clone() *Account {
	c := *a
	c.Lots = append([]Lot(nil), a.Lots...)
	return &c
}

// OpenLots returns a copy of the FIFO queue.
func (a *Account) OpenLots() []Lot {
	return append([]Lot(nil), a.Lots...)
}
