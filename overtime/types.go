package overtime

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/generic"
)

// =============================================================================
// MOVEMENT TYPES
// =============================================================================

type MovementType string

const (
	// CREDIT banks overtime; its effective minutes are round(minutes * multiplier).
	Credit MovementType = "CREDIT"
	// DEBIT draws the bank down for a deficit day.
	Debit MovementType = "DEBIT"
	// ADJUSTMENT is a manual or corrective change in either direction.
	Adjustment MovementType = "ADJUSTMENT"
	// EXPIRATION removes the unconsumed remainder of an expired credit.
	Expiration MovementType = "EXPIRATION"
	// PAYOUT converts banked time into pay.
	Payout MovementType = "PAYOUT"
)

func (t MovementType) Valid() bool {
	switch t {
	case Credit, Debit, Adjustment, Expiration, Payout:
		return true
	}
	return false
}

// Where a movement came from.
const (
	SourceManual         = "manual"
	SourceReconciliation = "reconciliation"
	SourceSweep          = "sweep"
)

// =============================================================================
// MOVEMENT - One immutable ledger entry
// =============================================================================

// Movement is an entry of an employee's overtime bank. Minutes and
// EffectiveMinutes are magnitudes; Type (and Decrease for adjustments)
// carries the sign.
type Movement struct {
	ID         string       `json:"id"`
	EmployeeID string       `json:"employee_id"`
	Sequence   int64        `json:"sequence"`
	Type       MovementType `json:"type"`

	Minutes          generic.Minutes `json:"minutes"`
	Multiplier       decimal.Decimal `json:"multiplier"`
	EffectiveMinutes generic.Minutes `json:"effective_minutes"`
	Decrease         bool            `json:"decrease,omitempty"`

	ReferenceDate  *generic.Date `json:"reference_date,omitempty"`
	ExpirationDate *generic.Date `json:"expiration_date,omitempty"`
	SourceCreditID string        `json:"source_credit_id,omitempty"`

	BalanceAfter   generic.Minutes `json:"balance_after"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Source         string          `json:"source,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsIncrease reports whether the movement adds to the balance.
func (m Movement) IsIncrease() bool {
	switch m.Type {
	case Credit:
		return true
	case Adjustment:
		return !m.Decrease
	}
	return false
}

// SignedEffect is the change this movement applies to the balance.
func (m Movement) SignedEffect() generic.Minutes {
	if m.IsIncrease() {
		return m.EffectiveMinutes
	}
	return -m.EffectiveMinutes
}

// AccountingDate is the day a movement is reported under: its reference
// date when set, otherwise the day it was created.
func (m Movement) AccountingDate() generic.Date {
	if m.ReferenceDate != nil {
		return *m.ReferenceDate
	}
	return generic.DateOf(m.CreatedAt)
}

// =============================================================================
// APPEND INPUT
// =============================================================================

// AppendInput is a request to append one movement.
type AppendInput struct {
	EmployeeID     string
	Type           MovementType
	Minutes        generic.Minutes
	Multiplier     decimal.Decimal // CREDIT only; zero means 1.0
	Decrease       bool            // ADJUSTMENT only
	ReferenceDate  *generic.Date
	ExpirationDate *generic.Date // CREDIT only
	Description    string
	IdempotencyKey string
	Source         string

	// ExpirationRequired is set when the employee's schedule has bank
	// expiration enabled; a CREDIT without ExpirationDate is then rejected.
	ExpirationRequired bool
}

func (in AppendInput) validate() error {
	if in.EmployeeID == "" {
		return &generic.InvalidMovementError{Field: "employee_id", Reason: "required"}
	}
	if !in.Type.Valid() {
		return &generic.InvalidMovementError{Field: "type", Reason: "unknown movement type " + string(in.Type)}
	}
	if in.Minutes <= 0 {
		return &generic.InvalidMovementError{Field: "minutes", Reason: "must be positive"}
	}
	if in.Multiplier.IsNegative() {
		return &generic.InvalidMovementError{Field: "multiplier", Reason: "must not be negative"}
	}
	if in.Type != Credit && !in.Multiplier.IsZero() && !in.Multiplier.Equal(one) {
		return &generic.InvalidMovementError{Field: "multiplier", Reason: "only credits carry a multiplier"}
	}
	if in.Decrease && in.Type != Adjustment {
		return &generic.InvalidMovementError{Field: "decrease", Reason: "only adjustments carry a direction"}
	}
	if in.ExpirationDate != nil && in.Type != Credit {
		return &generic.InvalidMovementError{Field: "expiration_date", Reason: "only credits expire"}
	}
	if in.Type == Credit && in.ExpirationRequired && in.ExpirationDate == nil {
		return &generic.InvalidMovementError{Field: "expiration_date", Reason: "required while bank expiration is enabled"}
	}
	if in.Type == Credit && effectiveMinutes(in.Minutes, in.multiplier()) <= 0 {
		return &generic.InvalidMovementError{Field: "multiplier", Reason: "credit rounds to zero minutes"}
	}
	return nil
}

var one = decimal.NewFromInt(1)

func (in AppendInput) multiplier() decimal.Decimal {
	if in.Type != Credit || in.Multiplier.IsZero() {
		return one
	}
	return in.Multiplier
}

// effectiveMinutes is round(minutes * multiplier), half away from zero.
func effectiveMinutes(minutes generic.Minutes, multiplier decimal.Decimal) generic.Minutes {
	return generic.Minutes(decimal.NewFromInt(int64(minutes)).Mul(multiplier).Round(0).IntPart())
}

// =============================================================================
// SUMMARY
// =============================================================================

// DefaultLookaheadDays is the expiring-soon window of Summarize.
const DefaultLookaheadDays = 30

// Summary is derived from the movement history, never stored.
type Summary struct {
	EmployeeID string         `json:"employee_id"`
	Period     generic.Period `json:"period"`
	AsOf       time.Time      `json:"as_of"`

	// CurrentBalance is the global balance as of AsOf, not range-limited.
	CurrentBalance generic.Minutes `json:"current_balance"`
	TotalCredit    generic.Minutes `json:"total_credit"`
	TotalDebit     generic.Minutes `json:"total_debit"`
	TotalPaidOut   generic.Minutes `json:"total_paid_out"`
	TotalExpired   generic.Minutes `json:"total_expired"`

	LookaheadDays           int             `json:"lookahead_days"`
	ExpiringMinutes         generic.Minutes `json:"expiring_minutes"`
	NextExpiration          *generic.Date   `json:"next_expiration,omitempty"`
	DaysUntilNextExpiration *int            `json:"days_until_next_expiration,omitempty"`

	Balance  string `json:"balance"`
	Expiring string `json:"expiring"`
}
