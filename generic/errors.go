/*
errors.go - Centralized error types for the work-time engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Ledger errors - Movement validation and persistence failures (hard)
  2. Schedule errors - Malformed schedule configuration
  3. Lookup errors - Missing employees, schedules

  Reconciliation never returns errors: malformed clock data degrades to a
  flagged DailySummary instead.

USAGE:
    if errors.Is(err, generic.ErrInvalidMovement) {
        // 400
    }

SEE ALSO:
  - overtime/ledger.go: Returns InvalidMovementError
  - schedule/schedule.go: Returns InvalidScheduleError
  - api/handlers.go: Maps errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidMovement is returned when a ledger append violates a structural
	// rule. Nothing is written when this is returned.
	ErrInvalidMovement = errors.New("invalid movement")

	// ErrDuplicateIdempotencyKey is returned when a movement with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrBrokenBalanceChain is returned when replaying a movement history finds
	// a balanceAfter that does not follow from its predecessor.
	ErrBrokenBalanceChain = errors.New("broken balance chain")

	// ErrInvalidSchedule is returned when a schedule definition is malformed.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrScheduleNotFound is returned when a referenced schedule doesn't exist.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrEmployeeNotFound is returned when an employee has no schedule assignment.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidMovementError names the offending field.
type InvalidMovementError struct {
	Field  string
	Reason string
}

func (e *InvalidMovementError) Error() string {
	return fmt.Sprintf("invalid movement: %s: %s", e.Field, e.Reason)
}

func (e *InvalidMovementError) Unwrap() error {
	return ErrInvalidMovement
}

// InvalidScheduleError lists every problem found while validating a schedule.
type InvalidScheduleError struct {
	ScheduleID string
	Problems   []string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %s", e.ScheduleID, strings.Join(e.Problems, "; "))
}

func (e *InvalidScheduleError) Unwrap() error {
	return ErrInvalidSchedule
}

// BrokenChainError points at the first movement whose balanceAfter is wrong.
type BrokenChainError struct {
	MovementID string
	Sequence   int64
	Expected   Minutes
	Recorded   Minutes
}

func (e *BrokenChainError) Error() string {
	return fmt.Sprintf("balance chain broken at movement %s (seq %d): expected %s, recorded %s",
		e.MovementID, e.Sequence, e.Expected, e.Recorded)
}

func (e *BrokenChainError) Unwrap() error {
	return ErrBrokenBalanceChain
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidMovement) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsConflict returns true if the request repeats an already applied operation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrEmployeeNotFound)
}
