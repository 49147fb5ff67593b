/*
store.go - Persistence interface for overtime movements

APPEND-ONLY CONTRACT:
  - AppendBatch(): Atomic multi-movement write (a sweep plus the movement
    that triggered it land together or not at all)
  - NO Update() or Delete() methods exist. Corrections are ADJUSTMENTs.

IDEMPOTENCY:
  A movement may carry an idempotency key. If the key already exists the
  whole batch is rejected with generic.ErrDuplicateIdempotencyKey.

ORDERING:
  Load returns an employee's movements by ascending Sequence. The Ledger
  assigns sequences while holding the employee lock, so the store never
  has to arbitrate ordering.

IMPLEMENTATIONS:
  - store/memory:   In-memory, for tests and dev
  - store/sqlite:   Default (mattn/go-sqlite3)
  - store/postgres: pgx connection pool
*/
package overtime

import "context"

// Store persists overtime movements.
type Store interface {
	// AppendBatch persists movements atomically.
	AppendBatch(ctx context.Context, movements []Movement) error

	// Load returns every movement of an employee, ordered by Sequence.
	Load(ctx context.Context, employeeID string) ([]Movement, error)

	// Exists checks whether an idempotency key was already used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// Employees lists every employee with at least one movement.
	Employees(ctx context.Context) ([]string, error)
}
