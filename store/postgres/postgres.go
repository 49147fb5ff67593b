/*
Package postgres implements overtime.Store on PostgreSQL through a pgx
connection pool.

Only the movement ledger lives here. Schedules, punches and calendars stay in
the sqlite store; a deployment that needs a shared ledger across several API
instances points DB_DRIVER=postgres at this store.

SCHEMA:
  overtime_movements mirrors the sqlite movements table. The
  (employee_id, sequence) unique index rejects two writers racing on the same
  chain position; the idempotency_key unique index rejects replays.

SEE ALSO:
  - overtime/store.go: Interface definition
  - store/sqlite: Default implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/overtime"
)

const uniqueViolation = "23505"

// Store implements overtime.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, pings the server and creates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS overtime_movements (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		sequence BIGINT NOT NULL,
		movement_type TEXT NOT NULL,
		minutes INTEGER NOT NULL,
		multiplier TEXT NOT NULL,
		effective_minutes INTEGER NOT NULL,
		decrease BOOLEAN NOT NULL DEFAULT FALSE,
		reference_date DATE,
		expiration_date DATE,
		source_credit_id TEXT,
		balance_after INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		source TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_overtime_movements_employee_sequence
		ON overtime_movements(employee_id, sequence);
	`)
	return err
}

// AppendBatch adds movements in one transaction.
func (s *Store) AppendBatch(ctx context.Context, movements []overtime.Movement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO overtime_movements
		(id, employee_id, sequence, movement_type, minutes, multiplier, effective_minutes, decrease,
		 reference_date, expiration_date, source_credit_id, balance_after, description,
		 idempotency_key, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	for _, m := range movements {
		_, err := tx.Exec(ctx, query,
			m.ID,
			m.EmployeeID,
			m.Sequence,
			string(m.Type),
			int(m.Minutes),
			m.Multiplier.String(),
			int(m.EffectiveMinutes),
			m.Decrease,
			dateArg(m.ReferenceDate),
			dateArg(m.ExpirationDate),
			textArg(m.SourceCreditID),
			int(m.BalanceAfter),
			m.Description,
			textArg(m.IdempotencyKey),
			m.Source,
			m.CreatedAt.UTC(),
		)
		if err != nil {
			if isIdempotencyViolation(err) {
				return generic.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("failed to append movement: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Load returns every movement of an employee by sequence.
func (s *Store) Load(ctx context.Context, employeeID string) ([]overtime.Movement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, employee_id, sequence, movement_type, minutes, multiplier, effective_minutes, decrease,
		       reference_date, expiration_date, source_credit_id, balance_after, description,
		       idempotency_key, source, created_at
		FROM overtime_movements
		WHERE employee_id = $1
		ORDER BY sequence ASC`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []overtime.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func scanMovement(rows pgx.Rows) (overtime.Movement, error) {
	var (
		m              overtime.Movement
		movementType   string
		minutes        int
		multiplier     string
		effective      int
		balanceAfter   int
		referenceDate  *time.Time
		expirationDate *time.Time
		sourceCreditID *string
		idempotencyKey *string
	)
	err := rows.Scan(
		&m.ID, &m.EmployeeID, &m.Sequence, &movementType, &minutes, &multiplier, &effective, &m.Decrease,
		&referenceDate, &expirationDate, &sourceCreditID, &balanceAfter, &m.Description,
		&idempotencyKey, &m.Source, &m.CreatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("failed to scan movement: %w", err)
	}

	m.Type = overtime.MovementType(movementType)
	m.Minutes = generic.Minutes(minutes)
	m.EffectiveMinutes = generic.Minutes(effective)
	m.BalanceAfter = generic.Minutes(balanceAfter)
	if m.Multiplier, err = decimal.NewFromString(multiplier); err != nil {
		return m, fmt.Errorf("movement %s: bad multiplier %q: %w", m.ID, multiplier, err)
	}
	m.ReferenceDate = dateOf(referenceDate)
	m.ExpirationDate = dateOf(expirationDate)
	if sourceCreditID != nil {
		m.SourceCreditID = *sourceCreditID
	}
	if idempotencyKey != nil {
		m.IdempotencyKey = *idempotencyKey
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM overtime_movements WHERE idempotency_key = $1)",
		idempotencyKey,
	).Scan(&exists)
	return exists, err
}

// Employees lists every employee with movements.
func (s *Store) Employees(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT employee_id FROM overtime_movements ORDER BY employee_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Helper functions

func dateArg(d *generic.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.In(time.UTC)
	return &t
}

func dateOf(t *time.Time) *generic.Date {
	if t == nil {
		return nil
	}
	d := generic.DateOf(*t)
	return &d
}

func textArg(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isIdempotencyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation &&
		pgErr.ConstraintName == "overtime_movements_idempotency_key_key"
}
