/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Default persistence of the engine. One Store implements:
    overtime.Store:            Append-only movement ledger
    timesheet.ScheduleSource:  Schedule definitions + employee assignments
    timesheet.EventSource:     Clock events handed over by capture devices
    timesheet.PostingStore:    What each employee-day already sent to the bank
    generic.HolidayCalendar:   Company holidays (via Calendar)
    generic.AbsenceProvider:   Approved absences

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the movements table
  - No DELETE statements on the movements table
  - Corrections are ADJUSTMENT movements

KEY TABLES:
  movements:          Immutable overtime ledger, unique (employee_id, sequence)
  schedules:          Schedule definitions (JSON, parsed by factory)
  employee_schedules: Employee -> schedule assignment
  clock_events:       Raw punches
  day_postings:       Posted overtime/deficit per employee-day
  holidays, absences: Calendar inputs
  sweep_runs:         Audit of scheduler runs

WAL MODE:
  Opened with WAL for concurrent readers and a single writer.

USAGE:
  store, err := sqlite.New("./data/worktime.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := overtime.NewLedger(store)

SEE ALSO:
  - overtime/store.go: Interface definition
  - store/memory: In-memory implementation for tests
  - store/postgres: PostgreSQL movement store
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/overtime"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Overtime movements (append-only ledger)
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		movement_type TEXT NOT NULL,
		minutes INTEGER NOT NULL,
		multiplier TEXT NOT NULL,
		effective_minutes INTEGER NOT NULL,
		decrease BOOLEAN NOT NULL DEFAULT FALSE,
		reference_date TEXT,
		expiration_date TEXT,
		source_credit_id TEXT,
		balance_after INTEGER NOT NULL,
		description TEXT,
		idempotency_key TEXT UNIQUE,
		source TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one movement per position in an employee's chain
	CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_employee_sequence
		ON movements(employee_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_movements_reference_date
		ON movements(employee_id, reference_date);

	-- Schedules
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employee_schedules (
		employee_id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL REFERENCES schedules(id),
		company_id TEXT NOT NULL DEFAULT '',
		assigned_at TEXT NOT NULL
	);

	-- Clock events
	CREATE TABLE IF NOT EXISTS clock_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id TEXT NOT NULL,
		at TEXT NOT NULL,
		kind TEXT NOT NULL,
		pending BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		UNIQUE(employee_id, at, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_clock_events_employee_at
		ON clock_events(employee_id, at);

	-- Day postings
	CREATE TABLE IF NOT EXISTS day_postings (
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		overtime_minutes INTEGER NOT NULL,
		deficit_minutes INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		posted_at TEXT NOT NULL,
		PRIMARY KEY(employee_id, date)
	);

	-- Holidays
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL,
		UNIQUE(company_id, date, name)
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_company_date
		ON holidays(company_id, date);

	-- Absences
	CREATE TABLE IF NOT EXISTS absences (
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		absence_type TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY(employee_id, date)
	);

	-- Scheduler runs
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		run_date TEXT NOT NULL,
		status TEXT NOT NULL,
		employees INTEGER DEFAULT 0,
		expirations INTEGER DEFAULT 0,
		expired_minutes INTEGER DEFAULT 0,
		posted_days INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// MOVEMENT STORE (overtime.Store)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) appendMovement(ctx context.Context, db execer, m overtime.Movement) error {
	query := `
		INSERT INTO movements
		(id, employee_id, sequence, movement_type, minutes, multiplier, effective_minutes, decrease,
		 reference_date, expiration_date, source_credit_id, balance_after, description,
		 idempotency_key, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		m.ID,
		m.EmployeeID,
		m.Sequence,
		string(m.Type),
		int(m.Minutes),
		m.Multiplier.String(),
		int(m.EffectiveMinutes),
		m.Decrease,
		nullDate(m.ReferenceDate),
		nullDate(m.ExpirationDate),
		nullString(m.SourceCreditID),
		int(m.BalanceAfter),
		m.Description,
		nullString(m.IdempotencyKey),
		m.Source,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

// AppendBatch adds movements atomically.
func (s *Store) AppendBatch(ctx context.Context, movements []overtime.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[string]bool)
	for _, m := range movements {
		if m.IdempotencyKey != "" {
			if keys[m.IdempotencyKey] {
				return generic.ErrDuplicateIdempotencyKey
			}
			keys[m.IdempotencyKey] = true
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range movements {
		if err := s.appendMovement(ctx, tx, m); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Load returns every movement of an employee by sequence.
func (s *Store) Load(ctx context.Context, employeeID string) ([]overtime.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, employee_id, sequence, movement_type, minutes, multiplier, effective_minutes, decrease,
		       reference_date, expiration_date, source_credit_id, balance_after, description,
		       idempotency_key, source, created_at
		FROM movements
		WHERE employee_id = ?
		ORDER BY sequence ASC
	`

	rows, err := s.db.QueryContext(ctx, query, employeeID)
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

func scanMovement(rows *sql.Rows) (overtime.Movement, error) {
	var (
		m              overtime.Movement
		movementType   string
		minutes        int
		multiplier     string
		effective      int
		balanceAfter   int
		referenceDate  sql.NullString
		expirationDate sql.NullString
		sourceCreditID sql.NullString
		description    sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&m.ID, &m.EmployeeID, &m.Sequence, &movementType, &minutes, &multiplier, &effective, &m.Decrease,
		&referenceDate, &expirationDate, &sourceCreditID, &balanceAfter, &description,
		&idempotencyKey, &m.Source, &createdAt,
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
	if m.ReferenceDate, err = parseNullDate(referenceDate); err != nil {
		return m, err
	}
	if m.ExpirationDate, err = parseNullDate(expirationDate); err != nil {
		return m, err
	}
	m.SourceCreditID = sourceCreditID.String
	m.Description = description.String
	m.IdempotencyKey = idempotencyKey.String
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return m, fmt.Errorf("movement %s: bad created_at: %w", m.ID, err)
	}
	return m, nil
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM movements WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

// Employees lists every employee with movements.
func (s *Store) Employees(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryStrings(ctx, "SELECT DISTINCT employee_id FROM movements ORDER BY employee_id")
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(ns sql.NullString) (*generic.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
