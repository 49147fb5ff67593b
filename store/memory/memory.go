// Package memory provides an in-memory overtime.Store (for tests and dev).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/overtime"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	movements   map[string][]overtime.Movement
	idempotency map[string]bool
}

func New() *Memory {
	return &Memory{
		movements:   make(map[string][]overtime.Movement),
		idempotency: make(map[string]bool),
	}
}

// AppendBatch adds movements atomically.
func (m *Memory) AppendBatch(_ context.Context, batch []overtime.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool, len(batch))
	for _, mv := range batch {
		if mv.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[mv.IdempotencyKey] || seen[mv.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[mv.IdempotencyKey] = true
	}

	for _, mv := range batch {
		m.appendLocked(mv)
	}
	return nil
}

func (m *Memory) appendLocked(mv overtime.Movement) {
	list := m.movements[mv.EmployeeID]

	i := sort.Search(len(list), func(i int) bool {
		return list[i].Sequence > mv.Sequence
	})
	list = append(list, overtime.Movement{})
	copy(list[i+1:], list[i:])
	list[i] = mv
	m.movements[mv.EmployeeID] = list

	if mv.IdempotencyKey != "" {
		m.idempotency[mv.IdempotencyKey] = true
	}
}

func (m *Memory) Load(_ context.Context, employeeID string) ([]overtime.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]overtime.Movement, len(m.movements[employeeID]))
	copy(result, m.movements[employeeID])
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) Employees(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.movements))
	for id := range m.movements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Tamper overwrites the recorded balance of one movement. It exists so
// integrity checks can be exercised; the Store interface has no update.
func (m *Memory) Tamper(employeeID string, sequence int64, balanceAfter generic.Minutes) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, mv := range m.movements[employeeID] {
		if mv.Sequence == sequence {
			m.movements[employeeID][i].BalanceAfter = balanceAfter
			return true
		}
	}
	return false
}
