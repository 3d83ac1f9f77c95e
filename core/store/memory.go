// Package store provides in-memory implementations of the core
// persistence contracts, for tests and local development.
package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kasa/datavend/core"
)

// =============================================================================
// MEMORY STORE - Ledger, journal, and session store in one
// =============================================================================

// Memory implements core.LedgerStore, core.Journal, and core.SessionStore.
// All compare-and-swap semantics hold under the mutex exactly as the
// sqlite store holds them under RowsAffected checks.
type Memory struct {
	mu       sync.RWMutex
	balances map[core.AccountID]decimal.Decimal
	records  []core.TransactionRecord
	byID     map[string]core.TransactionRecord
	sessions map[string]core.PaymentSession
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[core.AccountID]decimal.Decimal),
		byID:     make(map[string]core.TransactionRecord),
		sessions: make(map[string]core.PaymentSession),
	}
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) Balance(_ context.Context, id core.AccountID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, ok := m.balances[id]
	if !ok {
		return decimal.Zero, core.ErrAccountNotFound
	}
	return balance, nil
}

func (m *Memory) EnsureAccount(_ context.Context, id core.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.balances[id]; !ok {
		m.balances[id] = decimal.Zero
	}
	return nil
}

func (m *Memory) ConditionalDebit(_ context.Context, id core.AccountID, expected, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.balances[id]
	if !ok {
		return core.ErrAccountNotFound
	}
	if !current.Equal(expected) {
		return core.ErrDebitConflict
	}
	next := current.Sub(amount)
	if next.IsNegative() {
		// The CAS already guards this (the caller checked expected >=
		// amount), but the invariant is cheap to enforce here too.
		return core.ErrDebitConflict
	}
	m.balances[id] = next
	return nil
}

func (m *Memory) Deposit(_ context.Context, id core.AccountID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[id] = m.balances[id].Add(amount)
	return nil
}

// =============================================================================
// JOURNAL
// =============================================================================

func (m *Memory) Append(_ context.Context, rec core.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[rec.ID]; ok {
		return core.ErrDuplicateTransaction
	}
	m.byID[rec.ID] = rec
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (core.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return core.TransactionRecord{}, core.ErrUnknownReference
	}
	return rec, nil
}

func (m *Memory) ByAccount(_ context.Context, id core.AccountID, limit int) ([]core.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.TransactionRecord
	// Newest first: records are appended chronologically.
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].AccountID != id {
			continue
		}
		out = append(out, m.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) All(_ context.Context) ([]core.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.TransactionRecord, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

// =============================================================================
// SESSION STORE
// =============================================================================

func (m *Memory) Create(_ context.Context, s core.PaymentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.Reference]; ok {
		return core.ErrSessionConflict
	}
	m.sessions[s.Reference] = s
	return nil
}

func (m *Memory) Session(_ context.Context, reference string) (core.PaymentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[reference]
	if !ok {
		return core.PaymentSession{}, core.ErrUnknownReference
	}
	return s, nil
}

func (m *Memory) Transition(_ context.Context, reference string, from, to core.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[reference]
	if !ok {
		return core.ErrUnknownReference
	}
	if s.Status != from {
		return core.ErrSessionConflict
	}
	s.Status = to
	m.sessions[reference] = s
	return nil
}

func (m *Memory) Consume(_ context.Context, reference string, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[reference]
	if !ok {
		return core.ErrUnknownReference
	}
	if s.Status != core.SessionVerified {
		return core.ErrSessionConflict
	}
	s.Status = core.SessionConsumed
	s.TransactionID = transactionID
	m.sessions[reference] = s
	return nil
}
