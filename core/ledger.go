/*
ledger.go - Prepaid balance store contract

PURPOSE:
  Defines the interface between the orchestrator and the durable balance
  store. The only mutation offered for purchases is a CONDITIONAL debit:
  the store decrements the balance only if it still equals the value the
  caller read. A blind "set new balance" write is deliberately absent -
  it is a lost-update hazard under concurrent purchases from the same
  account and must not exist at this boundary.

CONCURRENCY:
  Two purchases racing on the same account both read the same balance;
  only one conditional debit can succeed. The loser gets ErrDebitConflict
  and the orchestrator re-reads and retries a bounded number of times.

IMPLEMENTATIONS:
  - store/sqlite: UPDATE ... WHERE user_id=? AND balance=? (RowsAffected)
  - core/store: in-memory compare-and-swap under a mutex (tests/dev)
*/
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// LedgerStore is the durable per-account balance.
//
// INVARIANT: balances never go negative. ConditionalDebit enforces this
// on top of its compare-and-swap check.
type LedgerStore interface {
	// Balance returns the current balance. ErrAccountNotFound if the
	// account has no ledger row.
	Balance(ctx context.Context, id AccountID) (decimal.Decimal, error)

	// EnsureAccount creates a zero-balance row if none exists. No-op for
	// existing accounts.
	EnsureAccount(ctx context.Context, id AccountID) error

	// ConditionalDebit decrements the balance by amount only if the
	// stored balance still equals expected. Returns ErrDebitConflict if
	// the balance changed since the caller read it.
	ConditionalDebit(ctx context.Context, id AccountID, expected, amount decimal.Decimal) error

	// Deposit credits an account. Used by the wallet-funding collaborator
	// and by seeding; purchases never call it.
	Deposit(ctx context.Context, id AccountID, amount decimal.Decimal) error
}
