/*
journal.go - Append-only transaction journal contract

PURPOSE:
  The journal is the audit trail of purchase attempts. Records are
  written once, at the terminal point of an attempt, and never updated
  or deleted. There is no Update method on this interface and there
  never will be.

THE ONE DANGEROUS WINDOW:
  On the balance path the journal write happens after the debit and the
  fulfillment. If it fails there, money moved and data was delivered but
  no record exists. The orchestrator does NOT roll back (the delivery is
  irreversible); it raises an unreconciled-transaction alarm instead.
  See orchestrator.go.
*/
package core

import "context"

// Journal is the append-only record of terminal purchase attempts.
type Journal interface {
	// Append persists a record. Returns ErrDuplicateTransaction if the
	// record ID already exists.
	Append(ctx context.Context, rec TransactionRecord) error

	// Get returns a record by ID. ErrUnknownReference if absent.
	Get(ctx context.Context, id string) (TransactionRecord, error)

	// ByAccount returns an account's records, newest first, capped at limit.
	ByAccount(ctx context.Context, id AccountID, limit int) ([]TransactionRecord, error)

	// All returns every record, newest first. Admin read.
	All(ctx context.Context) ([]TransactionRecord, error)
}
