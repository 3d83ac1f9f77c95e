/*
session.go - Payment session store contract

PURPOSE:
  Gateway-funded purchases are parked as sessions while the buyer is off
  at the hosted payment page. The session store is where double-fulfillment
  is prevented: every status change goes through an atomic compare-and-swap
  on the stored status, never a read-then-write pair.

WHY CAS AND NOT A LOCK:
  Gateway callbacks arrive concurrently and repeatedly for the same
  reference (the gateway retries on network errors). Two handlers may both
  see a verified session and both attempt to consume it; exactly one CAS
  wins and journals the transaction, the other re-reads and returns the
  winner's record.
*/
package core

import "context"

// SessionStore persists payment sessions.
type SessionStore interface {
	// Create stores a new session in SessionInitialized state.
	Create(ctx context.Context, s PaymentSession) error

	// Session returns the session for a gateway reference.
	// ErrUnknownReference if absent.
	Session(ctx context.Context, reference string) (PaymentSession, error)

	// Transition moves the session from one status to another atomically.
	// Returns ErrSessionConflict if the stored status is not `from`.
	Transition(ctx context.Context, reference string, from, to SessionStatus) error

	// Consume atomically moves a verified session to consumed and records
	// the journal transaction ID on it. Returns ErrSessionConflict if the
	// session is not in SessionVerified state. At most one Consume per
	// reference can ever succeed.
	Consume(ctx context.Context, reference string, transactionID string) error
}
