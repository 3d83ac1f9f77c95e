/*
Package core provides the purchase orchestration engine.

PURPOSE:
  This package contains the domain types and algorithms for selling
  fixed-size mobile-data bundles: purchase intents, the prepaid ledger,
  the transaction journal, payment sessions, and the orchestrator that
  drives a payment through verification, fulfillment, and journaling.

KEY CONCEPTS IN THIS FILE (types.go):
  - PurchaseIntent: ephemeral input describing what a buyer wants
  - TransactionRecord: immutable journal entry for a terminal attempt
  - PaymentSession: tracks a gateway-funded purchase across the redirect
  - Network/BundleSize: the SKU coordinates of a bundle

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money, never float64
  2. Explicit identity: every operation takes an AccountID parameter,
     nothing is read from ambient request state
  3. Immutability: TransactionRecords are written once, never updated
  4. Idempotency: fulfillment calls carry deterministic keys so retries
     collapse into one provider-side effect

SEE ALSO:
  - catalog.go: authoritative prices and network names
  - orchestrator.go: the purchase state machine
  - ledger.go, journal.go, session.go: persistence contracts
*/
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS & ENUMS
// =============================================================================

// AccountID identifies a buyer's prepaid account.
type AccountID string

// Network is the provider-facing network code, as submitted by clients.
type Network string

const (
	NetworkYello     Network = "YELLO"
	NetworkTelecel   Network = "TELECEL"
	NetworkATPremium Network = "AT_PREMIUM"
)

// BundleSize is the bundle capacity in gigabytes. Only catalog sizes
// (1, 2, 5, 10) are sellable; everything else is rejected up front.
type BundleSize int

// PaymentMode selects which path funds a purchase.
type PaymentMode string

const (
	PayFromBalance PaymentMode = "balance"
	PayViaGateway  PaymentMode = "gateway"
)

// TxStatus is the terminal status of a journaled purchase attempt.
type TxStatus string

const (
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxPending   TxStatus = "pending"
)

// SessionStatus is the state of a gateway payment session.
//
// Transitions are strictly monotonic:
//
//	initialized -[verify ok]->   verified
//	initialized -[verify fail]-> rejected   (terminal)
//	verified    -[fulfill ok]->  consumed   (terminal)
//	verified    -[fulfill fail]> verified   (self-loop, retryable)
//
// consumed is reached at most once per reference; that single transition
// is what makes replayed gateway callbacks harmless.
type SessionStatus string

const (
	SessionInitialized SessionStatus = "initialized"
	SessionVerified    SessionStatus = "verified"
	SessionConsumed    SessionStatus = "consumed"
	SessionRejected    SessionStatus = "rejected"
)

// =============================================================================
// PURCHASE INTENT - Ephemeral input, consumed once
// =============================================================================

// PurchaseIntent describes a single bundle purchase. It is created by the
// caller and consumed once by the orchestrator; it is never persisted as-is
// (gateway sessions keep a snapshot of it instead).
//
// The intent deliberately carries no price. The authoritative price is
// resolved from the catalog at processing time; client-supplied prices are
// never trusted.
type PurchaseIntent struct {
	AccountID      AccountID
	RecipientPhone string
	Network        Network
	BundleSize     BundleSize

	// Email is required for gateway-funded purchases (the payment
	// gateway addresses its hosted page to it). Unused on the balance path.
	Email string
}

// =============================================================================
// TRANSACTION RECORD - Durable, immutable journal entry
// =============================================================================

// TransactionRecord is the durable output of a terminal purchase attempt.
// Written exactly once, never modified.
type TransactionRecord struct {
	ID             string
	AccountID      AccountID
	RecipientPhone string
	Network        string // display name (e.g. "MTN"), not the wire code
	BundleSize     BundleSize
	Amount         decimal.Decimal
	Status         TxStatus
	FulfillmentRef string // provider's reference for the delivery
	PaymentRef     string // gateway reference; empty on the balance path
	PaymentMethod  PaymentMode
	CreatedAt      time.Time
}

// =============================================================================
// PAYMENT SESSION - Gateway purchase parked across the redirect
// =============================================================================

// PaymentSession tracks a gateway-funded purchase between session creation
// and the verified callback. The intent snapshot is what gets fulfilled;
// nothing from the callback payload is trusted beyond the reference.
type PaymentSession struct {
	Reference string
	AccountID AccountID
	Intent    PurchaseIntent
	Amount    decimal.Decimal
	Status    SessionStatus

	// TransactionID is set atomically when the session is consumed, so a
	// replayed callback can return the original record.
	TransactionID string

	CreatedAt time.Time
}
