/*
gateway.go - External collaborator contracts

PURPOSE:
  Narrow interfaces for the two external services the orchestrator talks
  to: the fulfillment provider (delivers the bundle) and the payment
  gateway (collects the money for gateway-funded purchases). The
  orchestrator depends only on these contracts; the HTTP clients live in
  the datamart and paystack packages.

IDEMPOTENCY:
  Every provision call carries an idempotency key, including retries.
  A retried request the provider already fulfilled returns the original
  result instead of delivering twice. This is the only safe answer to an
  ambiguous timeout: retry the SAME key, never re-provision under a
  fresh one.
*/
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FULFILLMENT
// =============================================================================

// ProvisionRequest instructs the provider to deliver a bundle.
type ProvisionRequest struct {
	RecipientPhone string
	Network        Network
	BundleSize     BundleSize

	// IdempotencyKey must be passed through to the provider on every
	// call, including retries.
	IdempotencyKey string

	// Channel tells the provider how the purchase was funded
	// ("wallet" or "paystack"); informational only.
	Channel string
}

// ProvisionResult is the provider's acknowledgement of a delivery.
type ProvisionResult struct {
	ProviderRef string
}

// FulfillmentClient provisions bundles through the external API.
// Errors wrap ErrFulfillmentFailed; a timeout is a failure.
type FulfillmentClient interface {
	Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error)
}

// =============================================================================
// PAYMENT GATEWAY
// =============================================================================

// PaymentStatus is the gateway's verdict on a payment reference.
type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
	PaymentPending PaymentStatus = "pending"
)

// SessionMetadata travels with the hosted-payment session. It is echoed
// back by the gateway but is NEVER trusted for settlement; the verified
// session snapshot is authoritative.
type SessionMetadata struct {
	AccountID      AccountID  `json:"accountId"`
	RecipientPhone string     `json:"phoneNumber"`
	Network        Network    `json:"network"`
	BundleSize     BundleSize `json:"dataSize"`
}

// CheckoutSession is the gateway's handle on a new hosted payment.
type CheckoutSession struct {
	Reference   string
	RedirectURL string
}

// VerifyResult is the gateway's authoritative answer at reconciliation
// time, re-fetched from its verify endpoint. Amount is in major units.
type VerifyResult struct {
	Status PaymentStatus
	Amount decimal.Decimal
}

// PaymentClient opens hosted payment sessions and verifies completed
// payments by reference.
type PaymentClient interface {
	CreateSession(ctx context.Context, amount decimal.Decimal, email string, meta SessionMetadata) (CheckoutSession, error)
	Verify(ctx context.Context, reference string) (VerifyResult, error)
}
