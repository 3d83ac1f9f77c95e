/*
errors.go - Centralized error types for the purchase engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these to stable machine-readable kinds; raw
  provider error bodies are never passed through uninterpreted.

ERROR CATEGORIES:
  1. Input errors      - InvalidBundle (no retry)
  2. Funding errors    - InsufficientFunds, PaymentNotConfirmed (user-actionable)
  3. Transient errors  - ConcurrentModification, DebitConflict (retryable)
  4. External errors   - FulfillmentFailed (provider rejected or errored)
  5. Internal alarms   - UnreconciledTransaction (never returned to callers)

USAGE:
  if errors.Is(err, core.ErrInsufficientFunds) {
      var ife *core.InsufficientFundsError
      errors.As(err, &ife) // required vs. available amounts
  }
*/
package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidBundle is returned when the requested size is not in the
	// catalog. Bad input; retrying the same request cannot succeed.
	ErrInvalidBundle = errors.New("invalid bundle size")

	// ErrInsufficientFunds is returned when the account balance cannot
	// cover the bundle price. No state is mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrentModification is returned when the conditional-debit
	// retry loop exhausts its attempts. Transient; the caller may retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDebitConflict is returned by a ledger store when the expected
	// balance no longer holds. The orchestrator retries internally; this
	// sentinel should not normally escape to callers.
	ErrDebitConflict = errors.New("balance changed since read")

	// ErrFulfillmentFailed is returned when the provisioning provider
	// rejected or errored. No money moves on the balance path; the session
	// is not consumed on the gateway path.
	ErrFulfillmentFailed = errors.New("fulfillment failed")

	// ErrPaymentNotConfirmed is returned when the gateway does not report
	// the payment as successful at verification time.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")

	// ErrUnknownReference is returned when a callback names a payment
	// session this system never opened.
	ErrUnknownReference = errors.New("unknown payment reference")

	// ErrSessionConflict is returned by a session store when a state
	// transition's expected status no longer holds. Expected under
	// concurrent callback replays; callers re-read and proceed.
	ErrSessionConflict = errors.New("session state changed since read")

	// ErrAccountNotFound is returned when an account has no ledger row.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateTransaction is returned when appending a journal record
	// whose ID already exists.
	ErrDuplicateTransaction = errors.New("duplicate transaction record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports the shortfall so callers can tell the
// buyer exactly how much funding is missing.
type InsufficientFundsError struct {
	AccountID AccountID
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// FulfillmentError carries the provider's interpreted failure reason.
// The reason is a human-readable message extracted from the provider
// response, never the raw response body.
type FulfillmentError struct {
	Reason string
}

func (e *FulfillmentError) Error() string {
	if e.Reason == "" {
		return "fulfillment failed"
	}
	return fmt.Sprintf("fulfillment failed: %s", e.Reason)
}

func (e *FulfillmentError) Unwrap() error {
	return ErrFulfillmentFailed
}

// PaymentNotConfirmedError reports what the gateway actually said.
type PaymentNotConfirmedError struct {
	Reference string
	Status    PaymentStatus
}

func (e *PaymentNotConfirmedError) Error() string {
	return fmt.Sprintf("payment %s not confirmed: gateway reports %q", e.Reference, e.Status)
}

func (e *PaymentNotConfirmedError) Unwrap() error {
	return ErrPaymentNotConfirmed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDebitConflict) ||
		errors.Is(err, ErrSessionConflict)
}

// IsClientError returns true if the error is due to invalid or
// user-actionable input rather than a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidBundle) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrPaymentNotConfirmed)
}
