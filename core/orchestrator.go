/*
orchestrator.go - The purchase state machine

PURPOSE:
  Drives a purchase intent through balance verification, external
  fulfillment, ledger mutation, and journaling, for both funding paths:

  Path A (balance): price -> balance check -> fulfill -> conditional
  debit (bounded retry) -> journal.

  Path B (gateway): price -> park session -> hosted payment ->
  verified callback -> fulfill -> consume session + journal. No debit.

PARTIAL-FAILURE ORDERING:
  verify funds/payment -> fulfill -> mutate ledger/journal. Fulfillment
  is the last irreversible step before any local mutation, so the only
  unsafe partial state is "delivered but not journaled". That single
  case raises an unreconciled-transaction alarm; it is never silently
  swallowed and never returned to the buyer as an ordinary error.

INVARIANTS:
  - No double-spend: debits are compare-and-swap with bounded retry.
  - No double-fulfillment: provision calls carry deterministic
    idempotency keys, and a session is consumed at most once.
  - Auditable: every terminal attempt has exactly one journal record.

SEE ALSO:
  - ledger.go: conditional debit contract
  - session.go: the CAS that defeats callback replays
*/
package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// debitAttempts bounds the conditional-debit retry loop. Three losses in
// a row on one account means real contention; surface it instead of
// spinning.
const debitAttempts = 3

// idempotencyBucket is the time window within which identical balance
// purchase requests share an idempotency key, so an immediate client
// retry cannot deliver twice.
const idempotencyBucket = 5 * time.Minute

// =============================================================================
// ALARM SINK
// =============================================================================

// AlarmSink receives the one alarm this engine can raise: a journal write
// failed after money moved and data was delivered. Implementations must
// escalate for manual reconciliation (metrics, paging), never just log.
type AlarmSink interface {
	RaiseUnreconciled(rec TransactionRecord, cause error)
}

// NopAlarms discards alarms. Test use only.
type NopAlarms struct{}

func (NopAlarms) RaiseUnreconciled(TransactionRecord, error) {}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator coordinates the ledger, journal, session store, and the
// two gateway clients. All dependencies are explicit; there is no ambient
// request identity anywhere in this package.
type Orchestrator struct {
	ledger   LedgerStore
	journal  Journal
	sessions SessionStore
	fulfill  FulfillmentClient
	payments PaymentClient
	catalog  *Catalog
	alarms   AlarmSink
	log      *zap.Logger

	// now is swappable for deterministic idempotency keys in tests.
	now func() time.Time
}

// NewOrchestrator wires the purchase engine. A nil logger is replaced
// with a no-op logger.
func NewOrchestrator(
	ledger LedgerStore,
	journal Journal,
	sessions SessionStore,
	fulfill FulfillmentClient,
	payments PaymentClient,
	catalog *Catalog,
	alarms AlarmSink,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if alarms == nil {
		alarms = NopAlarms{}
	}
	return &Orchestrator{
		ledger:   ledger,
		journal:  journal,
		sessions: sessions,
		fulfill:  fulfill,
		payments: payments,
		catalog:  catalog,
		alarms:   alarms,
		log:      log,
		now:      time.Now,
	}
}

// PurchaseResult is the outcome of a completed balance purchase.
type PurchaseResult struct {
	Record     TransactionRecord
	NewBalance decimal.Decimal
}

// =============================================================================
// PATH A - BALANCE-FUNDED PURCHASE
// =============================================================================

// ExecuteBalancePurchase funds a purchase from the prepaid balance.
//
// Order of operations matters: the balance is checked, the bundle is
// fulfilled, and only then is the balance debited. A fulfillment failure
// therefore never moves money. The debit is conditional on the balance
// read; a concurrent purchase that changed it forces a re-read and
// re-check, up to debitAttempts times.
func (o *Orchestrator) ExecuteBalancePurchase(ctx context.Context, intent PurchaseIntent) (*PurchaseResult, error) {
	price, err := o.catalog.PriceFor(intent.BundleSize)
	if err != nil {
		return nil, err
	}

	balance, err := o.ledger.Balance(ctx, intent.AccountID)
	if errors.Is(err, ErrAccountNotFound) {
		// First contact with this account: create the row at zero so the
		// buyer has somewhere to fund, then reject this purchase.
		if err := o.ledger.EnsureAccount(ctx, intent.AccountID); err != nil {
			return nil, fmt.Errorf("create ledger row: %w", err)
		}
		return nil, &InsufficientFundsError{
			AccountID: intent.AccountID,
			Required:  price,
			Available: decimal.Zero,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	if balance.LessThan(price) {
		return nil, &InsufficientFundsError{
			AccountID: intent.AccountID,
			Required:  price,
			Available: balance,
		}
	}

	// Fulfillment before debit: the provision call is the last
	// irreversible step, so nothing local has mutated if it fails.
	result, err := o.fulfill.Provision(ctx, ProvisionRequest{
		RecipientPhone: intent.RecipientPhone,
		Network:        intent.Network,
		BundleSize:     intent.BundleSize,
		IdempotencyKey: o.balanceIdempotencyKey(intent),
		Channel:        "wallet",
	})
	if err != nil {
		o.log.Warn("fulfillment failed, no debit performed",
			zap.String("account", string(intent.AccountID)),
			zap.Error(err))
		return nil, err
	}

	newBalance, err := o.debitWithRetry(ctx, intent.AccountID, balance, price)
	if err != nil {
		// Money did not move but data was delivered; journal the attempt
		// so reconciliation has something to work from.
		o.journalDebitFailure(ctx, intent, price, result.ProviderRef, err)
		return nil, err
	}

	rec := TransactionRecord{
		ID:             uuid.NewString(),
		AccountID:      intent.AccountID,
		RecipientPhone: intent.RecipientPhone,
		Network:        NetworkName(intent.Network),
		BundleSize:     intent.BundleSize,
		Amount:         price,
		Status:         TxCompleted,
		FulfillmentRef: result.ProviderRef,
		PaymentMethod:  PayFromBalance,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.journal.Append(ctx, rec); err != nil {
		// Debit done, bundle delivered, record lost. The delivery is
		// irreversible so the debit stays; escalate instead.
		o.alarms.RaiseUnreconciled(rec, err)
		o.log.Error("journal write failed after debit and delivery",
			zap.String("account", string(intent.AccountID)),
			zap.String("fulfillment_ref", result.ProviderRef),
			zap.String("amount", price.StringFixed(2)),
			zap.Error(err))
	}

	return &PurchaseResult{Record: rec, NewBalance: newBalance}, nil
}

// debitWithRetry runs the read-check-debit cycle until the CAS lands or
// attempts are exhausted. Returns the post-debit balance.
func (o *Orchestrator) debitWithRetry(ctx context.Context, id AccountID, observed, price decimal.Decimal) (decimal.Decimal, error) {
	expected := observed
	for attempt := 0; attempt < debitAttempts; attempt++ {
		err := o.ledger.ConditionalDebit(ctx, id, expected, price)
		if err == nil {
			return expected.Sub(price), nil
		}
		if !errors.Is(err, ErrDebitConflict) {
			return decimal.Zero, fmt.Errorf("debit: %w", err)
		}

		// Someone else moved the balance. Re-read and re-check before
		// trying again.
		current, rerr := o.ledger.Balance(ctx, id)
		if rerr != nil {
			return decimal.Zero, fmt.Errorf("re-read balance: %w", rerr)
		}
		if current.LessThan(price) {
			return decimal.Zero, &InsufficientFundsError{
				AccountID: id,
				Required:  price,
				Available: current,
			}
		}
		expected = current
	}
	return decimal.Zero, fmt.Errorf("debit lost %d races on account %s: %w",
		debitAttempts, id, ErrConcurrentModification)
}

// journalDebitFailure records a delivered-but-not-debited attempt and
// raises the alarm. Rare: requires fulfillment to succeed and then every
// debit attempt to fail.
func (o *Orchestrator) journalDebitFailure(ctx context.Context, intent PurchaseIntent, price decimal.Decimal, providerRef string, cause error) {
	rec := TransactionRecord{
		ID:             uuid.NewString(),
		AccountID:      intent.AccountID,
		RecipientPhone: intent.RecipientPhone,
		Network:        NetworkName(intent.Network),
		BundleSize:     intent.BundleSize,
		Amount:         price,
		Status:         TxFailed,
		FulfillmentRef: providerRef,
		PaymentMethod:  PayFromBalance,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.journal.Append(ctx, rec); err != nil {
		o.log.Error("failed to journal debit failure", zap.Error(err))
	}
	o.alarms.RaiseUnreconciled(rec, cause)
	o.log.Error("bundle delivered but debit failed",
		zap.String("account", string(intent.AccountID)),
		zap.String("fulfillment_ref", providerRef),
		zap.Error(cause))
}

// =============================================================================
// PATH B - GATEWAY-FUNDED PURCHASE
// =============================================================================

// OpenGatewaySession prices the intent, opens a hosted payment session
// with the gateway, and parks the intent snapshot for the callback.
// No balance or journal mutation happens here.
func (o *Orchestrator) OpenGatewaySession(ctx context.Context, intent PurchaseIntent) (*CheckoutSession, error) {
	price, err := o.catalog.PriceFor(intent.BundleSize)
	if err != nil {
		return nil, err
	}

	checkout, err := o.payments.CreateSession(ctx, price, intent.Email, SessionMetadata{
		AccountID:      intent.AccountID,
		RecipientPhone: intent.RecipientPhone,
		Network:        intent.Network,
		BundleSize:     intent.BundleSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open payment session: %w", err)
	}

	session := PaymentSession{
		Reference: checkout.Reference,
		AccountID: intent.AccountID,
		Intent:    intent,
		Amount:    price,
		Status:    SessionInitialized,
		CreatedAt: o.now().UTC(),
	}
	if err := o.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("park session %s: %w", checkout.Reference, err)
	}

	o.log.Info("gateway session opened",
		zap.String("reference", checkout.Reference),
		zap.String("account", string(intent.AccountID)),
		zap.String("amount", price.StringFixed(2)))
	return &checkout, nil
}

// ReconcileGatewayPayment converts a gateway completion signal into a
// fulfilled, journaled transaction. Safe to call repeatedly and
// concurrently with the same reference:
//
//   - consumed session: returns the original record (replay).
//   - initialized session: re-verifies with the gateway out-of-band; a
//     client-supplied "success" flag is never trusted.
//   - verified session: fulfillment is (re)attempted; only a successful
//     consume CAS journals the transaction.
func (o *Orchestrator) ReconcileGatewayPayment(ctx context.Context, reference string) (*TransactionRecord, error) {
	session, err := o.sessions.Session(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case SessionConsumed:
		return o.replayRecord(ctx, session)
	case SessionRejected:
		return nil, &PaymentNotConfirmedError{Reference: reference, Status: PaymentFailed}
	case SessionInitialized:
		if err := o.verifySession(ctx, &session); err != nil {
			return nil, err
		}
	case SessionVerified:
		// Prior reconciliation verified payment but fulfillment failed;
		// retry fulfillment without re-charging.
	}

	return o.fulfillAndConsume(ctx, session)
}

// verifySession asks the gateway whether the reference was actually paid
// and advances the session accordingly.
func (o *Orchestrator) verifySession(ctx context.Context, session *PaymentSession) error {
	verdict, err := o.payments.Verify(ctx, session.Reference)
	if err != nil {
		return fmt.Errorf("verify %s: %w", session.Reference, err)
	}

	switch verdict.Status {
	case PaymentSuccess:
		if verdict.Amount.LessThan(session.Amount) {
			// The gateway settled for less than the session was opened at.
			// A short settlement never buys a full bundle.
			if err := o.sessions.Transition(ctx, session.Reference, SessionInitialized, SessionRejected); err != nil && !errors.Is(err, ErrSessionConflict) {
				return err
			}
			o.log.Error("gateway settled below session amount",
				zap.String("reference", session.Reference),
				zap.String("expected", session.Amount.StringFixed(2)),
				zap.String("settled", verdict.Amount.StringFixed(2)))
			return &PaymentNotConfirmedError{Reference: session.Reference, Status: PaymentFailed}
		}

		err := o.sessions.Transition(ctx, session.Reference, SessionInitialized, SessionVerified)
		if err != nil && !errors.Is(err, ErrSessionConflict) {
			return err
		}
		// A conflict means a concurrent reconcile advanced the session
		// first; re-read and let the caller continue from there.
		if errors.Is(err, ErrSessionConflict) {
			fresh, gerr := o.sessions.Session(ctx, session.Reference)
			if gerr != nil {
				return gerr
			}
			*session = fresh
			return nil
		}
		session.Status = SessionVerified
		return nil

	case PaymentFailed:
		if err := o.sessions.Transition(ctx, session.Reference, SessionInitialized, SessionRejected); err != nil && !errors.Is(err, ErrSessionConflict) {
			return err
		}
		return &PaymentNotConfirmedError{Reference: session.Reference, Status: PaymentFailed}

	default:
		// Pending (or anything unrecognized): the money may still arrive,
		// so the session stays initialized and a later callback retries.
		return &PaymentNotConfirmedError{Reference: session.Reference, Status: verdict.Status}
	}
}

// fulfillAndConsume provisions the bundle and, on success, consumes the
// session and journals the transaction. Concurrent callers share the
// session-keyed idempotency key, so the provider delivers once no matter
// how many reconciles race here.
func (o *Orchestrator) fulfillAndConsume(ctx context.Context, session PaymentSession) (*TransactionRecord, error) {
	if session.Status == SessionConsumed {
		return o.replayRecord(ctx, session)
	}
	if session.Status == SessionRejected {
		// A concurrent reconcile rejected the session between our read and
		// here; report the terminal verdict, not a retryable pending.
		return nil, &PaymentNotConfirmedError{Reference: session.Reference, Status: PaymentFailed}
	}
	if session.Status != SessionVerified {
		return nil, &PaymentNotConfirmedError{Reference: session.Reference, Status: PaymentPending}
	}

	intent := session.Intent
	result, err := o.fulfill.Provision(ctx, ProvisionRequest{
		RecipientPhone: intent.RecipientPhone,
		Network:        intent.Network,
		BundleSize:     intent.BundleSize,
		IdempotencyKey: sessionIdempotencyKey(session.Reference),
		Channel:        "paystack",
	})
	if err != nil {
		// Session stays verified so a reconciliation retry can attempt
		// fulfillment again without re-charging the buyer.
		o.log.Warn("fulfillment failed for paid session",
			zap.String("reference", session.Reference),
			zap.Error(err))
		return nil, err
	}

	rec := TransactionRecord{
		ID:             uuid.NewString(),
		AccountID:      session.AccountID,
		RecipientPhone: intent.RecipientPhone,
		Network:        NetworkName(intent.Network),
		BundleSize:     intent.BundleSize,
		Amount:         session.Amount,
		Status:         TxCompleted,
		FulfillmentRef: result.ProviderRef,
		PaymentRef:     session.Reference,
		PaymentMethod:  PayViaGateway,
		CreatedAt:      o.now().UTC(),
	}

	if err := o.sessions.Consume(ctx, session.Reference, rec.ID); err != nil {
		if errors.Is(err, ErrSessionConflict) {
			// A concurrent reconcile consumed the session first; its
			// record is the transaction.
			fresh, gerr := o.sessions.Session(ctx, session.Reference)
			if gerr != nil {
				return nil, gerr
			}
			return o.replayRecord(ctx, fresh)
		}
		return nil, fmt.Errorf("consume session %s: %w", session.Reference, err)
	}

	if err := o.journal.Append(ctx, rec); err != nil {
		// Paid, delivered, session consumed, record lost: the alarm case.
		o.alarms.RaiseUnreconciled(rec, err)
		o.log.Error("journal write failed after gateway fulfillment",
			zap.String("reference", session.Reference),
			zap.Error(err))
	}

	o.log.Info("gateway purchase reconciled",
		zap.String("reference", session.Reference),
		zap.String("transaction", rec.ID))
	return &rec, nil
}

// replayRecord returns the record journaled when the session was
// consumed. There is a tiny window between a concurrent winner's consume
// CAS and its journal append; a handful of short waits covers it before
// giving up.
func (o *Orchestrator) replayRecord(ctx context.Context, session PaymentSession) (*TransactionRecord, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
		rec, err := o.journal.Get(ctx, session.TransactionID)
		if err == nil {
			return &rec, nil
		}
		if !errors.Is(err, ErrUnknownReference) {
			return nil, fmt.Errorf("load record for consumed session %s: %w", session.Reference, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("load record for consumed session %s: %w", session.Reference, lastErr)
}

// =============================================================================
// IDEMPOTENCY KEYS
// =============================================================================

// balanceIdempotencyKey derives a deterministic key from the intent and a
// coarse time bucket. Identical requests within the bucket share a key,
// so a client retry after an ambiguous timeout collapses provider-side.
func (o *Orchestrator) balanceIdempotencyKey(intent PurchaseIntent) string {
	bucket := o.now().Unix() / int64(idempotencyBucket.Seconds())
	raw := fmt.Sprintf("bal|%s|%s|%s|%d|%d",
		intent.AccountID, intent.RecipientPhone, intent.Network, intent.BundleSize, bucket)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// sessionIdempotencyKey keys gateway fulfillment off the session
// reference: one paid session, one delivery, regardless of how many
// callbacks the gateway fires.
func sessionIdempotencyKey(reference string) string {
	sum := sha256.Sum256([]byte("ps|" + reference))
	return hex.EncodeToString(sum[:])
}
