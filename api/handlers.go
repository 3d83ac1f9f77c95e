/*
handlers.go - HTTP handlers for the bundle vending API

PURPOSE:
  Exposes the purchase engine via REST. Handles HTTP request/response,
  JSON serialization, and delegates to the orchestrator. No business
  rules live here.

ENDPOINTS:
  POST /api/purchase                      Balance-funded purchase
  POST /api/payment-session               Open gateway payment session
  POST /api/payment-callback              Reconcile gateway payment
  GET  /api/accounts/{id}/balance         Display-only wallet read
  GET  /api/accounts/{id}/transactions    Per-account history
  GET  /api/transactions                  Admin list
  GET  /api/packages                      Provider package listing proxy
  GET  /api/pricing                       Current catalog
  PUT  /api/pricing                       Replace catalog prices

ERROR HANDLING:
  Domain errors map to stable kinds and statuses:
  - 400 invalid_bundle, payment_not_confirmed, bad_request
  - 402 insufficient_funds
  - 404 unknown_reference
  - 409 concurrent_modification
  - 502 fulfillment_failed
  - 500 internal

IDENTITY:
  Every operation takes an explicit account ID from the request. There
  is no session or ambient user anywhere in this service; authentication
  is the fronting collaborator's job.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kasa/datavend/core"
	"github.com/kasa/datavend/metrics"
)

// PackageLister is the slice of the fulfillment client the packages
// proxy needs.
type PackageLister interface {
	Packages(ctx context.Context) (json.RawMessage, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Orchestrator *core.Orchestrator
	Ledger       core.LedgerStore
	Journal      core.Journal
	Catalog      *core.Catalog
	Packages     PackageLister
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

// NewHandler creates a handler. Log may be nil.
func NewHandler(orc *core.Orchestrator, ledger core.LedgerStore, journal core.Journal, catalog *core.Catalog, packages PackageLister, m *metrics.Metrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Orchestrator: orc,
		Ledger:       ledger,
		Journal:      journal,
		Catalog:      catalog,
		Packages:     packages,
		Metrics:      m,
		Log:          log,
	}
}

// =============================================================================
// PURCHASE ENDPOINTS
// =============================================================================

// Purchase executes a balance-funded purchase.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err)
		return
	}
	if req.AccountID == "" || req.PhoneNumber == "" || req.Network == "" || req.DataSize == 0 {
		writeError(w, http.StatusBadRequest, "bad_request",
			"missing required fields: accountId, phoneNumber, network, dataSize", nil)
		return
	}

	result, err := h.Orchestrator.ExecuteBalancePurchase(r.Context(), core.PurchaseIntent{
		AccountID:      core.AccountID(req.AccountID),
		RecipientPhone: req.PhoneNumber,
		Network:        core.Network(req.Network),
		BundleSize:     core.BundleSize(req.DataSize),
	})
	if err != nil {
		h.recordOutcome(core.PayFromBalance, err)
		h.writeDomainError(w, err)
		return
	}

	h.recordOutcome(core.PayFromBalance, nil)
	writeJSON(w, http.StatusOK, PurchaseResponse{
		Message:        "Purchase successful. Data will be delivered shortly.",
		TransactionRef: result.Record.ID,
		NewBalance:     result.NewBalance.StringFixed(2),
	})
}

// OpenPaymentSession opens a gateway-funded purchase session.
func (h *Handler) OpenPaymentSession(w http.ResponseWriter, r *http.Request) {
	var req PaymentSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err)
		return
	}
	if req.AccountID == "" || req.Email == "" || req.PhoneNumber == "" || req.Network == "" || req.DataSize == 0 {
		writeError(w, http.StatusBadRequest, "bad_request",
			"missing required fields: accountId, email, phoneNumber, network, dataSize", nil)
		return
	}

	checkout, err := h.Orchestrator.OpenGatewaySession(r.Context(), core.PurchaseIntent{
		AccountID:      core.AccountID(req.AccountID),
		RecipientPhone: req.PhoneNumber,
		Network:        core.Network(req.Network),
		BundleSize:     core.BundleSize(req.DataSize),
		Email:          req.Email,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PaymentSessionResponse{
		Reference:        checkout.Reference,
		AuthorizationURL: checkout.RedirectURL,
	})
}

// PaymentCallback reconciles a gateway payment by reference. Safe to
// call repeatedly with the same reference.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req PaymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err)
		return
	}
	if req.Reference == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing payment reference", nil)
		return
	}

	rec, err := h.Orchestrator.ReconcileGatewayPayment(r.Context(), req.Reference)
	if err != nil {
		h.recordOutcome(core.PayViaGateway, err)
		h.writeDomainError(w, err)
		return
	}

	h.recordOutcome(core.PayViaGateway, nil)
	writeJSON(w, http.StatusOK, PaymentCallbackResponse{
		Message:        "Payment confirmed. Data has been delivered.",
		TransactionRef: rec.ID,
	})
}

// =============================================================================
// COLLABORATOR READS
// =============================================================================

// GetBalance is the display-only wallet read.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := core.AccountID(chi.URLParam(r, "id"))

	balance, err := h.Ledger.Balance(r.Context(), id)
	if errors.Is(err, core.ErrAccountNotFound) {
		// A never-funded account reads as zero; nothing to 404 about.
		balance = decimal.Zero
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to read balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: string(id),
		Balance:   balance.StringFixed(2),
	})
}

// ListAccountTransactions returns an account's history, newest first.
func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id := core.AccountID(chi.URLParam(r, "id"))

	recs, err := h.Journal.ByAccount(r.Context(), id, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(recs))
}

// ListAllTransactions is the admin view of the journal.
func (h *Handler) ListAllTransactions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Journal.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(recs))
}

// ListPackages proxies the provider's package catalog.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	raw, err := h.Packages.Packages(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "fulfillment_failed", "failed to fetch packages", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// =============================================================================
// PRICING ENDPOINTS
// =============================================================================

// GetPricing returns the current catalog.
func (h *Handler) GetPricing(w http.ResponseWriter, r *http.Request) {
	prices := h.Catalog.Prices()
	out := make(map[int]string, len(prices))
	for size, price := range prices {
		out[int(size)] = price.StringFixed(2)
	}
	writeJSON(w, http.StatusOK, PricingDTO{Prices: out})
}

// UpdatePricing replaces the catalog price list. Takes effect for
// subsequent purchases only.
func (h *Handler) UpdatePricing(w http.ResponseWriter, r *http.Request) {
	var req UpdatePricingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err)
		return
	}

	prices := make(map[core.BundleSize]decimal.Decimal, len(req.Prices))
	for size, raw := range req.Prices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request",
				fmt.Sprintf("invalid price for size %dGB", size), err)
			return
		}
		prices[core.BundleSize(size)] = price
	}

	if err := h.Catalog.SetPrices(prices); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.Log.Info("pricing updated", zap.Int("sizes", len(prices)))
	h.GetPricing(w, r)
}

// =============================================================================
// ERROR MAPPING & HELPERS
// =============================================================================

// writeDomainError maps engine errors to stable kinds and statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidBundle):
		writeError(w, http.StatusBadRequest, "invalid_bundle",
			"Invalid data size. Allowed sizes: 1, 2, 5, 10 GB", err)
	case errors.Is(err, core.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient_funds",
			"Insufficient wallet balance. Please fund your wallet.", err)
	case errors.Is(err, core.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification",
			"Your balance is being updated by another purchase. Please retry.", err)
	case errors.Is(err, core.ErrFulfillmentFailed):
		writeError(w, http.StatusBadGateway, "fulfillment_failed",
			"Data delivery failed. You have not been charged.", err)
	case errors.Is(err, core.ErrPaymentNotConfirmed):
		writeError(w, http.StatusBadRequest, "payment_not_confirmed",
			"Payment was not successful.", err)
	case errors.Is(err, core.ErrUnknownReference):
		writeError(w, http.StatusNotFound, "unknown_reference",
			"No payment session found for that reference.", err)
	default:
		h.Log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal",
			"Something went wrong. Please try again.", nil)
	}
}

func (h *Handler) recordOutcome(path core.PaymentMode, err error) {
	if h.Metrics == nil {
		return
	}
	outcome := "completed"
	switch {
	case err == nil:
		h.Metrics.RecordFulfillment("delivered")
	case errors.Is(err, core.ErrFulfillmentFailed):
		outcome = "failed"
		h.Metrics.RecordFulfillment("failed")
	case core.IsClientError(err):
		outcome = "rejected"
	default:
		outcome = "failed"
	}
	h.Metrics.RecordPurchase(path, outcome)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind, message string, err error) {
	resp := ErrorResponse{Kind: kind, Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
