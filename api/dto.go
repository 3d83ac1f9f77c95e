/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *Request: request body types from clients
  - *Response / *DTO: types returned to clients

ERROR SHAPE:
  Every failure carries a stable machine-readable `kind` plus a human
  message. Provider error bodies are never passed through raw.
*/
package api

import (
	"time"

	"github.com/kasa/datavend/core"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// PurchaseRequest buys a bundle from the prepaid balance.
type PurchaseRequest struct {
	AccountID   string `json:"accountId"`
	PhoneNumber string `json:"phoneNumber"`
	Network     string `json:"network"`
	DataSize    int    `json:"dataSize"`
}

// PaymentSessionRequest opens a gateway-funded purchase.
type PaymentSessionRequest struct {
	AccountID   string `json:"accountId"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Network     string `json:"network"`
	DataSize    int    `json:"dataSize"`
}

// PaymentCallbackRequest reconciles a completed gateway payment. Only
// the reference is read; everything else is re-verified out-of-band.
type PaymentCallbackRequest struct {
	Reference string `json:"reference"`
}

// UpdatePricingRequest replaces the bundle price list. Prices are
// decimal strings keyed by size in GB.
type UpdatePricingRequest struct {
	Prices map[int]string `json:"prices"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PurchaseResponse reports a completed balance purchase.
type PurchaseResponse struct {
	Message        string `json:"message"`
	TransactionRef string `json:"transactionRef"`
	NewBalance     string `json:"newBalance"`
}

// PaymentSessionResponse carries the hosted payment redirect.
type PaymentSessionResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorizationUrl"`
}

// PaymentCallbackResponse reports a reconciled gateway purchase.
type PaymentCallbackResponse struct {
	Message        string `json:"message"`
	TransactionRef string `json:"transactionRef"`
}

// BalanceDTO is the display-only wallet read.
type BalanceDTO struct {
	AccountID string `json:"accountId"`
	Balance   string `json:"balance"`
}

// TransactionDTO represents a journal record in API responses.
type TransactionDTO struct {
	ID             string `json:"id"`
	AccountID      string `json:"accountId"`
	PhoneNumber    string `json:"phoneNumber"`
	Network        string `json:"network"`
	DataSize       int    `json:"dataSize"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	FulfillmentRef string `json:"fulfillmentRef,omitempty"`
	PaymentRef     string `json:"paymentRef,omitempty"`
	PaymentMethod  string `json:"paymentMethod"`
	CreatedAt      string `json:"createdAt"`
}

// PricingDTO is the current catalog.
type PricingDTO struct {
	Prices map[int]string `json:"prices"`
}

// ErrorResponse is the uniform failure shape.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toTransactionDTO(rec core.TransactionRecord) TransactionDTO {
	return TransactionDTO{
		ID:             rec.ID,
		AccountID:      string(rec.AccountID),
		PhoneNumber:    rec.RecipientPhone,
		Network:        rec.Network,
		DataSize:       int(rec.BundleSize),
		Amount:         rec.Amount.StringFixed(2),
		Status:         string(rec.Status),
		FulfillmentRef: rec.FulfillmentRef,
		PaymentRef:     rec.PaymentRef,
		PaymentMethod:  string(rec.PaymentMethod),
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(recs []core.TransactionRecord) []TransactionDTO {
	out := make([]TransactionDTO, len(recs))
	for i, rec := range recs {
		out[i] = toTransactionDTO(rec)
	}
	return out
}
