/*
Package paystack is the HTTP client for the hosted payment gateway.

PURPOSE:
  Implements core.PaymentClient: CreateSession opens a hosted payment
  page and returns the redirect target; Verify re-fetches a payment's
  status from the gateway's authoritative endpoint.

AMOUNTS:
  The gateway works in subunits (pesewas); amounts are multiplied by
  100 on the way out and divided by 100 on the way back. Conversion
  stays inside this package - everything else works in major units.

TRUST BOUNDARY:
  Verify() is the ONLY source of settlement truth. The metadata and
  amounts echoed by session creation or callback payloads are never used
  for settlement decisions.
*/
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kasa/datavend/core"
)

const defaultTimeout = 30 * time.Second

var subunits = decimal.NewFromInt(100)

// Client talks to the payment gateway.
type Client struct {
	baseURL     string
	secretKey   string
	callbackURL string
	http        *http.Client
}

// New creates a gateway client. callbackURL is where the hosted page
// sends the buyer after payment. timeout <= 0 uses the default.
func New(baseURL, secretKey, callbackURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		secretKey:   secretKey,
		callbackURL: callbackURL,
		http:        &http.Client{Timeout: timeout},
	}
}

// =============================================================================
// CREATE SESSION
// =============================================================================

type initializeBody struct {
	Email       string               `json:"email"`
	Amount      int64                `json:"amount"` // subunits
	CallbackURL string               `json:"callback_url,omitempty"`
	Metadata    core.SessionMetadata `json:"metadata"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference        string `json:"reference"`
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
	} `json:"data"`
}

// CreateSession opens a hosted payment for the given amount (major
// units) and returns the gateway reference plus redirect URL.
func (c *Client) CreateSession(ctx context.Context, amount decimal.Decimal, email string, meta core.SessionMetadata) (core.CheckoutSession, error) {
	body, err := json.Marshal(initializeBody{
		Email:       email,
		Amount:      amount.Mul(subunits).Round(0).IntPart(),
		CallbackURL: c.callbackURL,
		Metadata:    meta,
	})
	if err != nil {
		return core.CheckoutSession{}, err
	}

	var parsed initializeResponse
	if err := c.post(ctx, "/transaction/initialize", body, &parsed); err != nil {
		return core.CheckoutSession{}, err
	}
	if !parsed.Status || parsed.Data.Reference == "" {
		return core.CheckoutSession{}, fmt.Errorf("gateway rejected session: %s", parsed.Message)
	}

	return core.CheckoutSession{
		Reference:   parsed.Data.Reference,
		RedirectURL: parsed.Data.AuthorizationURL,
	}, nil
}

// =============================================================================
// VERIFY
// =============================================================================

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status string `json:"status"`
		Amount int64  `json:"amount"` // subunits
	} `json:"data"`
}

// Verify re-fetches the payment state for a reference. The returned
// status is the gateway's word, not the caller's.
func (c *Client) Verify(ctx context.Context, reference string) (core.VerifyResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return core.VerifyResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return core.VerifyResult{}, fmt.Errorf("verify %s: %w", reference, err)
	}
	defer resp.Body.Close()

	var parsed verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return core.VerifyResult{}, fmt.Errorf("verify %s: unparseable gateway response (HTTP %d)", reference, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.VerifyResult{}, fmt.Errorf("verify %s: gateway returned HTTP %d", reference, resp.StatusCode)
	}

	return core.VerifyResult{
		Status: mapStatus(parsed.Data.Status),
		Amount: decimal.NewFromInt(parsed.Data.Amount).Div(subunits),
	}, nil
}

// mapStatus folds the gateway's status vocabulary into the three states
// the orchestrator cares about. Anything unrecognized is pending: the
// money may still arrive, and pending never consumes a session.
func mapStatus(s string) core.PaymentStatus {
	switch s {
	case "success":
		return core.PaymentSuccess
	case "failed", "abandoned", "reversed":
		return core.PaymentFailed
	default:
		return core.PaymentPending
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("unparseable gateway response (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}
	return nil
}
