/*
Package datamart is the HTTP client for the external bundle provisioning
API.

PURPOSE:
  Implements core.FulfillmentClient against the provider's developer
  API. Provision() delivers a bundle to a phone number; Packages()
  fetches the provider's catalog for display.

IDEMPOTENCY:
  Every provision request carries the caller's idempotency key, both as
  an Idempotency-Key header and in the body, so the provider can
  collapse retried requests into the original delivery. A client-side
  timeout is reported as a failure, and the safe recovery is to retry
  with the SAME key - never to re-provision under a fresh one.

ERROR MAPPING:
  All failures wrap core.ErrFulfillmentFailed. The provider's "message"
  field is extracted into the error; raw response bodies are never
  propagated.
*/
package datamart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kasa/datavend/core"
)

const defaultTimeout = 30 * time.Second

// Client talks to the provisioning provider.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a provisioning client. timeout <= 0 uses the default.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// =============================================================================
// PROVISION
// =============================================================================

type provisionBody struct {
	PhoneNumber    string `json:"phoneNumber"`
	Network        string `json:"network"`
	Capacity       string `json:"capacity"`
	Gateway        string `json:"gateway"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type provisionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TransactionReference string `json:"transactionReference"`
		Reference            string `json:"reference"`
	} `json:"data"`
}

// Provision instructs the provider to deliver a bundle. Success requires
// both an HTTP 2xx and status == "success" in the body; anything else,
// including a timeout, wraps core.ErrFulfillmentFailed.
func (c *Client) Provision(ctx context.Context, req core.ProvisionRequest) (core.ProvisionResult, error) {
	body, err := json.Marshal(provisionBody{
		PhoneNumber:    req.RecipientPhone,
		Network:        strings.ToUpper(string(req.Network)),
		Capacity:       strconv.Itoa(int(req.BundleSize)),
		Gateway:        req.Channel,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return core.ProvisionResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/developer/purchase", bytes.NewReader(body))
	if err != nil {
		return core.ProvisionResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Timeouts land here. The delivery state is unknown; the caller's
		// retry reuses the same idempotency key, so a delivery that did
		// happen is not repeated.
		return core.ProvisionResult{}, &core.FulfillmentError{Reason: "provider unreachable"}
	}
	defer resp.Body.Close()

	var parsed provisionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return core.ProvisionResult{}, &core.FulfillmentError{
			Reason: fmt.Sprintf("unparseable provider response (HTTP %d)", resp.StatusCode),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || parsed.Status != "success" {
		reason := parsed.Message
		if reason == "" {
			reason = fmt.Sprintf("provider returned HTTP %d", resp.StatusCode)
		}
		return core.ProvisionResult{}, &core.FulfillmentError{Reason: reason}
	}

	ref := parsed.Data.TransactionReference
	if ref == "" {
		ref = parsed.Data.Reference
	}
	return core.ProvisionResult{ProviderRef: ref}, nil
}

// =============================================================================
// PACKAGES
// =============================================================================

// Packages fetches the provider's bundle catalog. The payload is passed
// through as-is for display; the sellable catalog stays authoritative in
// core.Catalog.
func (c *Client) Packages(ctx context.Context) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/developer/data-packages", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch packages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch packages: provider returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("fetch packages: %w", err)
	}
	return json.RawMessage(raw), nil
}
