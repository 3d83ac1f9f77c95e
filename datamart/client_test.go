package datamart_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasa/datavend/core"
	"github.com/kasa/datavend/datamart"
)

func TestProvision_Success(t *testing.T) {
	// GIVEN: A provider that accepts the delivery
	// WHEN:  Provisioning a 5GB bundle
	// THEN:  The request carries the API key, the idempotency key (header
	//        and body), an uppercased network, and a string capacity

	var captured struct {
		PhoneNumber    string `json:"phoneNumber"`
		Network        string `json:"network"`
		Capacity       string `json:"capacity"`
		Gateway        string `json:"gateway"`
		IdempotencyKey string `json:"idempotencyKey"`
	}
	var apiKey, idemHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/developer/purchase", r.URL.Path)
		apiKey = r.Header.Get("X-API-Key")
		idemHeader = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"transactionReference": "DM-12345"},
		})
	}))
	defer server.Close()

	client := datamart.New(server.URL, "secret-key", 5*time.Second)
	result, err := client.Provision(context.Background(), core.ProvisionRequest{
		RecipientPhone: "0241234567",
		Network:        core.NetworkYello,
		BundleSize:     5,
		IdempotencyKey: "idem-1",
		Channel:        "wallet",
	})

	require.NoError(t, err)
	assert.Equal(t, "DM-12345", result.ProviderRef)
	assert.Equal(t, "secret-key", apiKey)
	assert.Equal(t, "idem-1", idemHeader)
	assert.Equal(t, "idem-1", captured.IdempotencyKey)
	assert.Equal(t, "0241234567", captured.PhoneNumber)
	assert.Equal(t, "YELLO", captured.Network)
	assert.Equal(t, "5", captured.Capacity)
	assert.Equal(t, "wallet", captured.Gateway)
}

func TestProvision_ProviderRejection_InterpretedReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "error",
			"message": "recipient number not on this network",
		})
	}))
	defer server.Close()

	client := datamart.New(server.URL, "secret-key", 5*time.Second)
	_, err := client.Provision(context.Background(), core.ProvisionRequest{
		RecipientPhone: "0241234567",
		Network:        core.NetworkYello,
		BundleSize:     5,
	})

	require.ErrorIs(t, err, core.ErrFulfillmentFailed)
	assert.Contains(t, err.Error(), "recipient number not on this network")
}

func TestProvision_SoftFailureBody_IsFailure(t *testing.T) {
	// An HTTP 200 with status != "success" is still a failure.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "pending_review",
			"message": "manual approval required",
		})
	}))
	defer server.Close()

	client := datamart.New(server.URL, "secret-key", 5*time.Second)
	_, err := client.Provision(context.Background(), core.ProvisionRequest{BundleSize: 1})

	assert.ErrorIs(t, err, core.ErrFulfillmentFailed)
}

func TestProvision_Timeout_IsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := datamart.New(server.URL, "secret-key", 20*time.Millisecond)
	_, err := client.Provision(context.Background(), core.ProvisionRequest{BundleSize: 1})

	assert.ErrorIs(t, err, core.ErrFulfillmentFailed,
		"an ambiguous timeout is reported as failure, never assumed delivered")
}

func TestProvision_FallbackReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"reference": "DM-ALT"},
		})
	}))
	defer server.Close()

	client := datamart.New(server.URL, "secret-key", 5*time.Second)
	result, err := client.Provision(context.Background(), core.ProvisionRequest{BundleSize: 1})

	require.NoError(t, err)
	assert.Equal(t, "DM-ALT", result.ProviderRef)
}

func TestPackages_Passthrough(t *testing.T) {
	payload := `{"data":[{"network":"YELLO","capacity":"5","price":10}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/developer/data-packages", r.URL.Path)
		require.Equal(t, "secret-key", r.Header.Get("X-API-Key"))
		w.Write([]byte(payload))
	}))
	defer server.Close()

	client := datamart.New(server.URL, "secret-key", 5*time.Second)
	raw, err := client.Packages(context.Background())

	require.NoError(t, err)
	assert.JSONEq(t, payload, string(raw))
}
