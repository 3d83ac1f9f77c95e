package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasa/datavend/api"
	"github.com/kasa/datavend/core"
	"github.com/kasa/datavend/core/store"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type stubFulfillment struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (s *stubFulfillment) Provision(_ context.Context, req core.ProvisionRequest) (core.ProvisionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return core.ProvisionResult{}, &core.FulfillmentError{Reason: "provider down"}
	}
	return core.ProvisionResult{ProviderRef: "DM-1"}, nil
}

func (s *stubFulfillment) Packages(_ context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"data":[]}`), nil
}

type stubPayments struct {
	verdict core.PaymentStatus
	refs    int
}

func (s *stubPayments) CreateSession(_ context.Context, _ decimal.Decimal, _ string, _ core.SessionMetadata) (core.CheckoutSession, error) {
	s.refs++
	ref := fmt.Sprintf("PS-%d", s.refs)
	return core.CheckoutSession{Reference: ref, RedirectURL: "https://pay.example/" + ref}, nil
}

func (s *stubPayments) Verify(_ context.Context, _ string) (core.VerifyResult, error) {
	return core.VerifyResult{Status: s.verdict, Amount: decimal.RequireFromString("10.00")}, nil
}

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	router   http.Handler
	mem      *store.Memory
	fulfill  *stubFulfillment
	payments *stubPayments
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := store.NewMemory()
	fulfill := &stubFulfillment{}
	payments := &stubPayments{verdict: core.PaymentSuccess}
	catalog := core.DefaultCatalog()
	orc := core.NewOrchestrator(mem, mem, mem, fulfill, payments, catalog, nil, nil)
	handler := api.NewHandler(orc, mem, mem, catalog, fulfill, nil, nil)
	return &env{
		router:   api.NewRouter(handler, []string{"*"}, nil),
		mem:      mem,
		fulfill:  fulfill,
		payments: payments,
	}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

func purchaseBody(account string) map[string]any {
	return map[string]any{
		"accountId":   account,
		"phoneNumber": "0241234567",
		"network":     "YELLO",
		"dataSize":    5,
	}
}

// =============================================================================
// PURCHASE ENDPOINT
// =============================================================================

func TestPurchase_Success(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Deposit(context.Background(), "acc-1", decimal.RequireFromString("10.00")))

	rr := e.do(t, http.MethodPost, "/api/purchase", purchaseBody("acc-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[api.PurchaseResponse](t, rr)
	assert.NotEmpty(t, resp.TransactionRef)
	assert.Equal(t, "0.00", resp.NewBalance)
}

func TestPurchase_InsufficientFunds_402(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Deposit(context.Background(), "acc-1", decimal.RequireFromString("5.00")))

	rr := e.do(t, http.MethodPost, "/api/purchase", purchaseBody("acc-1"))

	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	resp := decode[api.ErrorResponse](t, rr)
	assert.Equal(t, "insufficient_funds", resp.Kind)
	assert.Contains(t, resp.Details, "required 10.00")
	assert.Contains(t, resp.Details, "available 5.00")
}

func TestPurchase_InvalidBundle_400(t *testing.T) {
	e := newEnv(t)
	body := purchaseBody("acc-1")
	body["dataSize"] = 7

	rr := e.do(t, http.MethodPost, "/api/purchase", body)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_bundle", decode[api.ErrorResponse](t, rr).Kind)
}

func TestPurchase_FulfillmentFailure_502(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Deposit(context.Background(), "acc-1", decimal.RequireFromString("10.00")))
	e.fulfill.fail = true

	rr := e.do(t, http.MethodPost, "/api/purchase", purchaseBody("acc-1"))

	require.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "fulfillment_failed", decode[api.ErrorResponse](t, rr).Kind)

	// Not charged.
	balance, err := e.mem.Balance(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "10.00", balance.StringFixed(2))
}

func TestPurchase_MissingFields_400(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/purchase", map[string]any{"accountId": "acc-1"})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "bad_request", decode[api.ErrorResponse](t, rr).Kind)
}

// =============================================================================
// GATEWAY ENDPOINTS
// =============================================================================

func sessionBody(account string) map[string]any {
	body := purchaseBody(account)
	body["email"] = "buyer@example.com"
	return body
}

func TestPaymentSession_ReturnsRedirect(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/payment-session", sessionBody("acc-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[api.PaymentSessionResponse](t, rr)
	assert.NotEmpty(t, resp.Reference)
	assert.Contains(t, resp.AuthorizationURL, resp.Reference)
}

func TestPaymentCallback_FullFlow(t *testing.T) {
	e := newEnv(t)

	opened := decode[api.PaymentSessionResponse](t,
		e.do(t, http.MethodPost, "/api/payment-session", sessionBody("acc-1")))

	rr := e.do(t, http.MethodPost, "/api/payment-callback",
		map[string]any{"reference": opened.Reference})

	require.Equal(t, http.StatusOK, rr.Code)
	first := decode[api.PaymentCallbackResponse](t, rr)
	assert.NotEmpty(t, first.TransactionRef)

	// Replay is safe and returns the same transaction.
	rr = e.do(t, http.MethodPost, "/api/payment-callback",
		map[string]any{"reference": opened.Reference})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, first.TransactionRef, decode[api.PaymentCallbackResponse](t, rr).TransactionRef)
}

func TestPaymentCallback_UnknownReference_404(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/payment-callback", map[string]any{"reference": "PS-nope"})

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "unknown_reference", decode[api.ErrorResponse](t, rr).Kind)
}

func TestPaymentCallback_PendingPayment_400(t *testing.T) {
	e := newEnv(t)
	e.payments.verdict = core.PaymentPending

	opened := decode[api.PaymentSessionResponse](t,
		e.do(t, http.MethodPost, "/api/payment-session", sessionBody("acc-1")))

	rr := e.do(t, http.MethodPost, "/api/payment-callback",
		map[string]any{"reference": opened.Reference})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "payment_not_confirmed", decode[api.ErrorResponse](t, rr).Kind)
}

// =============================================================================
// READS & PRICING
// =============================================================================

func TestGetBalance_UnknownAccountReadsZero(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/accounts/acc-new/balance", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "0.00", decode[api.BalanceDTO](t, rr).Balance)
}

func TestListAccountTransactions(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Deposit(context.Background(), "acc-1", decimal.RequireFromString("20.00")))
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/purchase", purchaseBody("acc-1")).Code)

	rr := e.do(t, http.MethodGet, "/api/accounts/acc-1/transactions", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	recs := decode[[]api.TransactionDTO](t, rr)
	require.Len(t, recs, 1)
	assert.Equal(t, "MTN", recs[0].Network)
	assert.Equal(t, "completed", recs[0].Status)
	assert.Equal(t, "10.00", recs[0].Amount)
}

func TestPricing_ReadAndUpdate(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/pricing", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "10.00", decode[api.PricingDTO](t, rr).Prices[5])

	rr = e.do(t, http.MethodPut, "/api/pricing", map[string]any{
		"prices": map[string]string{"1": "3.00", "5": "12.00"},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	// Subsequent purchases use the new price.
	require.NoError(t, e.mem.Deposit(context.Background(), "acc-1", decimal.RequireFromString("12.00")))
	resp := e.do(t, http.MethodPost, "/api/purchase", purchaseBody("acc-1"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "0.00", decode[api.PurchaseResponse](t, resp).NewBalance)
}

func TestPricing_UpdateRejectsBadPrice(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPut, "/api/pricing", map[string]any{
		"prices": map[string]string{"5": "not-a-price"},
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListPackages_Proxied(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/packages", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"data":[]}`, rr.Body.String())
}
