package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionRequest() SessionRequest {
	return SessionRequest{
		OrderID:    "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		Title:      "Pedido de Ana García",
		PayerName:  "Ana García",
		PayerEmail: "ana@example.com",
		Quantity:   4,
		UnitPrice:  decimal.NewFromInt(2000),
		Currency:   "ARS",
	}
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *MercadoPago {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m := NewMercadoPago("test-token", Callbacks{
		Success: "https://shop.example.com/checkout/success",
		Failure: "https://shop.example.com/checkout/failure",
		Pending: "https://shop.example.com/checkout/pending",
		Webhook: "https://shop.example.com/api/webhook",
	}, 5*time.Second)
	m.baseURL = srv.URL
	return m
}

func TestMercadoPago_CreateSession(t *testing.T) {
	var gotReq preferenceRequest
	var gotAuth, gotIdempotency string

	m := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/checkout/preferences", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("X-Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(preferenceResponse{
			ID:        "pref-123",
			InitPoint: "https://pay.example.com/init/pref-123",
		})
	})

	sess, err := m.CreateSession(context.Background(), testSessionRequest())
	require.NoError(t, err)
	assert.Equal(t, "pref-123", sess.Reference)
	assert.Equal(t, "https://pay.example.com/init/pref-123", sess.RedirectURL)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", gotIdempotency)

	require.Len(t, gotReq.Items, 1)
	assert.Equal(t, "Pedido de Ana García", gotReq.Items[0].Title)
	assert.Equal(t, 4, gotReq.Items[0].Quantity)
	assert.Equal(t, float64(2000), gotReq.Items[0].UnitPrice)
	assert.Equal(t, "ARS", gotReq.Items[0].CurrencyID)
	assert.Equal(t, "ana@example.com", gotReq.Payer.Email)
	assert.Equal(t, "approved", gotReq.AutoReturn)
	assert.Equal(t, "https://shop.example.com/api/webhook", gotReq.NotificationURL)
	assert.Equal(t, "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", gotReq.ExternalReference)
	assert.Equal(t, "https://shop.example.com/checkout/success", gotReq.BackURLs.Success)
}

func TestMercadoPago_CreateSession_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErrIs  error
	}{
		{name: "server_error_is_unavailable", statusCode: http.StatusInternalServerError, wantErrIs: ErrProviderUnavailable},
		{name: "bad_gateway_is_unavailable", statusCode: http.StatusBadGateway, wantErrIs: ErrProviderUnavailable},
		{name: "unauthorized_is_misconfigured", statusCode: http.StatusUnauthorized, wantErrIs: ErrProviderMisconfigured},
		{name: "forbidden_is_misconfigured", statusCode: http.StatusForbidden, wantErrIs: ErrProviderMisconfigured},
		{name: "bad_request_is_rejected", statusCode: http.StatusBadRequest, wantErrIs: ErrProviderRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})

			_, err := m.CreateSession(context.Background(), testSessionRequest())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErrIs), "got %v", err)
		})
	}
}

func TestMercadoPago_CreateSession_GuardsBeforeRequest(t *testing.T) {
	m := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called")
	})

	req := testSessionRequest()
	req.PayerEmail = ""
	_, err := m.CreateSession(context.Background(), req)
	assert.True(t, errors.Is(err, ErrProviderRejected))

	req = testSessionRequest()
	req.Quantity = 0
	_, err = m.CreateSession(context.Background(), req)
	assert.True(t, errors.Is(err, ErrProviderRejected))
}

func TestMercadoPago_CreateSession_UnreachableHostIsUnavailable(t *testing.T) {
	m := NewMercadoPago("test-token", Callbacks{}, 500*time.Millisecond)
	m.baseURL = "http://127.0.0.1:1"

	req := testSessionRequest()
	_, err := m.CreateSession(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
}

func TestMercadoPago_CreateSession_IncompleteResponse(t *testing.T) {
	m := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pref-123"}`))
	})

	_, err := m.CreateSession(context.Background(), testSessionRequest())
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
}

func TestMercadoPago_ResolvePayment(t *testing.T) {
	m := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/payments/12345", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Idempotency-Key"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(paymentResponse{
			Status:            "approved",
			ExternalReference: "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		})
	})

	p, err := m.ResolvePayment(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", p.Reference)
}

func TestMercadoPago_ResolvePayment_NotFoundIsRejected(t *testing.T) {
	m := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"payment not found"}`))
	})

	_, err := m.ResolvePayment(context.Background(), "12345")
	assert.True(t, errors.Is(err, ErrProviderRejected))
}
