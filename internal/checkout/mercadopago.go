package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.mercadopago.com"

// Callbacks are the provider-side return targets, fixed at session-creation
// time. They are configuration, not order data.
type Callbacks struct {
	Success string
	Failure string
	Pending string
	Webhook string
}

// MercadoPago creates Checkout Pro preferences and resolves payments over
// the provider's REST API. The SDK is bypassed on purpose: the
// reconciliation flow needs the HTTP status code for its retryability
// taxonomy and an idempotency key it controls per order.
type MercadoPago struct {
	accessToken string
	baseURL     string
	callbacks   Callbacks
	client      *http.Client
}

func NewMercadoPago(accessToken string, callbacks Callbacks, timeout time.Duration) *MercadoPago {
	return &MercadoPago{
		accessToken: accessToken,
		baseURL:     defaultBaseURL,
		callbacks:   callbacks,
		client:      &http.Client{Timeout: timeout},
	}
}

type preferenceItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferencePayer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type preferenceBackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type preferenceRequest struct {
	Items             []preferenceItem   `json:"items"`
	Payer             preferencePayer    `json:"payer"`
	BackURLs          preferenceBackURLs `json:"back_urls"`
	AutoReturn        string             `json:"auto_return"`
	NotificationURL   string             `json:"notification_url"`
	ExternalReference string             `json:"external_reference"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type paymentResponse struct {
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
}

func (m *MercadoPago) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if req.PayerEmail == "" {
		return nil, fmt.Errorf("%w: payer email is required", ErrProviderRejected)
	}
	if req.Quantity <= 0 || !req.UnitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: order total must be positive", ErrProviderRejected)
	}

	body := preferenceRequest{
		Items: []preferenceItem{{
			ID:         req.OrderID,
			Title:      req.Title,
			Quantity:   req.Quantity,
			UnitPrice:  req.UnitPrice.InexactFloat64(),
			CurrencyID: req.Currency,
		}},
		Payer: preferencePayer{Name: req.PayerName, Email: req.PayerEmail},
		BackURLs: preferenceBackURLs{
			Success: m.callbacks.Success,
			Failure: m.callbacks.Failure,
			Pending: m.callbacks.Pending,
		},
		AutoReturn:        "approved",
		NotificationURL:   m.callbacks.Webhook,
		ExternalReference: req.OrderID,
	}

	var pref preferenceResponse
	if err := m.do(ctx, http.MethodPost, "/checkout/preferences", req.OrderID, body, &pref); err != nil {
		return nil, err
	}
	if pref.ID == "" || pref.InitPoint == "" {
		return nil, fmt.Errorf("%w: preference response missing id or init_point", ErrProviderUnavailable)
	}

	log.Info().Str("order_id", req.OrderID).Str("preference_id", pref.ID).Msg("checkout: created payment preference")
	return &Session{Reference: pref.ID, RedirectURL: pref.InitPoint}, nil
}

func (m *MercadoPago) ResolvePayment(ctx context.Context, paymentID string) (*Payment, error) {
	var p paymentResponse
	if err := m.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, "", nil, &p); err != nil {
		return nil, err
	}
	return &Payment{Reference: p.ExternalReference, Status: p.Status}, nil
}

func (m *MercadoPago) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("checkout: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("checkout: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		// Timeouts count as unavailable, never as a rejection.
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, classifyTransportError(err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: provider returned %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: provider returned %d", ErrProviderMisconfigured, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: provider returned %d: %s", ErrProviderRejected, resp.StatusCode, truncate(payload, 256))
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", ErrProviderUnavailable, err)
		}
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.New("request deadline exceeded")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.New("request timed out")
	}
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
