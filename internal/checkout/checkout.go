// Package checkout wraps the external payment provider behind a narrow
// session-creation and payment-lookup contract.
package checkout

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrProviderUnavailable marks transient failures (network, timeout,
	// provider 5xx). The caller may retry.
	ErrProviderUnavailable = errors.New("checkout provider unavailable")
	// ErrProviderRejected marks a 4xx answer for this particular request.
	// Retrying the same request will not help.
	ErrProviderRejected = errors.New("checkout provider rejected the request")
	// ErrProviderMisconfigured marks rejected credentials. Fatal, must not
	// be retried.
	ErrProviderMisconfigured = errors.New("checkout provider credentials rejected")
)

type SessionRequest struct {
	// OrderID doubles as the idempotency key: a retried request for the
	// same order must not create a second live session.
	OrderID    string
	Title      string
	PayerName  string
	PayerEmail string
	Quantity   int
	UnitPrice  decimal.Decimal
	Currency   string
}

// Session is one provider-side attempt to collect payment for an order.
type Session struct {
	Reference   string
	RedirectURL string
}

// Payment is the provider's view of a payment, resolved from a webhook
// notification. Reference carries the external reference attached to the
// session at creation time.
type Payment struct {
	Reference string
	Status    string
}

type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	ResolvePayment(ctx context.Context, paymentID string) (*Payment, error)
}
