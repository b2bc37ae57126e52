package order

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending         Status = "PENDING"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusAwaitingPayment: true,
	},
	StatusAwaitingPayment: {
		StatusApproved:  true,
		StatusRejected:  true,
		StatusCancelled: true,
		StatusExpired:   true,
	},
	StatusApproved:  {},
	StatusRejected:  {},
	StatusCancelled: {},
	StatusExpired:   {},
}

func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	return ok && next[to]
}

// ProviderStatus is the closed set of payment states the provider reports
// through the return redirect and the webhook.
type ProviderStatus string

const (
	ProviderApproved  ProviderStatus = "approved"
	ProviderRejected  ProviderStatus = "rejected"
	ProviderPending   ProviderStatus = "pending"
	ProviderCancelled ProviderStatus = "cancelled"
)

func (ps ProviderStatus) String() string {
	return string(ps)
}

// ParseProviderStatus validates a raw provider status at the boundary.
// Unrecognized values are rejected, never defaulted.
func ParseProviderStatus(raw string) (ProviderStatus, error) {
	switch raw {
	case "approved":
		return ProviderApproved, nil
	case "rejected":
		return ProviderRejected, nil
	case "pending", "in_process":
		return ProviderPending, nil
	case "cancelled":
		return ProviderCancelled, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProviderStatus, raw)
}

// TargetStatus maps a provider status to the order state it finalizes.
// A pending payment holds the order in AWAITING_PAYMENT, so it has no target.
func (ps ProviderStatus) TargetStatus() (Status, bool) {
	switch ps {
	case ProviderApproved:
		return StatusApproved, true
	case ProviderRejected:
		return StatusRejected, true
	case ProviderCancelled:
		return StatusCancelled, true
	}
	return "", false
}

type Photo struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Order struct {
	ID                uuid.UUID       `json:"id"`
	CustomerName      string          `json:"customer_name"`
	CustomerEmail     string          `json:"customer_email"`
	Photos            []Photo         `json:"-"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Status            Status          `json:"status"`
	CheckoutReference string          `json:"checkout_reference,omitempty"`
	CheckoutURL       string          `json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	FinalizedAt       *time.Time      `json:"finalized_at,omitempty"`
	NotifiedAt        *time.Time      `json:"notified_at,omitempty"`
}
