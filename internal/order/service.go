package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/magnetico-order-service/internal/checkout"
	"github.com/vasiliy-maslov/magnetico-order-service/internal/mail"
)

var (
	ErrValidation              = errors.New("invalid order input")
	ErrUnknownProviderStatus   = errors.New("unknown provider status")
	ErrUnknownOrder            = errors.New("no order for checkout reference")
	ErrConflictingStatus       = errors.New("conflicting terminal status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
)

// errSweepSkip aborts an expiry mutation for an order the webhook already
// finalized. Not an error condition.
var errSweepSkip = errors.New("order already terminal")

type SubmitInput struct {
	Name   string
	Email  string
	Photos []Photo
}

// Policy carries the order-creation values sourced from configuration.
// Totals are always recomputed from UnitPrice here, never taken from the
// client.
type Policy struct {
	UnitPrice     decimal.Decimal
	Currency      string
	MinPhotos     int
	MaxPhotos     int
	MaxPhotoBytes int64
	NotifyTo      string
}

type Service interface {
	SubmitOrder(ctx context.Context, input SubmitInput) (*Order, error)
	RequestCheckout(ctx context.Context, orderID uuid.UUID) (string, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)
	HandleReturn(ctx context.Context, orderID uuid.UUID, rawStatus string) (*Order, ProviderStatus, error)
	HandleWebhook(ctx context.Context, reference string, rawStatus string) error
	ExpireStale(ctx context.Context, olderThan time.Time) (int, error)
}

type service struct {
	store    Store
	provider checkout.Provider
	mailer   mail.Sender
	policy   Policy
	validate *validator.Validate
}

func NewService(store Store, provider checkout.Provider, mailer mail.Sender, policy Policy) Service {
	return &service{
		store:    store,
		provider: provider,
		mailer:   mailer,
		policy:   policy,
		validate: validator.New(),
	}
}

func (s *service) SubmitOrder(ctx context.Context, input SubmitInput) (*Order, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: customer name is required", ErrValidation)
	}
	if err := s.validate.Var(input.Email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: customer email is not a valid address", ErrValidation)
	}
	if len(input.Photos) < s.policy.MinPhotos {
		return nil, fmt.Errorf("%w: at least %d photos required, got %d", ErrValidation, s.policy.MinPhotos, len(input.Photos))
	}
	if len(input.Photos) > s.policy.MaxPhotos {
		return nil, fmt.Errorf("%w: at most %d photos allowed, got %d", ErrValidation, s.policy.MaxPhotos, len(input.Photos))
	}

	photos := make([]Photo, len(input.Photos))
	for i, p := range input.Photos {
		if len(p.Data) == 0 {
			return nil, fmt.Errorf("%w: photo %q is empty", ErrValidation, p.Filename)
		}
		if int64(len(p.Data)) > s.policy.MaxPhotoBytes {
			return nil, fmt.Errorf("%w: photo %q exceeds %d bytes", ErrValidation, p.Filename, s.policy.MaxPhotoBytes)
		}
		// The sniffed type is stored; the client-supplied one is ignored.
		contentType := http.DetectContentType(p.Data)
		if !strings.HasPrefix(contentType, "image/") {
			return nil, fmt.Errorf("%w: photo %q is not an image", ErrValidation, p.Filename)
		}
		photos[i] = Photo{Filename: p.Filename, ContentType: contentType, Data: p.Data}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order ID: %w", err)
	}

	ord := &Order{
		ID:            id,
		CustomerName:  strings.TrimSpace(input.Name),
		CustomerEmail: input.Email,
		Photos:        photos,
		UnitPrice:     s.policy.UnitPrice,
		TotalAmount:   s.policy.UnitPrice.Mul(decimal.NewFromInt(int64(len(photos)))),
		Status:        StatusPending,
	}

	if err := s.store.Create(ctx, ord); err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to persist order")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().
		Stringer("order_id", ord.ID).
		Int("photos", len(ord.Photos)).
		Str("total_amount", ord.TotalAmount.String()).
		Msg("service: order created")

	return ord, nil
}

// RequestCheckout creates a provider session for a PENDING order and moves
// it to AWAITING_PAYMENT. Calling it again on an order that already has a
// live session replays the stored redirect URL instead of opening a second
// session; the provider call itself is idempotent per order ID.
func (s *service) RequestCheckout(ctx context.Context, orderID uuid.UUID) (string, error) {
	ord, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return "", ErrOrderNotFound
		}
		return "", fmt.Errorf("service: failed to load order for checkout: %w", err)
	}

	if ord.Status == StatusAwaitingPayment && ord.CheckoutURL != "" {
		log.Info().Stringer("order_id", orderID).Msg("service: checkout already requested, replaying redirect URL")
		return ord.CheckoutURL, nil
	}
	if ord.Status != StatusPending {
		return "", fmt.Errorf("%w: cannot request checkout from %s", ErrInvalidStatusTransition, ord.Status)
	}

	sess, err := s.provider.CreateSession(ctx, checkout.SessionRequest{
		OrderID:    ord.ID.String(),
		Title:      fmt.Sprintf("Pedido de %s", ord.CustomerName),
		PayerName:  ord.CustomerName,
		PayerEmail: ord.CustomerEmail,
		Quantity:   len(ord.Photos),
		UnitPrice:  ord.UnitPrice,
		Currency:   s.policy.Currency,
	})
	if err != nil {
		// The order stays PENDING; retryability is the caller's call based
		// on the error class.
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: checkout session creation failed")
		return "", err
	}

	updated, err := s.store.UpdateAtomic(ctx, orderID, func(o *Order) error {
		if o.Status == StatusAwaitingPayment {
			// A concurrent call won the race; the provider deduplicated the
			// session by idempotency key, so keep the stored reference.
			return nil
		}
		if !CanTransition(o.Status, StatusAwaitingPayment) {
			return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, o.Status, StatusAwaitingPayment)
		}
		o.Status = StatusAwaitingPayment
		o.CheckoutReference = sess.Reference
		o.CheckoutURL = sess.RedirectURL
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("service: failed to record checkout session: %w", err)
	}

	log.Info().
		Stringer("order_id", orderID).
		Str("checkout_reference", updated.CheckoutReference).
		Msg("service: order awaiting payment")

	return updated.CheckoutURL, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	ord, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}
	return ord, nil
}

// HandleReturn serves the browser redirect. The redirect is informational:
// it can be spoofed or never arrive, so it neither changes order state nor
// triggers notification. The webhook path is the finalization authority.
func (s *service) HandleReturn(ctx context.Context, orderID uuid.UUID, rawStatus string) (*Order, ProviderStatus, error) {
	ps, err := ParseProviderStatus(rawStatus)
	if err != nil {
		return nil, "", err
	}

	ord, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, "", ErrOrderNotFound
		}
		return nil, "", fmt.Errorf("service: failed to load order for return callback: %w", err)
	}

	log.Info().
		Stringer("order_id", orderID).
		Stringer("provider_status", ps).
		Stringer("order_status", ord.Status).
		Msg("service: return callback received")

	return ord, ps, nil
}

// HandleWebhook applies the authoritative payment outcome. Duplicate
// deliveries of the same outcome are a no-op; a delivery racing a different
// recorded outcome keeps the first terminal state and reports
// ErrConflictingStatus.
func (s *service) HandleWebhook(ctx context.Context, reference string, rawStatus string) error {
	ps, err := ParseProviderStatus(rawStatus)
	if err != nil {
		return err
	}

	ord, err := s.findByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Str("reference", reference).Stringer("provider_status", ps).Msg("service: webhook for unknown order")
			return fmt.Errorf("%w: %s", ErrUnknownOrder, reference)
		}
		return fmt.Errorf("service: failed to resolve webhook order: %w", err)
	}

	target, final := ps.TargetStatus()
	if !final {
		log.Info().Stringer("order_id", ord.ID).Msg("service: payment still pending, order remains awaiting payment")
		return nil
	}

	applied := false
	updated, err := s.store.UpdateAtomic(ctx, ord.ID, func(o *Order) error {
		if o.Status == target {
			// Duplicate delivery of the same outcome.
			return nil
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order is %s, webhook says %s", ErrConflictingStatus, o.Status, target)
		}
		if !CanTransition(o.Status, target) {
			return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, o.Status, target)
		}
		now := time.Now().UTC()
		o.Status = target
		o.FinalizedAt = &now
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflictingStatus) {
			log.Warn().
				Stringer("order_id", ord.ID).
				Stringer("recorded_status", ord.Status).
				Stringer("webhook_status", target).
				Msg("service: conflicting webhook ignored, keeping recorded state")
			return err
		}
		return fmt.Errorf("service: failed to apply webhook transition: %w", err)
	}

	if !applied {
		log.Info().Stringer("order_id", ord.ID).Stringer("status", target).Msg("service: duplicate webhook, no-op")
		return nil
	}

	log.Info().Stringer("order_id", ord.ID).Stringer("status", target).Msg("service: order finalized")

	if target == StatusApproved {
		s.notify(ctx, updated.ID)
	}
	return nil
}

// notify fires the single approval notification. Failure is logged and
// leaves NotifiedAt unset for manual replay; the payment already succeeded,
// so the order state is not touched.
func (s *service) notify(ctx context.Context, orderID uuid.UUID) {
	ord, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to load order for notification")
		return
	}

	attachments := make([]mail.Attachment, len(ord.Photos))
	for i, p := range ord.Photos {
		attachments[i] = mail.Attachment{Filename: p.Filename, ContentType: p.ContentType, Data: p.Data}
	}

	msg := mail.Message{
		To:      s.policy.NotifyTo,
		Subject: fmt.Sprintf("Pedido de %s (%s)", ord.CustomerName, ord.CustomerEmail),
		Body: fmt.Sprintf("Cliente: %s\nEmail: %s\nCantidad de fotos: %d\nTotal: %s %s\nPedido: %s\n",
			ord.CustomerName, ord.CustomerEmail, len(ord.Photos), ord.TotalAmount.String(), s.policy.Currency, ord.ID),
		Attachments: attachments,
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: order notification failed")
		return
	}

	if _, err := s.store.UpdateAtomic(ctx, orderID, func(o *Order) error {
		now := time.Now().UTC()
		o.NotifiedAt = &now
		return nil
	}); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to record notification timestamp")
	}
}

// ExpireStale moves AWAITING_PAYMENT orders created before olderThan to
// EXPIRED. Orders a webhook finalized in the meantime are skipped.
func (s *service) ExpireStale(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := s.store.ListStaleAwaitingPayment(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("service: failed to list stale orders: %w", err)
	}

	expired := 0
	for _, id := range ids {
		_, err := s.store.UpdateAtomic(ctx, id, func(o *Order) error {
			if o.Status != StatusAwaitingPayment {
				return errSweepSkip
			}
			now := time.Now().UTC()
			o.Status = StatusExpired
			o.FinalizedAt = &now
			return nil
		})
		if err != nil {
			if errors.Is(err, errSweepSkip) || errors.Is(err, ErrOrderNotFound) {
				continue
			}
			return expired, fmt.Errorf("service: failed to expire order %s: %w", id, err)
		}
		expired++
		log.Info().Stringer("order_id", id).Msg("service: stale order expired")
	}
	return expired, nil
}

// findByReference resolves a webhook reference, which carries the order ID
// as external reference on the payment but may also be the raw checkout
// session ID depending on the notification topic.
func (s *service) findByReference(ctx context.Context, reference string) (*Order, error) {
	if id, err := uuid.FromString(reference); err == nil {
		ord, err := s.store.GetByID(ctx, id)
		if err == nil {
			return ord, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	return s.store.GetByCheckoutReference(ctx, reference)
}
