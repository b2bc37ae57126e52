package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/magnetico-order-service/internal/order"
)

type SubmitOrderRequest struct {
	Name  string `validate:"required,min=2"`
	Email string `validate:"required,email"`
}

type SubmitOrderResponse struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	TotalAmount string `json:"total_amount"`
	RedirectURL string `json:"redirect_url"`
}

type OrderResponse struct {
	OrderID     string     `json:"order_id"`
	Status      string     `json:"status"`
	PhotoCount  int        `json:"photo_count"`
	TotalAmount string     `json:"total_amount"`
	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

type ReturnResponse struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	ProviderStatus string `json:"provider_status"`
}

// OrderHandler serves the submission entry point and the browser-facing
// callbacks.
type OrderHandler struct {
	svc         order.Service
	validate    *validator.Validate
	uploadLimit int64
}

func NewOrderHandler(svc order.Service, uploadLimit int64) *OrderHandler {
	return &OrderHandler{
		svc:         svc,
		validate:    validator.New(),
		uploadLimit: uploadLimit,
	}
}

// SubmitOrder accepts a multipart form {name, email, photos[]}, creates a
// pending order and answers with the provider redirect URL.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadLimit)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	requestPayload := SubmitOrderRequest{
		Name:  r.FormValue("name"),
		Email: r.FormValue("email"),
	}
	if err := h.validate.Struct(requestPayload); err != nil {
		respondWithError(w, http.StatusBadRequest, "name and a valid email are required")
		return
	}

	files := r.MultipartForm.File["photos"]
	photos := make([]order.Photo, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "failed to read uploaded photo")
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "failed to read uploaded photo")
			return
		}
		photos = append(photos, order.Photo{Filename: fh.Filename, Data: data})
	}

	ctx := r.Context()

	ord, err := h.svc.SubmitOrder(ctx, order.SubmitInput{
		Name:   requestPayload.Name,
		Email:  requestPayload.Email,
		Photos: photos,
	})
	if err != nil {
		if errors.Is(err, order.ErrValidation) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Failed to create order")
		respondWithError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	redirectURL, err := h.svc.RequestCheckout(ctx, ord.ID)
	if err != nil {
		// The order stays PENDING and is retrievable; the client may retry
		// checkout when the provider recovers.
		log.Warn().Err(err).Stringer("order_id", ord.ID).Msg("Checkout request failed after order creation")
		respondWithError(w, mapErrorToStatusCode(err), "failed to create checkout session")
		return
	}

	respondWithJSON(w, http.StatusCreated, SubmitOrderResponse{
		OrderID:     ord.ID.String(),
		Status:      string(order.StatusAwaitingPayment),
		TotalAmount: ord.TotalAmount.String(),
		RedirectURL: redirectURL,
	})
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ord, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, "order not found")
			return
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("Failed to fetch order")
		respondWithError(w, http.StatusInternalServerError, "failed to fetch order")
		return
	}

	respondWithJSON(w, http.StatusOK, OrderResponse{
		OrderID:     ord.ID.String(),
		Status:      string(ord.Status),
		PhotoCount:  len(ord.Photos),
		TotalAmount: ord.TotalAmount.String(),
		CreatedAt:   ord.CreatedAt,
		FinalizedAt: ord.FinalizedAt,
	})
}

// HandleReturn serves the provider's back_url redirect. It reports an
// optimistic view for the UI; the webhook remains the only path that
// finalizes an order.
func (h *OrderHandler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	rawStatus := r.URL.Query().Get("status")
	externalRef := r.URL.Query().Get("external_reference")
	if rawStatus == "" || externalRef == "" {
		respondWithError(w, http.StatusBadRequest, "status and external_reference are required")
		return
	}

	id, err := uuid.FromString(externalRef)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid external_reference")
		return
	}

	ord, ps, err := h.svc.HandleReturn(r.Context(), id, rawStatus)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrUnknownProviderStatus):
			respondWithError(w, http.StatusBadRequest, "unrecognized payment status")
		case errors.Is(err, order.ErrOrderNotFound):
			respondWithError(w, http.StatusNotFound, "order not found")
		default:
			log.Error().Err(err).Stringer("order_id", id).Msg("Failed to handle return callback")
			respondWithError(w, http.StatusInternalServerError, "failed to handle return callback")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, ReturnResponse{
		OrderID:        ord.ID.String(),
		Status:         string(ord.Status),
		ProviderStatus: string(ps),
	})
}
