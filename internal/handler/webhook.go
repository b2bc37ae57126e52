package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/magnetico-order-service/internal/checkout"
	"github.com/vasiliy-maslov/magnetico-order-service/internal/order"
)

type webhookPayload struct {
	Action string `json:"action"`
	Type   string `json:"type"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// WebhookHandler serves the provider's asynchronous status push — the
// authoritative finalization path. A 200 tells the provider to stop
// retrying; anything else re-engages its retry policy.
type WebhookHandler struct {
	svc      order.Service
	provider checkout.Provider
	verifier *checkout.SignatureVerifier
}

func NewWebhookHandler(svc order.Service, provider checkout.Provider, verifier *checkout.SignatureVerifier) *WebhookHandler {
	return &WebhookHandler{svc: svc, provider: provider, verifier: verifier}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var payload webhookPayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			respondWithError(w, http.StatusBadRequest, "malformed payload")
			return
		}
	}

	// The provider duplicates the identifiers in the query string; accept
	// either form.
	dataID := payload.Data.ID
	if dataID == "" {
		dataID = r.URL.Query().Get("data.id")
	}
	if dataID == "" {
		respondWithError(w, http.StatusBadRequest, "missing payment identifier")
		return
	}

	signature := r.Header.Get("x-signature")
	requestID := r.Header.Get("x-request-id")
	if err := h.verifier.Verify(signature, requestID, dataID); err != nil {
		log.Warn().Err(err).Str("data_id", dataID).Msg("Webhook signature rejected")
		respondWithError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	topic := payload.Type
	if topic == "" {
		topic = r.URL.Query().Get("type")
	}
	if topic != "payment" {
		respondWithJSON(w, http.StatusOK, map[string]bool{"ignored": true})
		return
	}

	ctx := r.Context()

	payment, err := h.provider.ResolvePayment(ctx, dataID)
	if err != nil {
		log.Error().Err(err).Str("data_id", dataID).Msg("Failed to resolve payment from webhook")
		// Non-2xx so the provider retries once it is reachable again.
		respondWithError(w, mapErrorToStatusCode(err), "failed to resolve payment")
		return
	}

	err = h.svc.HandleWebhook(ctx, payment.Reference, payment.Status)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, order.ErrUnknownOrder):
		// Logged by the service; retrying will not make the order appear.
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "unknown_order"})
	case errors.Is(err, order.ErrConflictingStatus):
		// Recorded, existing terminal state kept; do not trigger retries.
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "conflict_recorded"})
	case errors.Is(err, order.ErrUnknownProviderStatus):
		respondWithError(w, http.StatusBadRequest, "unrecognized payment status")
	default:
		log.Error().Err(err).Str("data_id", dataID).Msg("Failed to apply webhook")
		respondWithError(w, http.StatusInternalServerError, "failed to apply webhook")
	}
}
