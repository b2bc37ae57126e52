package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vasiliy-maslov/magnetico-order-service/internal/checkout"
	"github.com/vasiliy-maslov/magnetico-order-service/internal/handler"
	"github.com/vasiliy-maslov/magnetico-order-service/internal/order"
)

func NewRouter(svc order.Service, provider checkout.Provider, verifier *checkout.SignatureVerifier, uploadLimit int64) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	oh := handler.NewOrderHandler(svc, uploadLimit)
	wh := handler.NewWebhookHandler(svc, provider, verifier)

	r.Post("/api/orders", oh.SubmitOrder)
	r.Get("/api/orders/{id}", oh.GetOrder)
	r.Get("/api/checkout/return", oh.HandleReturn)
	r.Post("/api/webhook", wh.Handle)

	return r
}
