package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/magnetico-order-service/internal/checkout"
	"github.com/vasiliy-maslov/magnetico-order-service/internal/config"
	"github.com/vasiliy-maslov/magnetico-order-service/internal/db"
	"github.com/vasiliy-maslov/magnetico-order-service/internal/mail"
	"github.com/vasiliy-maslov/magnetico-order-service/internal/order"
	"github.com/vasiliy-maslov/magnetico-order-service/internal/transport"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "magnetico-order-service").Logger()

	log.Info().Msg("Order service starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	var store order.Store
	if cfg.App.StoreDriver == "memory" {
		log.Warn().Msg("Using in-memory order store, pending orders will not survive a restart")
		store = order.NewMemoryStore()
	} else {
		pg, err := db.New(cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()
		store = order.NewStore(pg.Pool)
	}

	provider := checkout.NewMercadoPago(cfg.Provider.AccessToken, checkout.Callbacks{
		Success: cfg.App.PublicBaseURL + "/checkout/success",
		Failure: cfg.App.PublicBaseURL + "/checkout/failure",
		Pending: cfg.App.PublicBaseURL + "/checkout/pending",
		Webhook: cfg.App.CallbackBaseURL + "/api/webhook",
	}, cfg.Provider.Timeout)

	mailer := mail.NewSMTPSender(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.User, cfg.Mail.Password, cfg.Mail.From)

	svc := order.NewService(store, provider, mailer, order.Policy{
		UnitPrice:     cfg.Pricing.UnitPrice,
		Currency:      cfg.Pricing.Currency,
		MinPhotos:     cfg.Photos.Min,
		MaxPhotos:     cfg.Photos.Max,
		MaxPhotoBytes: cfg.Photos.MaxBytes,
		NotifyTo:      cfg.Mail.To,
	})

	verifier := checkout.NewSignatureVerifier(cfg.Provider.WebhookSecret)
	uploadLimit := cfg.Photos.MaxBytes*int64(cfg.Photos.Max) + (1 << 20)
	router := transport.NewRouter(svc, provider, verifier, uploadLimit)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sweeper := order.NewSweeper(svc, cfg.Checkout.TTL, cfg.Checkout.SweepInterval)
	go sweeper.Run(sweepCtx)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
