package order

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically expires orders stuck in AWAITING_PAYMENT longer
// than the configured TTL. A TTL of zero disables the sweep.
type Sweeper struct {
	svc      Service
	ttl      time.Duration
	interval time.Duration
}

func NewSweeper(svc Service, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, ttl: ttl, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	if s.ttl <= 0 {
		log.Info().Msg("sweeper: checkout expiry disabled")
		return
	}

	log.Info().Dur("ttl", s.ttl).Dur("interval", s.interval).Msg("sweeper: started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper: stopped")
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.ttl)
			expired, err := s.svc.ExpireStale(ctx, cutoff)
			if err != nil {
				log.Error().Err(err).Msg("sweeper: expiry sweep failed")
				continue
			}
			if expired > 0 {
				log.Info().Int("expired", expired).Msg("sweeper: expired stale orders")
			}
		}
	}
}
