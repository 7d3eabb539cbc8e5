package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DeleteFunc drops everything stored for a session, including its registry entry.
type DeleteFunc func(ctx context.Context, token string) error

// Sweeper deletes sessions that have not been used for longer than the TTL.
type Sweeper struct {
	registry Registry
	remove   DeleteFunc
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(registry Registry, remove DeleteFunc, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		remove:   remove,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// Sweep runs one expiry pass and returns the number of sessions removed.
// A failing session is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	tokens, err := s.registry.Expired(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, token := range tokens {
		if err := s.remove(ctx, token); err != nil {
			log.Warn().Err(err).Str("session", token).Msg("Failed to expire session")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Dur("ttl", s.ttl).Msg("Expired idle sessions")
	}
	return removed, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Session sweep failed")
			}
		}
	}
}
