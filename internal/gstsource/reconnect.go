package gstsource

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig controls pipeline restarts.
type ReconnectConfig struct {
	MaxRetries    int           // consecutive failures before giving up
	RetryDelay    time.Duration // first backoff
	MaxRetryDelay time.Duration // backoff cap
}

// DefaultReconnectConfig returns 5 retries starting at 1s, capped at 30s.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// reconnectState is owned by the goroutine running the pipeline.
type reconnectState struct {
	retries    int
	reconnects *atomic.Uint32 // read by Stats from other goroutines
}

// reset is called once the pipeline reaches PLAYING.
func (s *reconnectState) reset() { s.retries = 0 }

// runFunc runs one pipeline session. nil means a clean stop.
type runFunc func(ctx context.Context, state *reconnectState) error

// runWithReconnect runs fn until it stops cleanly, ctx ends or MaxRetries
// consecutive sessions fail. A session that reached PLAYING resets the
// retry count.
func runWithReconnect(ctx context.Context, fn runFunc, cfg ReconnectConfig, state *reconnectState, log zerolog.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := fn(ctx, state)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		state.retries++
		state.reconnects.Add(1)
		if state.retries > cfg.MaxRetries {
			return fmt.Errorf("gstsource: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := backoff(state.retries, cfg)
		log.Warn().Err(err).
			Int("attempt", state.retries).
			Int("max_retries", cfg.MaxRetries).
			Dur("delay", delay).
			Msg("gstsource: restarting pipeline")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// backoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func backoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
