package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default retry parameters for [OpenWithRetry].
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// RetryConfig controls how [OpenWithRetry] waits for a backend that is not
// up yet, e.g. a Redis container starting next to voxscribe.
type RetryConfig struct {
	// MaxRetries is the number of attempts before giving up. Default: 10.
	MaxRetries int

	// Backoff is the wait after the first failure. It doubles each attempt up
	// to MaxBackoff. Default: 1s.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts. Default: 30s.
	MaxBackoff time.Duration
}

func (rc RetryConfig) withDefaults() RetryConfig {
	if rc.MaxRetries <= 0 {
		rc.MaxRetries = defaultMaxRetries
	}
	if rc.Backoff <= 0 {
		rc.Backoff = defaultBackoff
	}
	if rc.MaxBackoff <= 0 {
		rc.MaxBackoff = defaultMaxBackoff
	}
	return rc
}

// OpenWithRetry calls [Open] until it succeeds, backing off exponentially
// between attempts. The memory backend never fails and returns at once.
func OpenWithRetry(ctx context.Context, cfg Config, rc RetryConfig) (Store, error) {
	return openWithRetry(ctx, func(ctx context.Context) (Store, error) {
		return Open(ctx, cfg)
	}, cfg.Backend, rc)
}

func openWithRetry(ctx context.Context, open func(context.Context) (Store, error), backend string, rc RetryConfig) (Store, error) {
	rc = rc.withDefaults()
	backoff := rc.Backoff

	var lastErr error
	for attempt := 1; attempt <= rc.MaxRetries; attempt++ {
		st, err := open(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("session store connected", "backend", backend, "attempt", attempt)
			}
			return st, nil
		}
		lastErr = err
		if attempt == rc.MaxRetries {
			break
		}

		slog.Warn("session store unavailable, retrying",
			"backend", backend,
			"attempt", attempt,
			"max_retries", rc.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("session: open %s: %w", backend, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, rc.MaxBackoff)
	}
	return nil, fmt.Errorf("session: open %s after %d attempts: %w", backend, rc.MaxRetries, lastErr)
}
