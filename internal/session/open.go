package session

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by [Open].
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config selects and configures a session backend.
type Config struct {
	// Backend is one of memory, redis or postgres. Empty means memory.
	Backend string

	// DSN is the Redis address/URL or the PostgreSQL connection string.
	DSN string

	// TTL is how long an idle session is kept. Zero uses [DefaultTTL].
	TTL time.Duration
}

// Open creates the configured store. Networked backends are wrapped in a
// [Guard].
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(cfg.TTL), nil
	case BackendRedis:
		store, err = NewRedisStore(ctx, cfg.DSN, cfg.TTL)
	case BackendPostgres:
		store, err = NewPostgresStore(ctx, cfg.DSN, cfg.TTL)
	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewGuard(store, NewMemoryStore(cfg.TTL)), nil
}
