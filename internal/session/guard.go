package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a networked [Store] and keeps the UI working when it fails.
// Writes that the backend rejects go to an in-process fallback store and
// reads consult it, so a user's transcript survives a Redis restart within
// the same process. Of two copies the one updated last wins. IsDegraded
// reports whether the most recent backend call failed.
//
// Ping is passed through unchanged so readiness still reflects the backend.
type Guard struct {
	store    Store
	fallback *MemoryStore
	degraded atomic.Bool
}

var _ Store = (*Guard)(nil)

// NewGuard wraps store. fallback receives writes while store is failing.
func NewGuard(store Store, fallback *MemoryStore) *Guard {
	return &Guard{store: store, fallback: fallback}
}

// Get reads from the backend. While the backend fails, or when the fallback
// holds a newer copy written while degraded, the fallback copy is served and
// written back once the backend accepts it.
func (g *Guard) Get(ctx context.Context, id string) (*Session, error) {
	s, err := g.store.Get(ctx, id)
	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		g.degraded.Store(false)
	default:
		g.degraded.Store(true)
		slog.Warn("session guard: Get failed, using fallback", "session_id", id, "error", err)
		return g.fallback.Get(ctx, id)
	}

	local, lerr := g.fallback.Get(ctx, id)
	if lerr != nil {
		return s, err
	}
	if s != nil && !local.UpdatedAt.After(s.UpdatedAt) {
		_ = g.fallback.Delete(ctx, id)
		return s, nil
	}
	g.promote(ctx, local)
	return local, nil
}

// promote copies a session written while degraded back to the backend and
// drops the fallback copy once that succeeded.
func (g *Guard) promote(ctx context.Context, s *Session) {
	if err := g.store.Put(ctx, s); err != nil {
		g.degraded.Store(true)
		slog.Warn("session guard: write-back failed, keeping fallback copy", "session_id", s.ID, "error", err)
		return
	}
	_ = g.fallback.Delete(ctx, s.ID)
	slog.Info("session guard: restored session to backend", "session_id", s.ID)
}

// Put writes to the backend, or to the fallback when the backend fails. It
// never returns a backend error.
func (g *Guard) Put(ctx context.Context, s *Session) error {
	if err := g.store.Put(ctx, s); err != nil {
		g.degraded.Store(true)
		slog.Warn("session guard: Put failed, writing to fallback", "session_id", s.ID, "error", err)
		return g.fallback.Put(ctx, s)
	}
	g.degraded.Store(false)
	// A stale degraded-mode copy must not shadow the fresh write later.
	_ = g.fallback.Delete(ctx, s.ID)
	return nil
}

// Delete removes the session from both stores. Backend errors are logged and
// swallowed.
func (g *Guard) Delete(ctx context.Context, id string) error {
	_ = g.fallback.Delete(ctx, id)
	if err := g.store.Delete(ctx, id); err != nil {
		g.degraded.Store(true)
		slog.Warn("session guard: Delete failed", "session_id", id, "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Ping implements [Store] by pinging the backend.
func (g *Guard) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

// Close closes both stores.
func (g *Guard) Close() error {
	return errors.Join(g.store.Close(), g.fallback.Close())
}

// IsDegraded reports whether the most recent backend operation failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
