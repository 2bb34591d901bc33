package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS voxscribe_sessions (
    id          TEXT         PRIMARY KEY,
    data        JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at  TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_voxscribe_sessions_expires_at
    ON voxscribe_sessions (expires_at);
`

// PostgresStore keeps sessions in the voxscribe_sessions table. Expired rows
// are filtered on read and deleted by a background pruner.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens a pool for dsn, verifies it and runs [MigrateSessions].
func NewPostgresStore(ctx context.Context, dsn string, ttl time.Duration) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("session: postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("session: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session: postgres: ping: %w", err)
	}
	if err := MigrateSessions(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &PostgresStore{
		pool: pool,
		ttl:  ttl,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.pruner(max(ttl/4, time.Minute))
	return s, nil
}

// MigrateSessions creates the sessions table if it does not exist.
func MigrateSessions(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return fmt.Errorf("session: postgres: migrate: %w", err)
	}
	return nil
}

// Get implements [Store].
func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	const q = `SELECT data FROM voxscribe_sessions WHERE id = $1 AND expires_at > now()`
	var data []byte
	err := p.pool.QueryRow(ctx, q, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: postgres get: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &s, nil
}

// Put implements [Store].
func (p *PostgresStore) Put(ctx context.Context, s *Session) error {
	const q = `
		INSERT INTO voxscribe_sessions (id, data, updated_at, expires_at)
		VALUES ($1, $2, now(), now() + ($3::bigint * interval '1 microsecond'))
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data,
		    updated_at = EXCLUDED.updated_at,
		    expires_at = EXCLUDED.expires_at`
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if _, err := p.pool.Exec(ctx, q, s.ID, data, p.ttl.Microseconds()); err != nil {
		return fmt.Errorf("session: postgres put: %w", err)
	}
	return nil
}

// Delete implements [Store].
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM voxscribe_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("session: postgres delete: %w", err)
	}
	return nil
}

// Prune deletes expired rows and returns how many were removed.
func (p *PostgresStore) Prune(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM voxscribe_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("session: postgres prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping implements [Store].
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close stops the pruner and closes the pool.
func (p *PostgresStore) Close() error {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		p.pool.Close()
	})
	return nil
}

func (p *PostgresStore) pruner(every time.Duration) {
	defer close(p.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := p.Prune(ctx)
			cancel()
			if err != nil {
				slog.Warn("session prune failed", "error", err)
			} else if n > 0 {
				slog.Debug("pruned expired sessions", "count", n)
			}
		}
	}
}
