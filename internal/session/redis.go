package session

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces session keys in a shared Redis.
const redisKeyPrefix = "voxscribe:session:"

// RedisStore stores each session as a JSON string under
// voxscribe:session:<id> with a Redis-side expiry.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to addr and verifies the connection. addr is either
// host:port or a redis://, rediss://, redis-sentinel:// or
// rediss-sentinel:// URL; several comma-separated hosts select a cluster.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}
	return NewRedisStoreFromClient(c, ttl), nil
}

// NewRedisStoreFromClient wraps an existing client. A ttl <= 0 uses
// [DefaultTTL].
func NewRedisStoreFromClient(c redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: c, ttl: ttl}
}

// Get implements [Store].
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	b, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &s, nil
}

// Put implements [Store].
func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+s.ID, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Delete implements [Store].
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

// Ping implements [Store].
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements [Store].
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// splitHosts separates the comma-separated host list of a cluster or
// sentinel URL, which url.Parse rejects. It returns addr rewritten to carry
// only the first host, and every host in order.
func splitHosts(addr string) (string, []string) {
	scheme, rest, _ := strings.Cut(addr, "://")
	end := strings.IndexAny(rest, "/?")
	if end < 0 {
		end = len(rest)
	}
	authority, tail := rest[:end], rest[end:]

	userinfo := ""
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		userinfo, authority = authority[:at+1], authority[at+1:]
	}
	var hosts []string
	for h := range strings.SplitSeq(authority, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	first := ""
	if len(hosts) > 0 {
		first = hosts[0]
	}
	return scheme + "://" + userinfo + first + tail, hosts
}

// parseRedisURL parses addr into UniversalOptions supporting single, cluster,
// and sentinel Redis deployments. If no scheme is present, addr is treated as
// a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	single, hosts := splitHosts(addr)
	u, err := url.Parse(single)
	if err != nil {
		return nil, fmt.Errorf("session: redis url: %w", err)
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = hosts

	q := u.Query()
	parseDB := func(s string) error {
		db, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("session: redis: invalid db %q: %w", s, err)
		}
		opts.DB = db
		return nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	switch u.Scheme {
	case "redis", "rediss":
		if p := strings.TrimPrefix(u.Path, "/"); p != "" {
			if err := parseDB(p); err != nil {
				return nil, err
			}
		} else if v := q.Get("db"); v != "" {
			if err := parseDB(v); err != nil {
				return nil, err
			}
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = tlsCfg
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if v := q.Get("db"); v != "" {
			if err := parseDB(v); err != nil {
				return nil, err
			}
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
		if u.Scheme == "rediss-sentinel" {
			opts.TLSConfig = tlsCfg
		}
	default:
		return nil, fmt.Errorf("session: redis: invalid URL scheme %q", u.Scheme)
	}
	return opts, nil
}
