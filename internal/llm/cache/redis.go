package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache shared across processes. Values are stored as JSON under
// prefix+key. Backend failures degrade to a miss and are logged, so callers
// fall through to the source of truth.
type Redis[V any] struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	logger     *slog.Logger
	stats      counters
}

// NewRedis returns a Redis-backed cache. ttl of zero selects DefaultTTL.
func NewRedis[V any](client redis.UniversalClient, prefix string, ttl time.Duration) *Redis[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis[V]{
		client:     client,
		prefix:     prefix,
		defaultTTL: ttl,
		logger:     slog.Default().With("component", "redis_cache", "prefix", prefix),
	}
}

// Get decodes the stored value for key.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.stats.misses.Add(1)
		return zero, false
	}
	if err != nil {
		r.stats.errors.Add(1)
		r.logger.Warn("cache read failed", "key", key, "error", err)
		return zero, false
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		r.stats.errors.Add(1)
		r.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		r.client.Del(ctx, r.prefix+key)
		return zero, false
	}
	r.stats.hits.Add(1)
	return v, true
}

// Set stores value for ttl.
func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		r.stats.errors.Add(1)
		r.logger.Error("encode cache entry", "key", key, "error", err)
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		r.stats.errors.Add(1)
		r.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Delete removes key.
func (r *Redis[V]) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.stats.errors.Add(1)
		r.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}

// Stats returns lookup counters plus connection pool figures.
func (r *Redis[V]) Stats() Stats {
	s := r.stats.snapshot()
	if ps := r.client.PoolStats(); ps != nil {
		s.PoolHits = ps.Hits
		s.PoolMisses = ps.Misses
		s.PoolTimeouts = ps.Timeouts
		s.PoolTotalConns = ps.TotalConns
		s.PoolIdleConns = ps.IdleConns
	}
	return s
}
