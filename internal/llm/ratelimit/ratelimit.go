// Package ratelimit throttles outgoing provider calls before they leave the
// process. A local token bucket per provider/model is always applied; an
// optional Redis fixed window bounds the rate across every instance.
//
// A throttled call fails with *llmerrors.RateLimitError{LocalLimit: true}, so
// the retry coordinator backs off exactly as it would for a provider 429.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
	"github.com/ahrav/go-grader/internal/llm/transport"
)

var errInvalidConfig = errors.New("invalid rate limit config")

// Config sets per-key rates. A zero RequestsPerSecond disables that layer.
type Config struct {
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `json:"burst" mapstructure:"burst" validate:"gte=0"`

	// GlobalRequestsPerSecond is enforced in Redis across instances.
	GlobalRequestsPerSecond int `json:"global_requests_per_second" mapstructure:"global_requests_per_second" validate:"gte=0"`
}

// Limiter holds one token bucket per key and the optional shared window.
type Limiter struct {
	cfg    Config
	redis  redis.UniversalClient
	mu     sync.Mutex
	local  map[string]*rate.Limiter
	now    func() time.Time
	logger *slog.Logger

	// degraded is set after a Redis failure; the global layer is skipped
	// until a later check succeeds.
	degraded atomic.Bool
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithRedis enables the global layer.
func WithRedis(c redis.UniversalClient) Option { return func(l *Limiter) { l.redis = c } }

// WithClock replaces time.Now for token bucket arithmetic.
func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

// New validates cfg and builds a limiter.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.RequestsPerSecond < 0 || cfg.Burst < 0 || cfg.GlobalRequestsPerSecond < 0 {
		return nil, errInvalidConfig
	}
	if cfg.RequestsPerSecond > 0 && cfg.Burst == 0 {
		cfg.Burst = int(math.Ceil(cfg.RequestsPerSecond))
	}
	l := &Limiter{
		cfg:    cfg,
		local:  make(map[string]*rate.Limiter),
		now:    time.Now,
		logger: slog.Default().With("component", "rate_limit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow consumes capacity for key or returns a RateLimitError with a retry hint.
func (l *Limiter) Allow(ctx context.Context, provider, key string) error {
	if err := l.checkLocal(provider, key); err != nil {
		throttled.WithLabelValues(provider, "local").Inc()
		return err
	}
	if err := l.checkGlobal(ctx, provider, key); err != nil {
		throttled.WithLabelValues(provider, "global").Inc()
		return err
	}
	return nil
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.local[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
		l.local[key] = b
	}
	return b
}

func (l *Limiter) checkLocal(provider, key string) error {
	if l.cfg.RequestsPerSecond == 0 {
		return nil
	}
	b := l.bucket(key)
	now := l.now()
	if b.AllowN(now, 1) {
		return nil
	}

	// Peek at the wait without keeping the reservation.
	r := b.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)

	return &llmerrors.RateLimitError{
		Provider:   provider,
		RetryAfter: max(1, int(math.Ceil(delay.Seconds()))),
		Limit:      int(l.cfg.RequestsPerSecond),
		LocalLimit: true,
	}
}

// Middleware throttles every call to the wrapped client under key
// "<provider>:<model>".
func (l *Limiter) Middleware(provider string) transport.Middleware {
	return func(next transport.RequestClient) transport.RequestClient {
		return &limitedClient{next: next, limiter: l, provider: provider}
	}
}

type limitedClient struct {
	next     transport.RequestClient
	limiter  *Limiter
	provider string
}

func (c *limitedClient) ExecuteRequest(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := c.limiter.Allow(ctx, c.provider, c.provider+":"+req.Model); err != nil {
		return nil, err
	}
	return c.next.ExecuteRequest(ctx, req)
}

func (c *limitedClient) CountTokens(req *transport.Request) (int, error) {
	return c.next.CountTokens(req)
}
