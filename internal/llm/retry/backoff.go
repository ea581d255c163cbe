package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
)

// Jitter band applied to computed backoff.
const (
	JitterMin = 0.85
	JitterMax = 1.15

	// DefaultMaxDelay caps a single computed backoff.
	DefaultMaxDelay = 5 * time.Minute
)

// KindTransient keys the strategy for transient failures that are neither
// overloads nor rate limits (5xx, dropped connections).
const KindTransient llmerrors.ErrorType = "transient"

// Strategy is the retry budget for one failure kind.
type Strategy struct {
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay" mapstructure:"base_delay"`
}

// Config overrides the default strategies.
type Config struct {
	Strategies map[llmerrors.ErrorType]Strategy `json:"strategies" mapstructure:"strategies"`
	MaxDelay   time.Duration                    `json:"max_delay" mapstructure:"max_delay"`
}

// DefaultStrategies returns overloaded {2, 60s}, rate limited {3, 30s} and
// other transient failures {2, 5s}.
func DefaultStrategies() map[llmerrors.ErrorType]Strategy {
	return map[llmerrors.ErrorType]Strategy{
		llmerrors.ErrorTypeOverloaded: {MaxRetries: 2, BaseDelay: 60 * time.Second},
		llmerrors.ErrorTypeRateLimit:  {MaxRetries: 3, BaseDelay: 30 * time.Second},
		KindTransient:                 {MaxRetries: 2, BaseDelay: 5 * time.Second},
	}
}

// Sleeper blocks the calling goroutine for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper. Only the calling goroutine waits.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func defaultJitterSource() float64 {
	return rand.Float64() // #nosec G404 -- non-cryptographic jitter is appropriate here
}

// backoff returns the provider hint when present, otherwise
// base * 2^(attempt-1) scaled by a jitter factor in [JitterMin, JitterMax].
func (c *Coordinator) backoff(s Strategy, attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}

	exp := float64(s.BaseDelay) * math.Pow(2, float64(attempt-1))
	factor := JitterMin + c.jitter()*(JitterMax-JitterMin)
	delay := time.Duration(exp * factor)
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	return delay
}
