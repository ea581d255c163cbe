// Package retry executes provider calls with per-failure-kind retry budgets,
// exponential backoff with jitter, and circuit breaker bookkeeping.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
	"github.com/ahrav/go-grader/internal/llm/transport"
)

var errInvalidStrategy = errors.New("retry strategy must allow at least one attempt")

// Breaker is the subset of the circuit breaker the coordinator consults.
type Breaker interface {
	AllowRequest(ctx context.Context, service string) bool
	RecordSuccess(ctx context.Context, service string)
	RecordFailure(ctx context.Context, service string)
}

// Coordinator runs an operation and retries recognized transient failures.
//
// MaxRetries counts total invocations: the retry counter is incremented
// before it is compared, so a strategy with MaxRetries=2 invokes the
// operation at most twice. When the budget is spent the last error is
// returned unchanged.
type Coordinator struct {
	breaker    Breaker
	strategies map[llmerrors.ErrorType]Strategy
	maxDelay   time.Duration
	sleep      Sleeper
	jitter     func() float64
	logger     *slog.Logger
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithSleeper replaces the context-aware timer sleep, for tests.
func WithSleeper(s Sleeper) Option { return func(c *Coordinator) { c.sleep = s } }

// WithJitterSource replaces the uniform [0,1) source used for jitter.
func WithJitterSource(f func() float64) Option { return func(c *Coordinator) { c.jitter = f } }

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// NewCoordinator validates cfg and builds a coordinator. breaker may be nil.
func NewCoordinator(cfg Config, breaker Breaker, opts ...Option) (*Coordinator, error) {
	strategies := DefaultStrategies()
	for kind, s := range cfg.Strategies {
		if s.MaxRetries < 1 {
			return nil, fmt.Errorf("%w: %s has max_retries %d", errInvalidStrategy, kind, s.MaxRetries)
		}
		strategies[kind] = s
	}

	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	c := &Coordinator{
		breaker:    breaker,
		strategies: strategies,
		maxDelay:   maxDelay,
		sleep:      SleepContext,
		jitter:     defaultJitterSource,
		logger:     slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Execute runs op for service, which also names the circuit breaker key.
func (c *Coordinator) Execute(
	ctx context.Context,
	service string,
	op func(context.Context) (*transport.Response, error),
) (*transport.Response, error) {
	return Do(ctx, c, service, op)
}

// Do is the generic form of Execute.
func Do[T any](ctx context.Context, c *Coordinator, service string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return zero, &llmerrors.TimeoutError{Operation: service, Err: err}
		}

		if c.breaker != nil && !c.breaker.AllowRequest(ctx, service) {
			return zero, &llmerrors.CircuitBreakerError{Service: service, State: "open"}
		}

		result, err := op(ctx)
		if err == nil {
			if c.breaker != nil {
				c.breaker.RecordSuccess(ctx, service)
			}
			return result, nil
		}

		if ctx.Err() != nil {
			var timeoutErr *llmerrors.TimeoutError
			if errors.As(err, &timeoutErr) {
				return zero, err
			}
			return zero, &llmerrors.TimeoutError{Operation: service, Err: fmt.Errorf("%w: %w", ctx.Err(), err)}
		}

		kind := llmerrors.Classify(err)
		strategy, ok := c.strategyFor(kind)
		if !ok {
			return zero, err
		}

		// Local throttling never reached the provider, so it says nothing
		// about the provider's health.
		if c.breaker != nil && !isLocalLimit(err) {
			c.breaker.RecordFailure(ctx, service)
		}

		retries++
		if retries >= strategy.MaxRetries {
			c.logger.Warn("retries exhausted",
				"service", service,
				"error_type", kind,
				"attempts", retries,
				"error", err)
			return zero, err
		}

		delay := c.backoff(strategy, retries, llmerrors.RetryAfter(err))
		retryAttempts.WithLabelValues(service, string(kind)).Inc()
		c.logger.Warn("retrying after transient error",
			"service", service,
			"error_type", kind,
			"attempt", retries,
			"max_retries", strategy.MaxRetries,
			"delay", delay,
			"error", err)

		if err := c.sleep(ctx, delay); err != nil {
			return zero, &llmerrors.TimeoutError{Operation: service, Err: err}
		}
	}
}

func isLocalLimit(err error) bool {
	var rl *llmerrors.RateLimitError
	return errors.As(err, &rl) && rl.LocalLimit
}

func (c *Coordinator) strategyFor(kind llmerrors.ErrorType) (Strategy, bool) {
	switch kind {
	case llmerrors.ErrorTypeOverloaded, llmerrors.ErrorTypeRateLimit:
		s, ok := c.strategies[kind]
		return s, ok
	case llmerrors.ErrorTypeProvider, llmerrors.ErrorTypeNetwork:
		s, ok := c.strategies[KindTransient]
		return s, ok
	default:
		return Strategy{}, false
	}
}
