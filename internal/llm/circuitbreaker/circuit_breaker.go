// Package circuitbreaker tracks per-service failure state in a shared store so
// that every process talking to a provider observes the same open circuit.
package circuitbreaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Defaults for a breaker constructed without explicit configuration.
const (
	DefaultFailureThreshold = 3
	DefaultTimeout          = 120 * time.Second

	keyPrefix = "circuit_breaker:"
)

// State is the breaker position for one service.
type State string

const (
	// StateClosed allows requests through.
	StateClosed State = "closed"
	// StateOpen blocks requests until the timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen permits probes; one success closes, one failure reopens.
	StateHalfOpen State = "half_open"
)

func (s State) valid() bool {
	return s == StateClosed || s == StateOpen || s == StateHalfOpen
}

// ServiceState is the persisted record for one service key.
// LastFailure is unix milliseconds; zero means never failed.
type ServiceState struct {
	State       State `json:"state"`
	Failures    int   `json:"failures"`
	LastFailure int64 `json:"last_failure"`
}

func closedState() ServiceState {
	return ServiceState{State: StateClosed}
}

// Config controls the failure threshold and open timeout.
type Config struct {
	FailureThreshold int           `json:"failure_threshold" mapstructure:"failure_threshold"`
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns threshold 3 and a 120s open timeout.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		Timeout:          DefaultTimeout,
	}
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// Breaker implements the closed/open/half-open state machine over a Store.
// Every operation is a plain read followed by a write. Concurrent callers
// may race and let an extra probe through; that is accepted.
type Breaker struct {
	store  Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates a breaker over store. Zero config fields take the defaults.
func New(store Store, cfg Config, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	b := &Breaker{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "circuit_breaker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServiceName builds the breaker key for a provider/model pair, e.g. "anthropic:claude-3-5-haiku".
func ServiceName(provider, model string) string {
	return provider + ":" + model
}

// AllowRequest reports whether a call to service may proceed.
// An open circuit whose timeout has elapsed moves to half-open and allows the probe.
func (b *Breaker) AllowRequest(ctx context.Context, service string) bool {
	st := b.load(ctx, service)

	switch st.State {
	case StateOpen:
		elapsed := b.now().Sub(time.UnixMilli(st.LastFailure))
		if elapsed <= b.cfg.Timeout {
			return false
		}
		st.State = StateHalfOpen
		b.save(ctx, service, st)
		b.transition(service, StateOpen, StateHalfOpen, st)
		return true
	default:
		return true
	}
}

// RecordSuccess closes a half-open circuit and clears the failure counter.
// It has no effect on an open circuit.
func (b *Breaker) RecordSuccess(ctx context.Context, service string) {
	st := b.load(ctx, service)

	switch st.State {
	case StateHalfOpen:
		b.save(ctx, service, closedState())
		b.transition(service, StateHalfOpen, StateClosed, st)
	case StateClosed:
		if st.Failures != 0 {
			b.save(ctx, service, closedState())
		}
	}
}

// RecordFailure counts a failure. A closed circuit opens at the threshold;
// a half-open circuit reopens immediately. Failures reported while already
// open refresh the timestamp so the cooldown restarts.
func (b *Breaker) RecordFailure(ctx context.Context, service string) {
	st := b.load(ctx, service)
	now := b.now().UnixMilli()

	switch st.State {
	case StateClosed:
		st.Failures++
		if st.Failures >= b.cfg.FailureThreshold {
			st.State = StateOpen
			st.LastFailure = now
			b.save(ctx, service, st)
			b.transition(service, StateClosed, StateOpen, st)
			return
		}
		b.save(ctx, service, st)
	case StateHalfOpen:
		st.Failures++
		st.State = StateOpen
		st.LastFailure = now
		b.save(ctx, service, st)
		b.transition(service, StateHalfOpen, StateOpen, st)
	case StateOpen:
		st.Failures++
		st.LastFailure = now
		b.save(ctx, service, st)
	}
}

// State returns the current record for service, defaulting to closed.
func (b *Breaker) State(ctx context.Context, service string) ServiceState {
	return b.load(ctx, service)
}

// Reset forces service back to closed.
func (b *Breaker) Reset(ctx context.Context, service string) {
	prev := b.load(ctx, service)
	b.save(ctx, service, closedState())
	if prev.State != StateClosed {
		b.transition(service, prev.State, StateClosed, closedState())
	}
}

// load reads the state and self-heals anything unreadable to closed.
func (b *Breaker) load(ctx context.Context, service string) ServiceState {
	raw, err := b.store.Get(ctx, keyPrefix+service)
	if err != nil {
		b.logger.Warn("circuit state read failed, assuming closed", "service", service, "error", err)
		return closedState()
	}
	if raw == nil {
		return closedState()
	}

	var st ServiceState
	if err := json.Unmarshal(raw, &st); err != nil || !st.State.valid() || st.Failures < 0 {
		if err == nil {
			err = fmt.Errorf("invalid state %q with %d failures", st.State, st.Failures)
		}
		b.logger.Warn("corrupted circuit state, resetting to closed", "service", service, "error", err)
		healed := closedState()
		b.save(ctx, service, healed)
		return healed
	}
	return st
}

// save writes the state. Write failures are logged; the next read self-heals.
func (b *Breaker) save(ctx context.Context, service string, st ServiceState) {
	raw, err := json.Marshal(st)
	if err != nil {
		b.logger.Error("encode circuit state", "service", service, "error", err)
		return
	}
	if err := b.store.Set(ctx, keyPrefix+service, raw); err != nil {
		b.logger.Warn("circuit state write failed", "service", service, "error", err)
	}
}

func (b *Breaker) transition(service string, from, to State, st ServiceState) {
	transitionsTotal.WithLabelValues(service, string(from), string(to)).Inc()
	b.logger.Info("circuit breaker state transition",
		"service", service,
		"from", from,
		"to", to,
		"failures", st.Failures,
	)
}
