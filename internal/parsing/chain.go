// Package parsing turns raw grading responses into structured results.
//
// Parse tries a strict JSON decode first. When that fails, or the object is
// missing the minimal shape, an ordered list of fallback strategies runs and
// the first success wins. Overload errors from a strategy are returned
// unchanged so the caller's retry logic can act on them; every other
// strategy failure, including a panic, is logged and the chain moves on.
package parsing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-grader/internal/domain"
	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
)

// NoResponseMessage tags the result for blank input.
const NoResponseMessage = "no response to parse"

const fastPath = "strict_json"

var errNilResult = errors.New("strategy returned no result")

var attempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "grader_parse_attempts_total",
	Help: "Parsing attempts by strategy and outcome.",
}, []string{"strategy", "outcome"})

// Chain runs the fast path and then each strategy in order.
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
}

// Option customizes a Chain.
type Option func(*Chain)

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option { return func(c *Chain) { c.logger = l } }

// NewChain builds strategies from kinds; unknown kinds are rejected here
// rather than at parse time. A nil kinds slice selects DefaultKinds.
func NewChain(kinds []Kind, deps Deps, opts ...Option) (*Chain, error) {
	if kinds == nil {
		kinds = DefaultKinds()
	}
	strategies, err := Build(kinds, deps)
	if err != nil {
		return nil, err
	}
	return FromStrategies(strategies, opts...), nil
}

// FromStrategies builds a chain over already-constructed strategies.
func FromStrategies(strategies []Strategy, opts ...Option) *Chain {
	c := &Chain{
		strategies: strategies,
		logger:     slog.Default().With("component", "parsing"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Strategies lists the fallback strategy names in order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Parse returns a normalized result. Blank input yields an error-tagged
// result and no strategy runs. When every strategy fails the error is a
// *llmerrors.ParsingError listing each failure.
func (c *Chain) Parse(ctx context.Context, raw string) (*domain.GradingResult, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.ErrorResult(NoResponseMessage), nil
	}

	if res, ok := strictDecode(raw); ok {
		attempts.WithLabelValues(fastPath, "success").Inc()
		return normalizeResult(res), nil
	}
	attempts.WithLabelValues(fastPath, "miss").Inc()

	failures := make([]llmerrors.StrategyFailure, 0, len(c.strategies))
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, &llmerrors.TimeoutError{Operation: "parse", Err: err}
		}

		res, err := c.run(ctx, s, raw)
		if err == nil {
			attempts.WithLabelValues(s.Name(), "success").Inc()
			c.logger.Debug("response parsed", "strategy", s.Name(), "prior_failures", len(failures))
			return normalizeResult(res), nil
		}
		if llmerrors.IsOverloaded(err) {
			attempts.WithLabelValues(s.Name(), "overloaded").Inc()
			return nil, err
		}

		attempts.WithLabelValues(s.Name(), "failure").Inc()
		c.logger.Warn("parsing strategy failed", "strategy", s.Name(), "error", err)
		failures = append(failures, llmerrors.StrategyFailure{Strategy: s.Name(), Error: err.Error()})
	}

	return nil, &llmerrors.ParsingError{
		Message:  "all parsing strategies failed",
		Failures: failures,
	}
}

// run invokes s, converting a panic into an ordinary failure.
func (c *Chain) run(ctx context.Context, s Strategy, raw string) (res *domain.GradingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("strategy panicked: %v", r)
		}
	}()

	res, err = s.Parse(ctx, raw)
	if err == nil && res == nil {
		err = errNilResult
	}
	return res, err
}

func strictDecode(raw string) (*domain.GradingResult, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &m); err != nil || !hasMinimalShape(m) {
		return nil, false
	}
	res, err := fromMap(m)
	if err != nil {
		return nil, false
	}
	return res, true
}
