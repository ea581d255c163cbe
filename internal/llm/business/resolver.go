package business

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ahrav/go-grader/internal/llm/cache"
)

// DefaultModelKey names the persisted fallback row.
const DefaultModelKey = "default"

// DefaultRateTTL bounds how long a resolved rate is served from cache.
const DefaultRateTTL = time.Hour

// ErrRateNotFound is returned by a PricingStore with no active row for a model.
var ErrRateNotFound = errors.New("pricing rate not found")

// PricingStore reads admin-editable rates. Only rows marked active are returned.
type PricingStore interface {
	ActiveRate(ctx context.Context, model string) (Rate, error)
}

// PricingResolver prefers persisted pricing and falls back to the static table.
//
// Resolution order: the model's active persisted row, the static table when
// it knows the model, the persisted "default" row, then DefaultRate.
// Store errors are logged and treated as a miss.
type PricingResolver struct {
	store  PricingStore
	static *StaticPricing
	cache  cache.Cache[string, Rate]
	ttl    time.Duration
	logger *slog.Logger
}

// ResolverOption customizes a PricingResolver.
type ResolverOption func(*PricingResolver)

// WithRateCache replaces the in-memory rate cache.
func WithRateCache(c cache.Cache[string, Rate]) ResolverOption {
	return func(r *PricingResolver) { r.cache = c }
}

// WithRateTTL overrides DefaultRateTTL.
func WithRateTTL(ttl time.Duration) ResolverOption {
	return func(r *PricingResolver) { r.ttl = ttl }
}

// NewPricingResolver builds a resolver. store may be nil, in which case only
// the static table is consulted.
func NewPricingResolver(store PricingStore, static *StaticPricing, opts ...ResolverOption) *PricingResolver {
	if static == nil {
		static = NewStaticPricing(nil)
	}
	r := &PricingResolver{
		store:  store,
		static: static,
		ttl:    DefaultRateTTL,
		logger: slog.Default().With("component", "pricing"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.NewMemory[string, Rate]()
	}
	return r
}

// Rate resolves the price for model.
func (r *PricingResolver) Rate(ctx context.Context, model string) Rate {
	if rate, ok := r.cache.Get(ctx, model); ok {
		return rate
	}

	rate := r.resolve(ctx, model)
	r.cache.Set(ctx, model, rate, r.ttl)
	return rate
}

// CalculateCost prices a request for model.
func (r *PricingResolver) CalculateCost(ctx context.Context, model string, promptTokens, completionTokens int64) float64 {
	return r.Rate(ctx, model).Cost(promptTokens, completionTokens)
}

// Invalidate drops the cached rate for model, e.g. after an admin edit.
func (r *PricingResolver) Invalidate(ctx context.Context, model string) {
	r.cache.Delete(ctx, model)
}

func (r *PricingResolver) resolve(ctx context.Context, model string) Rate {
	if rate, ok := r.fromStore(ctx, model); ok {
		return rate
	}
	if rate, ok := r.static.Lookup(model); ok {
		return rate
	}
	if rate, ok := r.fromStore(ctx, DefaultModelKey); ok {
		return rate
	}
	return r.static.Rate(model)
}

func (r *PricingResolver) fromStore(ctx context.Context, model string) (Rate, bool) {
	if r.store == nil {
		return Rate{}, false
	}
	rate, err := r.store.ActiveRate(ctx, model)
	switch {
	case err == nil:
		return rate, true
	case errors.Is(err, ErrRateNotFound):
		return Rate{}, false
	default:
		r.logger.Warn("pricing lookup failed, using fallback", "model", model, "error", err)
		return Rate{}, false
	}
}
