// Package llm exposes the single network-performing entry point for model
// calls. BaseClient validates a request, routes it to the provider adapter
// chosen by model prefix, runs the call under the retry coordinator and
// circuit breaker, records its cost and returns the enriched response.
package llm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-grader/internal/domain"
	"github.com/ahrav/go-grader/internal/llm/business"
	"github.com/ahrav/go-grader/internal/llm/circuitbreaker"
	"github.com/ahrav/go-grader/internal/llm/costtracking"
	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
	"github.com/ahrav/go-grader/internal/llm/retry"
	"github.com/ahrav/go-grader/internal/llm/transport"
)

var tracer = otel.Tracer("github.com/ahrav/go-grader/internal/llm")

// Generator is the call surface consumed by the pipeline and the parsing
// chain's reformat strategy.
type Generator interface {
	Generate(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Resolver picks the request client for a model.
type Resolver interface {
	Resolve(model string) (transport.RequestClient, string, error)
}

// CostTracker persists the cost of a successful call. Implementations must
// not fail the caller.
type CostTracker interface {
	Track(ctx context.Context, data costtracking.CostData, cc costtracking.CostContext)
}

// CostContextFactory stamps a tracking context for a request.
type CostContextFactory interface {
	GenerateContext(kind string, trackable, actor *domain.EntityRef, metadata map[string]any) costtracking.CostContext
	CalculateCost(ctx context.Context, model string, promptTokens, completionTokens int64) float64
}

// BaseClient orchestrates one logical model call.
type BaseClient struct {
	router   Resolver
	retry    *retry.Coordinator
	tracker  CostTracker
	recorder CostContextFactory
	now      func() time.Time
	logger   *slog.Logger
}

var _ Generator = (*BaseClient)(nil)

// Option customizes a BaseClient.
type Option func(*BaseClient)

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option { return func(c *BaseClient) { c.logger = l } }

// WithClock replaces time.Now for execution time measurement.
func WithClock(now func() time.Time) Option { return func(c *BaseClient) { c.now = now } }

// NewBaseClient wires the routing, resilience and cost tracking layers.
func NewBaseClient(
	router Resolver,
	coordinator *retry.Coordinator,
	tracker *costtracking.Tracker,
	opts ...Option,
) *BaseClient {
	c := &BaseClient{
		router:   router,
		retry:    coordinator,
		tracker:  tracker,
		recorder: tracker.Recorder(),
		now:      time.Now,
		logger:   slog.Default().With("component", "llm_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate validates req, sends it to the routed provider with retries and
// returns the response with execution time, model, token and cost metadata
// merged in. Request failures are logged and returned unchanged; cost
// tracking failures never reach the caller.
func (c *BaseClient) Generate(ctx context.Context, req *transport.Request) (resp *transport.Response, err error) {
	ctx, span := tracer.Start(ctx, "llm.generate", trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := req.Validate(); err != nil {
		c.logger.Warn("rejected invalid LLM request", "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.String("llm.kind", req.Kind),
		attribute.String("llm.request_id", req.RequestID),
	)

	client, provider, err := c.router.Resolve(req.Model)
	if err != nil {
		c.logger.Error("no provider for model",
			"request_id", req.RequestID,
			"model", req.Model,
			"error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("llm.provider", provider))

	estimate, err := client.CountTokens(req)
	if err != nil {
		c.logger.Error("token estimate failed",
			"request_id", req.RequestID,
			"provider", provider,
			"model", req.Model,
			"error", err)
		return nil, err
	}

	start := c.now()
	service := circuitbreaker.ServiceName(provider, req.Model)
	resp, err = c.retry.Execute(ctx, service, func(ctx context.Context) (*transport.Response, error) {
		return client.ExecuteRequest(ctx, req)
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			"request_id", req.RequestID,
			"provider", provider,
			"model", req.Model,
			"kind", req.Kind,
			"estimated_prompt_tokens", estimate,
			"error_type", string(llmerrors.Classify(err)),
			"error", err)
		return nil, err
	}
	if resp == nil {
		err = &llmerrors.ProviderError{
			Provider: provider,
			Type:     llmerrors.ErrorTypeProvider,
			Message:  "empty response",
			Cause:    llmerrors.ErrInvalidResponse,
		}
		c.logger.Error("LLM request returned no response",
			"request_id", req.RequestID,
			"provider", provider,
			"error", err)
		return nil, err
	}

	c.enrich(ctx, req, resp, provider, estimate, c.now().Sub(start))
	c.trackCost(ctx, req, resp)

	span.SetAttributes(
		attribute.Int64("llm.tokens.prompt", resp.Metadata.PromptTokens),
		attribute.Int64("llm.tokens.completion", resp.Metadata.CompletionTokens),
		attribute.Float64("llm.cost_usd", resp.Metadata.Cost),
	)
	return resp, nil
}

// enrich fills metadata the adapter left empty. Provider-reported token
// counts win over the local estimate.
func (c *BaseClient) enrich(
	ctx context.Context,
	req *transport.Request,
	resp *transport.Response,
	provider string,
	estimate int,
	elapsed time.Duration,
) {
	md := &resp.Metadata
	md.ExecutionTime = elapsed
	if md.Model == "" {
		md.Model = req.Model
	}
	if md.Provider == "" {
		md.Provider = provider
	}
	if md.PromptTokens == 0 {
		md.PromptTokens = int64(estimate)
	}
	if md.CompletionTokens == 0 && resp.Content != "" {
		md.CompletionTokens = int64(business.EstimateTokens(resp.Content, 0))
	}
	md.PromptTokens, md.CompletionTokens, md.TotalTokens = business.NormalizeUsage(
		md.PromptTokens, md.CompletionTokens, md.TotalTokens)
	md.Cost = c.recorder.CalculateCost(ctx, req.Model, md.PromptTokens, md.CompletionTokens)
}

func (c *BaseClient) trackCost(ctx context.Context, req *transport.Request, resp *transport.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cost tracking panicked",
				"request_id", req.RequestID,
				"panic", r)
		}
	}()

	cc := c.recorder.GenerateContext(req.Kind, req.Trackable, req.Actor, req.Metadata)
	c.tracker.Track(ctx, costtracking.CostData{
		RequestID:        req.RequestID,
		Model:            resp.Metadata.Model,
		PromptTokens:     resp.Metadata.PromptTokens,
		CompletionTokens: resp.Metadata.CompletionTokens,
		TotalTokens:      resp.Metadata.TotalTokens,
		Cost:             resp.Metadata.Cost,
	}, cc)
}
