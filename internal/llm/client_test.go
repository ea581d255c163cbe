package llm_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-grader/internal/domain"
	"github.com/ahrav/go-grader/internal/llm"
	"github.com/ahrav/go-grader/internal/llm/business"
	"github.com/ahrav/go-grader/internal/llm/circuitbreaker"
	"github.com/ahrav/go-grader/internal/llm/costtracking"
	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
	"github.com/ahrav/go-grader/internal/llm/providers"
	"github.com/ahrav/go-grader/internal/llm/ratelimit"
	"github.com/ahrav/go-grader/internal/llm/retry"
	"github.com/ahrav/go-grader/internal/llm/transport"
	"github.com/ahrav/go-grader/pkg/events"
)

// scriptedClient returns errs in order, then resp.
type scriptedClient struct {
	errs   []error
	resp   *transport.Response
	tokens int
	calls  atomic.Int32
}

func (c *scriptedClient) ExecuteRequest(context.Context, *transport.Request) (*transport.Response, error) {
	n := int(c.calls.Add(1))
	if n <= len(c.errs) {
		return nil, c.errs[n-1]
	}
	out := *c.resp
	return &out, nil
}

func (c *scriptedClient) CountTokens(*transport.Request) (int, error) { return c.tokens, nil }

type failingSink struct{ calls atomic.Int32 }

func (s *failingSink) Append(context.Context, events.Envelope) error {
	s.calls.Add(1)
	return errors.New("broker unreachable")
}

type harness struct {
	client  *llm.BaseClient
	repo    *costtracking.MemoryRepository
	breaker *circuitbreaker.Breaker
}

func newHarness(t *testing.T, clients map[string]transport.RequestClient, sink events.EventSink) harness {
	t.Helper()

	breaker := circuitbreaker.New(circuitbreaker.NewMemoryStore(), circuitbreaker.DefaultConfig())
	coord, err := retry.NewCoordinator(retry.Config{}, breaker,
		retry.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)

	repo := costtracking.NewMemoryRepository()
	recorder := costtracking.NewRecorder(repo,
		business.NewPricingResolver(nil, business.NewStaticPricing(nil)))
	tracker := costtracking.NewTracker(sink, recorder)

	return harness{
		client:  llm.NewBaseClient(providers.NewRouter(clients), coord, tracker),
		repo:    repo,
		breaker: breaker,
	}
}

func TestGenerate_OverloadedOnceThenSuccess(t *testing.T) {
	anthropic := &scriptedClient{
		errs: []error{&llmerrors.OverloadedError{Provider: providers.ProviderAnthropic, Model: "claude-3-5-haiku"}},
		resp: &transport.Response{
			Content:  `{"feedback":"ok"}`,
			Metadata: transport.Metadata{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
		},
		tokens: 90,
	}
	h := newHarness(t, map[string]transport.RequestClient{providers.ProviderAnthropic: anthropic}, nil)

	actor := domain.NewEntityRef("user", "42")
	trackable := domain.NewEntityRef("submission", "7")
	req := transport.NewRequest("Grade this essay.", "claude-3-5-haiku", "grading",
		transport.WithActor(actor), transport.WithTrackable(trackable))

	resp, err := h.client.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), anthropic.calls.Load())

	assert.Equal(t, "claude-3-5-haiku", resp.Metadata.Model)
	assert.Equal(t, providers.ProviderAnthropic, resp.Metadata.Provider)
	assert.Equal(t, int64(160), resp.Metadata.TotalTokens)
	assert.InDelta(t, business.NewStaticPricing(nil).CalculateCost("claude-3-5-haiku", 120, 40), resp.Metadata.Cost, 1e-9)

	entries := h.repo.Entries()
	require.Len(t, entries, 1, "exactly one cost entry per successful call")
	e := entries[0]
	assert.Equal(t, req.RequestID, e.RequestID)
	assert.Equal(t, resp.Metadata.PromptTokens, e.PromptTokens)
	assert.Equal(t, resp.Metadata.CompletionTokens, e.CompletionTokens)
	assert.Equal(t, resp.Metadata.TotalTokens, e.TotalTokens)
	assert.Equal(t, "user:42", e.Actor.String())
	assert.Equal(t, "submission:7", e.Trackable.String())

	st := h.breaker.State(context.Background(), circuitbreaker.ServiceName(providers.ProviderAnthropic, "claude-3-5-haiku"))
	assert.Equal(t, circuitbreaker.StateClosed, st.State)
	assert.Zero(t, st.Failures)
}

func TestGenerate_FailsFastWithoutIO(t *testing.T) {
	openai := &scriptedClient{resp: &transport.Response{Content: "x"}}
	h := newHarness(t, map[string]transport.RequestClient{providers.ProviderOpenAI: openai}, nil)

	tests := []struct {
		name   string
		req    *transport.Request
		target error
	}{
		{
			name:   "nil request",
			req:    nil,
			target: llmerrors.ErrValidation,
		},
		{
			name:   "blank prompt",
			req:    transport.NewRequest("   ", "gpt-4o", "grading"),
			target: llmerrors.ErrValidation,
		},
		{
			name:   "unknown model prefix",
			req:    transport.NewRequest("hi", "llama-3-70b", "grading"),
			target: llmerrors.ErrUnsupportedModel,
		},
		{
			name:   "provider not configured",
			req:    transport.NewRequest("hi", "gemini-1.5-pro", "grading"),
			target: llmerrors.ErrUnsupportedModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.client.Generate(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.target)
		})
	}
	assert.Zero(t, openai.calls.Load())
	assert.Empty(t, h.repo.Entries())
}

func TestGenerate_ExhaustedRetriesReturnOriginalError(t *testing.T) {
	overloaded := &llmerrors.OverloadedError{Provider: providers.ProviderOpenAI, Message: "busy"}
	openai := &scriptedClient{errs: []error{overloaded, overloaded, overloaded}, resp: &transport.Response{}}
	h := newHarness(t, map[string]transport.RequestClient{providers.ProviderOpenAI: openai}, nil)

	_, err := h.client.Generate(context.Background(), transport.NewRequest("hi", "gpt-4o", "grading"))
	require.Error(t, err)
	assert.Same(t, overloaded, err)
	assert.Equal(t, int32(2), openai.calls.Load())
	assert.Empty(t, h.repo.Entries())
}

func TestGenerate_NonTransientErrorIsNotRetried(t *testing.T) {
	authErr := &llmerrors.ProviderError{Provider: providers.ProviderOpenAI, StatusCode: 401, Type: llmerrors.ErrorTypeAuth}
	openai := &scriptedClient{errs: []error{authErr}, resp: &transport.Response{}}
	h := newHarness(t, map[string]transport.RequestClient{providers.ProviderOpenAI: openai}, nil)

	_, err := h.client.Generate(context.Background(), transport.NewRequest("hi", "gpt-4o", "grading"))
	assert.Same(t, authErr, err)
	assert.Equal(t, int32(1), openai.calls.Load())
}

func TestGenerate_FillsMissingUsageFromEstimate(t *testing.T) {
	google := &scriptedClient{resp: &transport.Response{Content: "abcdefgh"}, tokens: 25}
	h := newHarness(t, map[string]transport.RequestClient{providers.ProviderGoogle: google}, nil)

	resp, err := h.client.Generate(context.Background(), transport.NewRequest("hi", "gemini-1.5-flash", "grading"))
	require.NoError(t, err)
	assert.Equal(t, int64(25), resp.Metadata.PromptTokens)
	assert.Equal(t, int64(2), resp.Metadata.CompletionTokens)
	assert.Equal(t, int64(27), resp.Metadata.TotalTokens)
	assert.Positive(t, resp.Metadata.Cost)
}

func TestGenerate_CostPublishFailureFallsBackToDirectRecord(t *testing.T) {
	sink := &failingSink{}
	openai := &scriptedClient{resp: &transport.Response{
		Content:  "ok",
		Metadata: transport.Metadata{PromptTokens: 10, CompletionTokens: 5},
	}}
	h := newHarness(t, map[string]transport.RequestClient{providers.ProviderOpenAI: openai}, sink)

	resp, err := h.client.Generate(context.Background(), transport.NewRequest("hi", "gpt-4o-mini", "grading"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(1), sink.calls.Load())
	assert.Len(t, h.repo.Entries(), 1)
}

func TestGenerate_LocalThrottlingKeepsCircuitClosed(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Unix(1_700_000_000, 0).UnixNano())
	limiter, err := ratelimit.New(ratelimit.Config{RequestsPerSecond: 1, Burst: 1},
		ratelimit.WithClock(func() time.Time { return time.Unix(0, now.Load()) }))
	require.NoError(t, err)

	anthropic := &scriptedClient{resp: &transport.Response{Content: "graded"}, tokens: 10}
	limited := limiter.Middleware(providers.ProviderAnthropic)(anthropic)
	h := newHarness(t, map[string]transport.RequestClient{providers.ProviderAnthropic: limited}, nil)
	ctx := context.Background()
	newReq := func() *transport.Request {
		return transport.NewRequest("Grade this essay.", "claude-3-5-haiku", "grading")
	}

	_, err = h.client.Generate(ctx, newReq())
	require.NoError(t, err)

	_, err = h.client.Generate(ctx, newReq())
	var rl *llmerrors.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.True(t, rl.LocalLimit)
	assert.Equal(t, int32(1), anthropic.calls.Load(), "throttled calls never reach the provider")

	st := h.breaker.State(ctx, circuitbreaker.ServiceName(providers.ProviderAnthropic, "claude-3-5-haiku"))
	assert.Equal(t, circuitbreaker.StateClosed, st.State)
	assert.Zero(t, st.Failures)

	now.Add(int64(2 * time.Second))
	_, err = h.client.Generate(ctx, newReq())
	require.NoError(t, err)
	assert.Equal(t, int32(2), anthropic.calls.Load())
}

func TestGenerate_UnimplementedClientFailsLoudly(t *testing.T) {
	h := newHarness(t, map[string]transport.RequestClient{
		providers.ProviderOpenAI: transport.UnimplementedClient{Name: "openai"},
	}, nil)

	_, err := h.client.Generate(context.Background(), transport.NewRequest("hi", "gpt-4o", "grading"))
	assert.ErrorIs(t, err, llmerrors.ErrNotImplemented)
}

func TestLoggingClient_RedactsPrompts(t *testing.T) {
	tests := []struct {
		name     string
		redact   bool
		contains string
		excludes string
	}{
		{name: "redacted", redact: true, contains: "prompt_length=", excludes: "secret essay"},
		{name: "preview", redact: false, contains: "secret essay", excludes: "prompt_length="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			inner := &scriptedClient{resp: &transport.Response{Content: "fine"}, tokens: 3}
			c := transport.Chain(inner, llm.LoggingMiddleware("openai",
				llm.WithRedactedPrompts(tt.redact), llm.WithLoggingLogger(logger)))

			_, err := c.ExecuteRequest(context.Background(), transport.NewRequest("secret essay", "gpt-4o", "grading"))
			require.NoError(t, err)
			n, err := c.CountTokens(transport.NewRequest("x", "gpt-4o", "grading"))
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			out := buf.String()
			assert.Contains(t, out, "LLM request started")
			assert.Contains(t, out, "LLM request completed")
			assert.Contains(t, out, tt.contains)
			assert.NotContains(t, out, tt.excludes)
		})
	}
}

func TestLoggingClient_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	inner := &scriptedClient{errs: []error{&llmerrors.RateLimitError{Provider: "openai", RetryAfter: 3}}}
	c := llm.NewLoggingClient(inner, "openai", llm.WithLoggingLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	_, err := c.ExecuteRequest(context.Background(), transport.NewRequest("hi", "gpt-4o", "grading"))
	assert.ErrorIs(t, err, llmerrors.ErrRateLimitExceeded)
	assert.Contains(t, buf.String(), "error_type=rate_limit")
	assert.Contains(t, buf.String(), "retryable=true")
}
