package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
	"github.com/ahrav/go-grader/internal/llm/transport"
)

const previewLength = 200

// LoggingClient logs every provider attempt passing through it. It forwards
// only the RequestClient methods.
type LoggingClient struct {
	next          transport.RequestClient
	provider      string
	logger        *slog.Logger
	redactPrompts bool
	now           func() time.Time
}

var _ transport.RequestClient = (*LoggingClient)(nil)

// LoggingOption customizes a LoggingClient.
type LoggingOption func(*LoggingClient)

// WithRedactedPrompts logs content lengths instead of previews.
func WithRedactedPrompts(redact bool) LoggingOption {
	return func(c *LoggingClient) { c.redactPrompts = redact }
}

// WithLoggingLogger replaces the default component logger.
func WithLoggingLogger(l *slog.Logger) LoggingOption {
	return func(c *LoggingClient) { c.logger = l }
}

// NewLoggingClient wraps next.
func NewLoggingClient(next transport.RequestClient, provider string, opts ...LoggingOption) *LoggingClient {
	c := &LoggingClient{
		next:     next,
		provider: provider,
		logger:   slog.Default().With("component", "llm_logging"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoggingMiddleware adapts NewLoggingClient to transport.Chain.
func LoggingMiddleware(provider string, opts ...LoggingOption) transport.Middleware {
	return func(next transport.RequestClient) transport.RequestClient {
		return NewLoggingClient(next, provider, opts...)
	}
}

// ExecuteRequest logs the attempt, delegates and logs its outcome.
func (c *LoggingClient) ExecuteRequest(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	start := c.now()
	c.logRequest(req)

	resp, err := c.next.ExecuteRequest(ctx, req)
	duration := c.now().Sub(start)
	if err != nil {
		c.logError(req, err, duration)
		return nil, err
	}
	c.logSuccess(req, resp, duration)
	return resp, nil
}

// CountTokens delegates unchanged.
func (c *LoggingClient) CountTokens(req *transport.Request) (int, error) {
	return c.next.CountTokens(req)
}

func (c *LoggingClient) logRequest(req *transport.Request) {
	fields := []any{
		"request_id", req.RequestID,
		"provider", c.provider,
		"model", req.Model,
		"kind", req.Kind,
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature,
	}
	if c.redactPrompts {
		fields = append(fields, "prompt_length", len(req.Prompt))
	} else {
		fields = append(fields, "prompt_preview", preview(req.Prompt))
	}
	c.logger.Info("LLM request started", fields...)
}

func (c *LoggingClient) logError(req *transport.Request, err error, duration time.Duration) {
	c.logger.Error("LLM request failed",
		"request_id", req.RequestID,
		"provider", c.provider,
		"model", req.Model,
		"duration_ms", duration.Milliseconds(),
		"error_type", string(llmerrors.Classify(err)),
		"retryable", llmerrors.IsTransient(err),
		"error", err)
}

func (c *LoggingClient) logSuccess(req *transport.Request, resp *transport.Response, duration time.Duration) {
	fields := []any{
		"request_id", req.RequestID,
		"provider", c.provider,
		"model", req.Model,
		"duration_ms", duration.Milliseconds(),
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Metadata.PromptTokens,
		"completion_tokens", resp.Metadata.CompletionTokens,
		"total_tokens", resp.Metadata.TotalTokens,
		"provider_request_ids", strings.Join(resp.ProviderRequestIDs, ","),
	}
	if c.redactPrompts {
		fields = append(fields, "response_length", len(resp.Content))
	} else {
		fields = append(fields, "response_preview", preview(resp.Content))
	}
	c.logger.Info("LLM request completed", fields...)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength]) + "..."
}
