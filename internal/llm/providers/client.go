package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ahrav/go-grader/internal/llm/business"
	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
	"github.com/ahrav/go-grader/internal/llm/transport"
)

// DefaultTimeout bounds one provider call when neither the request nor the
// provider config sets a timeout.
const DefaultTimeout = 120 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Client executes requests against one provider. It performs exactly one
// HTTP round trip per ExecuteRequest; retries belong to the caller.
type Client struct {
	adapter Adapter
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient wraps adapter with an HTTP transport.
func NewClient(adapter Adapter, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		adapter: adapter,
		http:    &http.Client{},
		timeout: timeout,
		logger:  slog.Default().With("component", "provider", "provider", adapter.Name()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider identifier.
func (c *Client) Name() string { return c.adapter.Name() }

// ExecuteRequest implements transport.RequestClient.
func (c *Client) ExecuteRequest(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.adapter.Build(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.adapter.Name(), err)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, callCtx, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(ctx, callCtx, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg, code := c.adapter.DecodeError(body)
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return nil, statusError(c.adapter.Name(), req.Model, httpResp.StatusCode, httpResp.Header, msg, code)
	}

	resp, err := c.adapter.Decode(httpResp.Header, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", llmerrors.ErrInvalidResponse, c.adapter.Name(), err)
	}
	resp.Metadata.Provider = c.adapter.Name()
	if resp.Metadata.Model == "" {
		resp.Metadata.Model = req.Model
	}
	resp.Headers = httpResp.Header
	resp.RawBody = body
	return resp, nil
}

// CountTokens implements transport.RequestClient with a character heuristic.
func (c *Client) CountTokens(req *transport.Request) (int, error) {
	if req == nil {
		return 0, fmt.Errorf("%w: nil request", llmerrors.ErrValidation)
	}
	text := req.Prompt
	if req.SystemPrompt != "" {
		text = req.SystemPrompt + "\n" + req.Prompt
	}
	return business.EstimateTokens(text, c.adapter.CharsPerToken()), nil
}

// transportError distinguishes caller cancellation, our own call timeout and
// network failures. Only the last is transient.
func (c *Client) transportError(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return &llmerrors.TimeoutError{Operation: c.adapter.Name(), Err: parent.Err()}
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		c.logger.Warn("provider call timed out", "timeout", c.timeout, "error", err)
		return &llmerrors.ProviderError{
			Provider: c.adapter.Name(),
			Message:  "request timed out",
			Type:     llmerrors.ErrorTypeNetwork,
			Cause:    err,
		}
	}
	return &llmerrors.ProviderError{
		Provider: c.adapter.Name(),
		Message:  err.Error(),
		Type:     llmerrors.ErrorTypeNetwork,
		Cause:    err,
	}
}
