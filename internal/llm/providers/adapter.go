// Package providers adapts the OpenAI, Anthropic and Google Gemini HTTP APIs
// to transport.RequestClient and routes models to them by name prefix.
package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/ahrav/go-grader/internal/llm/transport"
)

// Supported provider identifiers. They also prefix circuit breaker service names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config holds per-provider connection settings.
type Config struct {
	APIKey   string            `json:"-" mapstructure:"api_key"`
	Endpoint string            `json:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`
	Headers  map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	Timeout  time.Duration     `json:"timeout" mapstructure:"timeout"`

	// CharsPerToken tunes CountTokens; zero selects the provider default.
	CharsPerToken float64 `json:"chars_per_token" mapstructure:"chars_per_token"`
}

// Adapter translates between the normalized request/response and one
// provider's wire format. It performs no I/O.
type Adapter interface {
	// Name returns the provider identifier.
	Name() string

	// Build creates the outgoing HTTP request.
	Build(ctx context.Context, req *transport.Request) (*http.Request, error)

	// Decode parses a 2xx body.
	Decode(header http.Header, body []byte) (*transport.Response, error)

	// DecodeError extracts the provider message and error code from a non-2xx body.
	DecodeError(body []byte) (message, code string)

	// CharsPerToken is the heuristic ratio used by CountTokens.
	CharsPerToken() float64
}

func applyHeaders(r *http.Request, req *transport.Request, extra map[string]string) {
	r.Header.Set("Content-Type", "application/json")
	if req.RequestID != "" {
		r.Header.Set("Idempotency-Key", req.RequestID)
	}
	for k, v := range extra {
		r.Header.Set(k, v)
	}
}

func requestIDs(header http.Header, keys ...string) []string {
	for _, k := range keys {
		if v := header.Get(k); v != "" {
			return []string{v}
		}
	}
	return nil
}

func charsPerToken(cfg Config, fallback float64) float64 {
	if cfg.CharsPerToken > 0 {
		return cfg.CharsPerToken
	}
	return fallback
}
