package providers

import (
	"fmt"
	"net/http"
	"strings"

	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
	"github.com/ahrav/go-grader/internal/llm/transport"
)

// modelPrefixes maps model name prefixes to providers, checked in order.
var modelPrefixes = []struct {
	prefix   string
	provider string
}{
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"claude", ProviderAnthropic},
	{"gemini", ProviderGoogle},
}

// ProviderFor returns the provider that serves model.
func ProviderFor(model string) (string, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, p := range modelPrefixes {
		if strings.HasPrefix(m, p.prefix) {
			return p.provider, true
		}
	}
	return "", false
}

// Router resolves a model name to the client for its provider.
type Router struct {
	clients map[string]transport.RequestClient
}

// NewRouter builds a router over already-constructed clients keyed by provider.
func NewRouter(clients map[string]transport.RequestClient) *Router {
	r := &Router{clients: make(map[string]transport.RequestClient, len(clients))}
	for name, c := range clients {
		r.clients[name] = c
	}
	return r
}

// NewHTTPRouter builds clients for every configured provider and wraps each
// with middlewares (first is outermost). The middleware factory receives the
// provider name so per-provider decorators such as rate limiters can be keyed.
func NewHTTPRouter(
	configs map[string]Config,
	hc *http.Client,
	middleware func(provider string) []transport.Middleware,
) (*Router, error) {
	clients := make(map[string]transport.RequestClient, len(configs))
	for name, cfg := range configs {
		var adapter Adapter
		switch name {
		case ProviderOpenAI:
			adapter = NewOpenAIAdapter(cfg)
		case ProviderAnthropic:
			adapter = NewAnthropicAdapter(cfg)
		case ProviderGoogle:
			adapter = NewGoogleAdapter(cfg)
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}

		var opts []ClientOption
		if hc != nil {
			opts = append(opts, WithHTTPClient(hc))
		}
		var client transport.RequestClient = NewClient(adapter, cfg.Timeout, opts...)
		if middleware != nil {
			client = transport.Chain(client, middleware(name)...)
		}
		clients[name] = client
	}
	return NewRouter(clients), nil
}

// Resolve returns the client and provider name for model. Models with an
// unknown prefix, or whose provider is not configured, yield
// *llmerrors.UnsupportedModelError.
func (r *Router) Resolve(model string) (transport.RequestClient, string, error) {
	provider, ok := ProviderFor(model)
	if !ok {
		return nil, "", &llmerrors.UnsupportedModelError{Model: model}
	}
	client, ok := r.clients[provider]
	if !ok {
		return nil, "", &llmerrors.UnsupportedModelError{Model: model}
	}
	return client, provider, nil
}

// Providers lists the configured provider names.
func (r *Router) Providers() []string {
	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	return out
}
