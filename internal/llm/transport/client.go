package transport

import (
	"context"
	"fmt"

	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
)

// RequestClient is the contract a provider adapter satisfies.
// ExecuteRequest performs one wire call with no retries of its own and
// reports failures using the llmerrors taxonomy. CountTokens estimates the
// prompt size the way the provider would count it.
type RequestClient interface {
	ExecuteRequest(ctx context.Context, req *Request) (*Response, error)
	CountTokens(req *Request) (int, error)
}

// Middleware decorates a RequestClient with cross-cutting behavior.
type Middleware func(RequestClient) RequestClient

// Chain wraps client so that the first middleware is outermost.
func Chain(client RequestClient, middlewares ...Middleware) RequestClient {
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}

// UnimplementedClient fails every call with ErrNotImplemented. Embed it in a
// partial adapter so unimplemented operations fail loudly.
type UnimplementedClient struct {
	Name string
}

// ExecuteRequest always fails.
func (u UnimplementedClient) ExecuteRequest(context.Context, *Request) (*Response, error) {
	return nil, fmt.Errorf("%w: %s.ExecuteRequest", llmerrors.ErrNotImplemented, u.label())
}

// CountTokens always fails.
func (u UnimplementedClient) CountTokens(*Request) (int, error) {
	return 0, fmt.Errorf("%w: %s.CountTokens", llmerrors.ErrNotImplemented, u.label())
}

func (u UnimplementedClient) label() string {
	if u.Name == "" {
		return "client"
	}
	return u.Name
}
