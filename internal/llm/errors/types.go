// Package errors defines the failure taxonomy shared by the request clients,
// the retry coordinator and the parsing chain.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType categorizes LLM operation failures for retry classification.
// Only the transient types feed the circuit breaker and are eligible for retry.
type ErrorType string

const (
	// ErrorTypeValidation indicates a malformed request (never retried).
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeUnsupportedModel indicates no adapter handles the model prefix (never retried).
	ErrorTypeUnsupportedModel ErrorType = "unsupported_model"

	// ErrorTypeOverloaded indicates the provider is overloaded, HTTP 529 (retryable).
	ErrorTypeOverloaded ErrorType = "overloaded"

	// ErrorTypeRateLimit indicates rate limit exceeded, HTTP 429 (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeProvider indicates provider service unavailable, 5xx (retryable).
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeNetwork indicates network connectivity issues (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeTimeout indicates the caller's deadline expired or the context was cancelled.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeCircuitBreaker indicates the circuit breaker rejected the call.
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"

	// ErrorTypeAuth indicates authentication failed (non-retryable).
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypePermission indicates insufficient permissions (non-retryable).
	ErrorTypePermission ErrorType = "permission_denied"

	// ErrorTypeQuota indicates account quota exceeded (non-retryable).
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeParsing indicates every parsing strategy failed.
	ErrorTypeParsing ErrorType = "parsing_failed"

	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Common LLM operation errors.
var (
	ErrValidation          = errors.New("request validation failed")
	ErrUnsupportedModel    = errors.New("unsupported model")
	ErrOverloaded          = errors.New("provider overloaded")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrProviderUnavailable = errors.New("provider service unavailable")
	ErrCircuitBreakerOpen  = errors.New("circuit breaker open")
	ErrTimeout             = errors.New("request timed out")
	ErrInvalidResponse     = errors.New("invalid provider response")
	ErrParsingFailed       = errors.New("response parsing failed")

	// ErrNotImplemented is returned by clients that do not provide a required operation.
	ErrNotImplemented = errors.New("operation not implemented")
)

// RetryAfterProvider is implemented by errors that carry a provider-supplied
// retry hint. A zero duration means no hint.
type RetryAfterProvider interface {
	GetRetryAfter() time.Duration
}

// ValidationError captures request validation failures with field context.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// Unwrap lets callers match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// UnsupportedModelError is returned when no request client handles the model prefix.
type UnsupportedModelError struct {
	Model string `json:"model"`
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("unsupported model %q: no request client registered for its prefix", e.Model)
}

// Unwrap lets callers match ErrUnsupportedModel.
func (e *UnsupportedModelError) Unwrap() error { return ErrUnsupportedModel }

// OverloadedError signals that the provider refused the call because it is
// overloaded (HTTP 529 or an overloaded_error body).
type OverloadedError struct {
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"` // Seconds, 0 when the provider sent no hint.
}

func (e *OverloadedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "overloaded"
	}
	return fmt.Sprintf("%s overloaded: %s", e.Provider, msg)
}

// GetRetryAfter implements RetryAfterProvider.
func (e *OverloadedError) GetRetryAfter() time.Duration {
	return secondsToDuration(e.RetryAfter)
}

// Unwrap lets callers match ErrOverloaded.
func (e *OverloadedError) Unwrap() error { return ErrOverloaded }

// RateLimitError provides rate limit context for backoff calculation.
type RateLimitError struct {
	Provider   string `json:"provider"`
	RetryAfter int    `json:"retry_after"` // Seconds to wait before retry
	Limit      int    `json:"limit"`
	LocalLimit bool   `json:"local_limit"` // Raised by the in-process token bucket.
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Provider, e.RetryAfter)
	}
	return "rate limit exceeded for " + e.Provider
}

// GetRetryAfter implements RetryAfterProvider.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	return secondsToDuration(e.RetryAfter)
}

// Unwrap lets callers match ErrRateLimitExceeded.
func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// ProviderError captures every other structured failure from a provider.
// Type decides whether the retry coordinator treats it as transient.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"`
	Cause      error     `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is an unclassified transient error.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeProvider, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// GetRetryAfter implements RetryAfterProvider.
func (e *ProviderError) GetRetryAfter() time.Duration {
	return secondsToDuration(e.RetryAfter)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// TimeoutError reports that the caller's context ended before the operation finished.
type TimeoutError struct {
	Operation string `json:"operation"`
	Err       error  `json:"-"`
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTimeout, e.Operation, e.Err)
}

// Is matches ErrTimeout in addition to the wrapped context error.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.Err }

// CircuitBreakerError indicates the breaker rejected a call before any I/O.
type CircuitBreakerError struct {
	Service string `json:"service"`
	State   string `json:"state"`
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %s for %s", e.State, e.Service)
}

// Unwrap lets callers match ErrCircuitBreakerOpen.
func (e *CircuitBreakerError) Unwrap() error { return ErrCircuitBreakerOpen }

// StrategyFailure records why one parsing strategy could not produce a result.
type StrategyFailure struct {
	Strategy string `json:"strategy"`
	Error    string `json:"error"`
}

// ParsingError aggregates the failures of every attempted parsing strategy.
// Error returns a short summary; Detailed returns the per-strategy breakdown.
type ParsingError struct {
	Message  string            `json:"message"`
	Failures []StrategyFailure `json:"failures"`
}

func (e *ParsingError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = ErrParsingFailed.Error()
	}
	return fmt.Sprintf("%s (%d strategies attempted)", msg, len(e.Failures))
}

// Detailed renders the top-level message followed by one line per strategy.
func (e *ParsingError) Detailed() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for i, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %d. %s: %s", i+1, f.Strategy, f.Error)
	}
	return b.String()
}

// Unwrap lets callers match ErrParsingFailed.
func (e *ParsingError) Unwrap() error { return ErrParsingFailed }

func secondsToDuration(s int) time.Duration {
	if s > 0 {
		return time.Duration(min(s, MaxRetryAfterSeconds)) * time.Second
	}
	return 0
}

// MaxRetryAfterSeconds bounds provider retry hints (one day).
const MaxRetryAfterSeconds = 24 * 60 * 60
