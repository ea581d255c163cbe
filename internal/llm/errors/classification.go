package errors

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Classify maps an error onto the ErrorType taxonomy.
// Typed errors are checked first, then sentinels, then context errors.
// Anything else is ErrorTypeUnknown and is never retried.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	var (
		overloaded  *OverloadedError
		rateLimit   *RateLimitError
		provider    *ProviderError
		validation  *ValidationError
		unsupported *UnsupportedModelError
		timeout     *TimeoutError
		breaker     *CircuitBreakerError
		parsing     *ParsingError
		workflow    *WorkflowError
	)

	switch {
	case errors.As(err, &overloaded):
		return ErrorTypeOverloaded
	case errors.As(err, &rateLimit):
		return ErrorTypeRateLimit
	case errors.As(err, &validation):
		return ErrorTypeValidation
	case errors.As(err, &unsupported):
		return ErrorTypeUnsupportedModel
	case errors.As(err, &timeout):
		return ErrorTypeTimeout
	case errors.As(err, &breaker):
		return ErrorTypeCircuitBreaker
	case errors.As(err, &parsing):
		return ErrorTypeParsing
	case errors.As(err, &provider):
		return provider.Type
	case errors.As(err, &workflow):
		return workflow.Type
	}

	switch {
	case errors.Is(err, ErrOverloaded):
		return ErrorTypeOverloaded
	case errors.Is(err, ErrRateLimitExceeded):
		return ErrorTypeRateLimit
	case errors.Is(err, ErrProviderUnavailable):
		return ErrorTypeProvider
	case errors.Is(err, ErrCircuitBreakerOpen):
		return ErrorTypeCircuitBreaker
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorTypeTimeout
	}

	return ErrorTypeUnknown
}

// IsTransient reports whether err belongs to a class the retry coordinator
// retries: overloaded, rate limited, or an unclassified transient provider failure.
func IsTransient(err error) bool {
	switch Classify(err) {
	case ErrorTypeOverloaded, ErrorTypeRateLimit, ErrorTypeProvider, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// IsOverloaded reports whether err is a provider overload.
func IsOverloaded(err error) bool {
	return Classify(err) == ErrorTypeOverloaded
}

// IsRateLimitError reports whether err is a rate limit rejection.
func IsRateLimitError(err error) bool {
	return Classify(err) == ErrorTypeRateLimit
}

// RetryAfter extracts the provider-supplied retry hint, or zero.
func RetryAfter(err error) time.Duration {
	var p RetryAfterProvider
	if errors.As(err, &p) {
		return p.GetRetryAfter()
	}
	return 0
}

// ClassifyLLMError transforms an error into a WorkflowError with retry guidance
// for the Temporal boundary.
func ClassifyLLMError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr
	}

	t := Classify(err)
	if t == ErrorTypeUnknown {
		t = classifyMessage(err)
	}

	out := &WorkflowError{
		Type:      t,
		Message:   err.Error(),
		Code:      strings.ToUpper(string(t)),
		Retryable: IsTransient(err),
		Cause:     err,
	}

	var provider *ProviderError
	if errors.As(err, &provider) {
		out.Code = provider.Code
		out.Details = map[string]any{
			"provider":    provider.Provider,
			"status_code": provider.StatusCode,
		}
	}
	if ra := RetryAfter(err); ra > 0 {
		if out.Details == nil {
			out.Details = map[string]any{}
		}
		out.Details["retry_after"] = ra.Seconds()
	}

	return out
}

// classifyMessage is the last resort for untyped errors.
func classifyMessage(err error) ErrorType {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication"):
		return ErrorTypeAuth
	case strings.Contains(msg, "forbidden") || strings.Contains(msg, "permission"):
		return ErrorTypePermission
	case strings.Contains(msg, "quota"):
		return ErrorTypeQuota
	default:
		return ErrorTypeUnknown
	}
}
