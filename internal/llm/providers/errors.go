package providers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
)

// StatusOverloaded is the non-standard status Anthropic uses for overload.
const StatusOverloaded = 529

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(provider, model string, status int, header http.Header, message, code string) error {
	retryAfter := parseRetryAfter(header.Get("Retry-After"), time.Now())
	lowerCode := strings.ToLower(code)

	switch {
	case status == StatusOverloaded || strings.Contains(lowerCode, "overloaded"):
		return &llmerrors.OverloadedError{
			Provider:   provider,
			Model:      model,
			Message:    message,
			RetryAfter: retryAfter,
		}
	case status == http.StatusTooManyRequests && !strings.Contains(lowerCode, "quota") &&
		!strings.Contains(lowerCode, "insufficient"):
		limit, _ := strconv.Atoi(header.Get("X-RateLimit-Limit-Requests"))
		return &llmerrors.RateLimitError{
			Provider:   provider,
			RetryAfter: retryAfter,
			Limit:      limit,
		}
	}

	return &llmerrors.ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		Code:       code,
		Type:       classifyStatus(status, lowerCode),
		RetryAfter: retryAfter,
	}
}

// classifyStatus checks the provider code before the HTTP status.
func classifyStatus(status int, lowerCode string) llmerrors.ErrorType {
	switch {
	case strings.Contains(lowerCode, "quota"), strings.Contains(lowerCode, "insufficient"):
		return llmerrors.ErrorTypeQuota
	case strings.Contains(lowerCode, "auth"), strings.Contains(lowerCode, "unauthenticated"):
		return llmerrors.ErrorTypeAuth
	case strings.Contains(lowerCode, "permission"):
		return llmerrors.ErrorTypePermission
	}

	switch {
	case status == http.StatusUnauthorized:
		return llmerrors.ErrorTypeAuth
	case status == http.StatusForbidden:
		return llmerrors.ErrorTypePermission
	case status == http.StatusRequestTimeout, status >= http.StatusInternalServerError:
		return llmerrors.ErrorTypeProvider
	case status >= http.StatusBadRequest:
		return llmerrors.ErrorTypeValidation
	default:
		return llmerrors.ErrorTypeUnknown
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date and returns whole
// seconds, rounding up. Missing or malformed values yield 0.
func parseRetryAfter(v string, now time.Time) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return int(math.Ceil(min(secs, llmerrors.MaxRetryAfterSeconds)))
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d <= 0 {
			return 0
		}
		return int(min((d+time.Second-1)/time.Second, llmerrors.MaxRetryAfterSeconds))
	}
	return 0
}
