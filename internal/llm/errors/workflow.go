package errors

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
)

// WorkflowError carries a classified failure across the Temporal boundary.
type WorkflowError struct {
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details"`
	Cause     error          `json:"-"`
}

func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// ShouldRetry returns the explicit retry recommendation.
func (e *WorkflowError) ShouldRetry() bool {
	return e.Retryable
}

// ToApplicationError converts err into a Temporal application error whose
// type is the classified ErrorType. Non-transient failures are marked
// non-retryable so Temporal does not repeat work the coordinator already gave up on.
func ToApplicationError(err error) error {
	if err == nil {
		return nil
	}

	wfErr := ClassifyLLMError(err)
	var details []any
	if wfErr.Details != nil {
		details = append(details, wfErr.Details)
	}
	if wfErr.Retryable {
		return temporal.NewApplicationErrorWithCause(wfErr.Message, string(wfErr.Type), err, details...)
	}
	return temporal.NewNonRetryableApplicationError(wfErr.Message, string(wfErr.Type), err, details...)
}
