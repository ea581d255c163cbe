package activity

import (
	"errors"

	"go.temporal.io/sdk/temporal"
)

// ErrorTypeValidation tags input errors surfaced to workflows.
const ErrorTypeValidation = "Validation"

// ErrActivityValidation is returned for malformed activity input.
var ErrActivityValidation = errors.New("activity input validation failed")

// nonRetryable wraps cause as a Temporal application error that workflows
// must not retry.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}
