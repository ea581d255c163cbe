package domain

import (
	"fmt"
	"time"
)

// CostLogEntry is the immutable record written once per successful provider call.
type CostLogEntry struct {
	ID               string         `json:"id" validate:"required,uuid"`
	Actor            *EntityRef     `json:"actor,omitempty"`
	Trackable        *EntityRef     `json:"trackable,omitempty"`
	Kind             string         `json:"kind" validate:"required"`
	RequestID        string         `json:"request_id" validate:"required"`
	Model            string         `json:"model" validate:"required"`
	PromptTokens     int64          `json:"prompt_tokens" validate:"gte=0"`
	CompletionTokens int64          `json:"completion_tokens" validate:"gte=0"`
	TotalTokens      int64          `json:"total_tokens" validate:"gte=0"`
	Cost             float64        `json:"cost" validate:"gte=0"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Validate checks the entry before it is appended to storage.
func (e *CostLogEntry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCostEntry, err)
	}
	return nil
}
