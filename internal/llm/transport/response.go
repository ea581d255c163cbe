package transport

import (
	"net/http"
	"time"
)

// FinishReason normalizes why the provider stopped generating.
type FinishReason string

// Normalized finish reasons.
const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolUse       FinishReason = "tool_use"
)

// Metadata carries token accounting and, after the base client enriches the
// response, timing, cost and model.
type Metadata struct {
	PromptTokens     int64         `json:"prompt_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`
	TotalTokens      int64         `json:"total_tokens"`
	ExecutionTime    time.Duration `json:"execution_time"`
	Cost             float64       `json:"cost"`
	Model            string        `json:"model"`
	Provider         string        `json:"provider,omitempty"`
}

// Response is the provider-agnostic envelope returned by every RequestClient.
type Response struct {
	Content            string       `json:"content"`
	Metadata           Metadata     `json:"metadata"`
	FinishReason       FinishReason `json:"finish_reason,omitempty"`
	ProviderRequestIDs []string     `json:"provider_request_ids,omitempty"`
	Headers            http.Header  `json:"-"`
	RawBody            []byte       `json:"-"`
}
