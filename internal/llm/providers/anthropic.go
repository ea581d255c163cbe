package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ahrav/go-grader/internal/llm/transport"
)

const anthropicVersion = "2023-06-01"

// AnthropicAdapter speaks the Messages API.
type AnthropicAdapter struct {
	config Config
}

// NewAnthropicAdapter defaults the endpoint to the public API.
func NewAnthropicAdapter(cfg Config) *AnthropicAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	return &AnthropicAdapter{config: cfg}
}

// Name returns ProviderAnthropic.
func (a *AnthropicAdapter) Name() string { return ProviderAnthropic }

// CharsPerToken is slightly denser than OpenAI for Claude tokenizers.
func (a *AnthropicAdapter) CharsPerToken() float64 { return charsPerToken(a.config, 3.5) }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p"`
}

// Build creates a messages request. The system prompt travels separately.
func (a *AnthropicAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	applyHeaders(httpReq, req, a.config.Headers)
	return httpReq, nil
}

// Decode concatenates text blocks from a message response.
func (a *AnthropicAdapter) Decode(header http.Header, body []byte) (*transport.Response, error) {
	var resp struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &transport.Response{
		Content:            sb.String(),
		FinishReason:       anthropicStopReason(resp.StopReason),
		ProviderRequestIDs: requestIDs(header, "request-id", "anthropic-request-id"),
		Metadata: transport.Metadata{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			Model:            resp.Model,
		},
	}, nil
}

// DecodeError reads {"type":"error","error":{"type","message"}}.
func (a *AnthropicAdapter) DecodeError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Message == "" {
		return string(body), ""
	}
	return e.Error.Message, e.Error.Type
}

func anthropicStopReason(reason string) transport.FinishReason {
	switch reason {
	case "max_tokens":
		return transport.FinishLength
	case "tool_use":
		return transport.FinishToolUse
	case "refusal":
		return transport.FinishContentFilter
	default:
		return transport.FinishStop
	}
}
