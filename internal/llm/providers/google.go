package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ahrav/go-grader/internal/llm/transport"
)

// GoogleAdapter speaks the Gemini generateContent API.
type GoogleAdapter struct {
	config Config
}

// NewGoogleAdapter defaults the endpoint to the public Generative Language API.
func NewGoogleAdapter(cfg Config) *GoogleAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GoogleAdapter{config: cfg}
}

// Name returns ProviderGoogle.
func (a *GoogleAdapter) Name() string { return ProviderGoogle }

// CharsPerToken follows Google's published rule of thumb.
func (a *GoogleAdapter) CharsPerToken() float64 { return charsPerToken(a.config, 4.0) }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		TopP            float64 `json:"topP"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

// Build creates a generateContent request. The key travels in a header, not the URL.
func (a *GoogleAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	var gr geminiRequest
	gr.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}}
	if req.SystemPrompt != "" {
		gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	gr.GenerationConfig.Temperature = req.Temperature
	gr.GenerationConfig.TopP = req.TopP
	gr.GenerationConfig.MaxOutputTokens = req.MaxTokens

	body, err := json.Marshal(gr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", a.config.Endpoint, url.PathEscape(req.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", a.config.APIKey)
	applyHeaders(httpReq, req, a.config.Headers)
	return httpReq, nil
}

// Decode concatenates parts of the first candidate.
func (a *GoogleAdapter) Decode(header http.Header, body []byte) (*transport.Response, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int64 `json:"promptTokenCount"`
			CandidatesTokenCount int64 `json:"candidatesTokenCount"`
			TotalTokenCount      int64 `json:"totalTokenCount"`
		} `json:"usageMetadata"`
		ModelVersion string `json:"modelVersion"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	return &transport.Response{
		Content:            sb.String(),
		FinishReason:       geminiFinishReason(resp.Candidates[0].FinishReason),
		ProviderRequestIDs: requestIDs(header, "x-goog-request-id", "x-request-id"),
		Metadata: transport.Metadata{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
			Model:            resp.ModelVersion,
		},
	}, nil
}

// DecodeError reads {"error": {"code", "message", "status"}}.
func (a *GoogleAdapter) DecodeError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Message == "" {
		return string(body), ""
	}
	return e.Error.Message, e.Error.Status
}

func geminiFinishReason(reason string) transport.FinishReason {
	switch strings.ToUpper(reason) {
	case "MAX_TOKENS":
		return transport.FinishLength
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT", "RECITATION":
		return transport.FinishContentFilter
	default:
		return transport.FinishStop
	}
}
