package providers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-grader/internal/domain"
	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
	"github.com/ahrav/go-grader/internal/llm/providers"
	"github.com/ahrav/go-grader/internal/llm/transport"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_Success(t *testing.T) {
	var captured map[string]any
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("x-request-id", "req_abc")
		_, _ = w.Write([]byte(`{"model":"gpt-4o-2024-08-06","choices":[{"message":{"content":"hello"},"finish_reason":"length"}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`))
	})

	client := providers.NewClient(providers.NewOpenAIAdapter(providers.Config{APIKey: "sk-test", Endpoint: srv.URL}), time.Second)
	req := transport.NewRequest("Grade this", "gpt-4o", "grading",
		transport.WithSystemPrompt("You are a grader"),
		transport.WithActor(domain.NewEntityRef("user", "9")))

	resp, err := client.ExecuteRequest(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, transport.FinishLength, resp.FinishReason)
	assert.Equal(t, []string{"req_abc"}, resp.ProviderRequestIDs)
	assert.Equal(t, int64(15), resp.Metadata.TotalTokens)
	assert.Equal(t, "gpt-4o-2024-08-06", resp.Metadata.Model)
	assert.Equal(t, providers.ProviderOpenAI, resp.Metadata.Provider)
	assert.NotEmpty(t, resp.RawBody)

	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user:9", captured["user"])
}

func TestAnthropicClient_Success(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sys", body["system"])

		_, _ = w.Write([]byte(`{"model":"claude-3-5-haiku-20241022","content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}],
			"stop_reason":"end_turn","usage":{"input_tokens":100,"output_tokens":50}}`))
	})

	client := providers.NewClient(providers.NewAnthropicAdapter(providers.Config{APIKey: "key", Endpoint: srv.URL}), time.Second)
	resp, err := client.ExecuteRequest(context.Background(),
		transport.NewRequest("p", "claude-3-5-haiku", "grading", transport.WithSystemPrompt("sys")))
	require.NoError(t, err)

	assert.Equal(t, "part one part two", resp.Content)
	assert.Equal(t, transport.FinishStop, resp.FinishReason)
	assert.Equal(t, int64(150), resp.Metadata.TotalTokens)
}

func TestGoogleClient_Success(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "gkey", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"feedback\":\"ok\"}"}]},"finishReason":"SAFETY"}],
			"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":6,"totalTokenCount":10}}`))
	})

	client := providers.NewClient(providers.NewGoogleAdapter(providers.Config{APIKey: "gkey", Endpoint: srv.URL}), time.Second)
	resp, err := client.ExecuteRequest(context.Background(), transport.NewRequest("p", "gemini-1.5-flash", "grading"))
	require.NoError(t, err)

	assert.Equal(t, `{"feedback":"ok"}`, resp.Content)
	assert.Equal(t, transport.FinishContentFilter, resp.FinishReason)
	assert.Equal(t, "gemini-1.5-flash", resp.Metadata.Model, "model falls back to the requested id")
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		body       string
		check      func(t *testing.T, err error)
	}{
		{
			name:   "529 overloaded",
			status: providers.StatusOverloaded,
			body:   `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			check: func(t *testing.T, err error) {
				var oe *llmerrors.OverloadedError
				require.ErrorAs(t, err, &oe)
				assert.Equal(t, "claude-3-5-haiku", oe.Model)
				assert.Zero(t, oe.RetryAfter)
				assert.True(t, llmerrors.IsTransient(err))
			},
		},
		{
			name:       "429 rate limit with hint",
			status:     http.StatusTooManyRequests,
			retryAfter: "7",
			body:       `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`,
			check: func(t *testing.T, err error) {
				var rl *llmerrors.RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 7, rl.RetryAfter)
				assert.Equal(t, 7*time.Second, llmerrors.RetryAfter(err))
			},
		},
		{
			name:       "429 with an absurd hint is clamped",
			status:     http.StatusTooManyRequests,
			retryAfter: "10000000000",
			body:       `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`,
			check: func(t *testing.T, err error) {
				var rl *llmerrors.RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, llmerrors.MaxRetryAfterSeconds, rl.RetryAfter)
				assert.Equal(t, 24*time.Hour, llmerrors.RetryAfter(err))
			},
		},
		{
			name:   "500 transient",
			status: http.StatusInternalServerError,
			body:   `{"type":"error","error":{"type":"api_error","message":"boom"}}`,
			check: func(t *testing.T, err error) {
				assert.Equal(t, llmerrors.ErrorTypeProvider, llmerrors.Classify(err))
				assert.True(t, llmerrors.IsTransient(err))
			},
		},
		{
			name:   "408 transient",
			status: http.StatusRequestTimeout,
			body:   `timeout`,
			check: func(t *testing.T, err error) {
				assert.True(t, llmerrors.IsTransient(err))
			},
		},
		{
			name:   "401 not transient",
			status: http.StatusUnauthorized,
			body:   `{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`,
			check: func(t *testing.T, err error) {
				assert.Equal(t, llmerrors.ErrorTypeAuth, llmerrors.Classify(err))
				assert.False(t, llmerrors.IsTransient(err))
				assert.Contains(t, err.Error(), "bad key")
			},
		},
		{
			name:   "400 not transient",
			status: http.StatusBadRequest,
			body:   `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`,
			check: func(t *testing.T, err error) {
				assert.False(t, llmerrors.IsTransient(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			client := providers.NewClient(providers.NewAnthropicAdapter(providers.Config{Endpoint: srv.URL}), time.Second)
			_, err := client.ExecuteRequest(context.Background(), transport.NewRequest("p", "claude-3-5-haiku", "grading"))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_OpenAIQuotaIsNotRateLimit(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
	})
	client := providers.NewClient(providers.NewOpenAIAdapter(providers.Config{Endpoint: srv.URL}), time.Second)

	_, err := client.ExecuteRequest(context.Background(), transport.NewRequest("p", "gpt-4o", "grading"))
	assert.Equal(t, llmerrors.ErrorTypeQuota, llmerrors.Classify(err))
	assert.False(t, llmerrors.IsTransient(err))
}

func TestClient_CancelledContextIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	client := providers.NewClient(providers.NewOpenAIAdapter(providers.Config{Endpoint: srv.URL}), time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ExecuteRequest(ctx, transport.NewRequest("p", "gpt-4o", "grading"))
	require.Error(t, err)
	assert.ErrorIs(t, err, llmerrors.ErrTimeout)
	assert.False(t, llmerrors.IsTransient(err))
}

func TestClient_CallTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	client := providers.NewClient(providers.NewOpenAIAdapter(providers.Config{Endpoint: srv.URL}), 50*time.Millisecond)
	_, err := client.ExecuteRequest(context.Background(), transport.NewRequest("p", "gpt-4o", "grading"))
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeNetwork, llmerrors.Classify(err))
}

func TestClient_MalformedBody(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	client := providers.NewClient(providers.NewOpenAIAdapter(providers.Config{Endpoint: srv.URL}), time.Second)

	_, err := client.ExecuteRequest(context.Background(), transport.NewRequest("p", "gpt-4o", "grading"))
	assert.ErrorIs(t, err, llmerrors.ErrInvalidResponse)
}

func TestClient_CountTokens(t *testing.T) {
	tests := []struct {
		name    string
		adapter providers.Adapter
		req     *transport.Request
		want    int
	}{
		{"openai prompt only", providers.NewOpenAIAdapter(providers.Config{}), transport.NewRequest("abcdefgh", "gpt-4o", "k"), 2},
		{"openai with system", providers.NewOpenAIAdapter(providers.Config{}),
			transport.NewRequest("abcd", "gpt-4o", "k", transport.WithSystemPrompt("abc")), 2},
		{"anthropic rounds up", providers.NewAnthropicAdapter(providers.Config{}), transport.NewRequest("abcdefgh", "claude-3", "k"), 3},
		{"configured ratio", providers.NewGoogleAdapter(providers.Config{CharsPerToken: 2}), transport.NewRequest("abcdef", "gemini", "k"), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := providers.NewClient(tt.adapter, 0).CountTokens(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	_, err := providers.NewClient(providers.NewOpenAIAdapter(providers.Config{}), 0).CountTokens(nil)
	assert.ErrorIs(t, err, llmerrors.ErrValidation)
}

type stubClient struct{ name string }

func (s stubClient) ExecuteRequest(context.Context, *transport.Request) (*transport.Response, error) {
	return &transport.Response{Content: s.name}, nil
}
func (s stubClient) CountTokens(*transport.Request) (int, error) { return 1, nil }

func TestRouter_Resolve(t *testing.T) {
	r := providers.NewRouter(map[string]transport.RequestClient{
		providers.ProviderOpenAI:    stubClient{"openai"},
		providers.ProviderAnthropic: stubClient{"anthropic"},
		providers.ProviderGoogle:    stubClient{"google"},
	})

	tests := []struct {
		model    string
		provider string
	}{
		{"gpt-4o", providers.ProviderOpenAI},
		{"GPT-4", providers.ProviderOpenAI},
		{"o1-mini", providers.ProviderOpenAI},
		{"claude-3-5-haiku-20241022", providers.ProviderAnthropic},
		{"gemini-1.5-pro", providers.ProviderGoogle},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			client, provider, err := r.Resolve(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.provider, provider)
			resp, _ := client.ExecuteRequest(context.Background(), nil)
			assert.Equal(t, tt.provider, resp.Content)
		})
	}
}

func TestRouter_UnsupportedModel(t *testing.T) {
	r := providers.NewRouter(map[string]transport.RequestClient{providers.ProviderOpenAI: stubClient{"openai"}})

	for _, model := range []string{"llama-3-70b", "claude-3-opus"} {
		_, _, err := r.Resolve(model)
		var ue *llmerrors.UnsupportedModelError
		require.True(t, errors.As(err, &ue), model)
		assert.Equal(t, model, ue.Model)
		assert.False(t, llmerrors.IsTransient(err))
	}
}

func TestNewHTTPRouter_AppliesMiddleware(t *testing.T) {
	var wrapped []string
	r, err := providers.NewHTTPRouter(map[string]providers.Config{
		providers.ProviderOpenAI:    {},
		providers.ProviderAnthropic: {},
	}, nil, func(provider string) []transport.Middleware {
		wrapped = append(wrapped, provider)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"openai", "anthropic"}, wrapped)
	assert.ElementsMatch(t, []string{"openai", "anthropic"}, r.Providers())

	_, err = providers.NewHTTPRouter(map[string]providers.Config{"mistral": {}}, nil, nil)
	assert.Error(t, err)
}
