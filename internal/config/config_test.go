package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-grader/internal/config"
	"github.com/ahrav/go-grader/internal/llm/circuitbreaker"
	"github.com/ahrav/go-grader/internal/parsing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, slog.LevelInfo, cfg.Logging.SlogLevel())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, circuitbreaker.DefaultFailureThreshold, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, circuitbreaker.DefaultTimeout, cfg.CircuitBreaker.Timeout)
	assert.Equal(t, config.DefaultModel, cfg.Pipeline.Model)
	assert.Equal(t, config.DefaultTaskTimeout, cfg.Pipeline.Timeout)
	require.NotNil(t, cfg.Pipeline.Temperature)
	assert.InDelta(t, config.DefaultTemperature, *cfg.Pipeline.Temperature, 1e-9)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, config.DefaultKafkaTopic, cfg.Kafka.Topic)
	assert.False(t, cfg.Features["llm_grading"])

	kinds, err := cfg.Parsing.ParsingKinds()
	require.NoError(t, err)
	assert.Equal(t, parsing.DefaultKinds(), kinds)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: text
providers:
  openai:
    endpoint: https://api.openai.com/v1
    timeout: 45s
  anthropic:
    endpoint: https://api.anthropic.com/v1
retry:
  strategies:
    overloaded:
      max_retries: 4
      base_delay: 10s
features:
  llm_grading: true
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
parsing:
  strategies: [lenient_json, llm_reformat]
`)
	t.Setenv("GRADER_PROVIDERS_OPENAI_API_KEY", "sk-test")
	t.Setenv("GRADER_REDIS_ADDR", "redis:6379")
	t.Setenv("GRADER_SERVER_ADDR", ":9000")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.Kafka.Enabled())
	assert.True(t, cfg.Features["llm_grading"])

	require.Contains(t, cfg.Providers, "openai")
	assert.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)
	assert.Equal(t, 45*time.Second, cfg.Providers["openai"].Timeout)
	assert.Contains(t, cfg.Providers, "anthropic")

	require.Contains(t, cfg.Retry.Strategies, "overloaded")
	assert.Equal(t, 4, cfg.Retry.Strategies["overloaded"].MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Retry.Strategies["overloaded"].BaseDelay)

	kinds, err := cfg.Parsing.ParsingKinds()
	require.NoError(t, err)
	assert.Equal(t, []parsing.Kind{parsing.KindLenientJSON, parsing.KindLLMReformat}, kinds)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown provider", body: "providers:\n  mistral:\n    endpoint: https://api.mistral.ai\n"},
		{name: "bad endpoint", body: "providers:\n  openai:\n    endpoint: not a url\n"},
		{name: "unknown parse strategy", body: "parsing:\n  strategies: [regex_magic]\n"},
		{name: "bad log format", body: "logging:\n  format: xml\n"},
		{name: "tracing without endpoint", body: "tracing:\n  enabled: true\n"},
		{name: "temperature out of range", body: "pipeline:\n  temperature: 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			assert.ErrorContains(t, err, "config validation failed")
		})
	}
}

func TestLoad_ZeroTemperatureIsKept(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "pipeline:\n  temperature: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Pipeline.Temperature)
	assert.Zero(t, *cfg.Pipeline.Temperature)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}
