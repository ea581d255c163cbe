// Package config loads the grader service configuration from an optional
// YAML file and GRADER_-prefixed environment variables, then validates it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ahrav/go-grader/internal/document"
	"github.com/ahrav/go-grader/internal/featureflag"
	"github.com/ahrav/go-grader/internal/llm/circuitbreaker"
	"github.com/ahrav/go-grader/internal/llm/providers"
	"github.com/ahrav/go-grader/internal/llm/ratelimit"
	"github.com/ahrav/go-grader/internal/llm/retry"
	"github.com/ahrav/go-grader/internal/pipeline"
	"github.com/ahrav/go-grader/internal/storage/postgres"
	"github.com/ahrav/go-grader/pkg/events"
)

// EnvPrefix prefixes every environment override, e.g. GRADER_REDIS_ADDR.
const EnvPrefix = "GRADER"

// Config is the complete service configuration.
type Config struct {
	Logging        LoggingConfig               `mapstructure:"logging"`
	Server         ServerConfig                `mapstructure:"server"`
	Redis          RedisConfig                 `mapstructure:"redis"`
	Postgres       postgres.Config             `mapstructure:"postgres"`
	Providers      map[string]providers.Config `mapstructure:"providers" validate:"dive"`
	Retry          retry.Config                `mapstructure:"retry"`
	CircuitBreaker circuitbreaker.Config       `mapstructure:"circuit_breaker"`
	RateLimit      ratelimit.Config            `mapstructure:"rate_limit"`
	Kafka          KafkaConfig                 `mapstructure:"kafka"`
	PostHog        featureflag.PostHogConfig   `mapstructure:"posthog"`
	Features       map[string]bool             `mapstructure:"features"`
	Google         GoogleConfig                `mapstructure:"google"`
	Pipeline       pipeline.Config             `mapstructure:"pipeline"`
	Parsing        ParsingConfig               `mapstructure:"parsing"`
	Tracing        TracingConfig               `mapstructure:"tracing"`
	Temporal       TemporalConfig              `mapstructure:"temporal"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level         string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format        string `mapstructure:"format" validate:"oneof=text json"`
	RedactPrompts bool   `mapstructure:"redact_prompts"`
}

// SlogLevel maps Level onto slog. Unknown values select info.
func (l LoggingConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// RedisConfig is optional; an empty Addr keeps breaker state in memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// KafkaConfig adds consumer settings to the producer config. Without brokers
// cost entries are written directly.
type KafkaConfig struct {
	events.KafkaConfig `mapstructure:",squash"`
	ConsumerGroup      string `mapstructure:"consumer_group"`
	Consume            bool   `mapstructure:"consume"`
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// GoogleConfig configures document fetching. RefreshToken is a service
// account style token used for every fetch.
type GoogleConfig struct {
	document.GoogleConfig `mapstructure:",squash"`
	RefreshToken          string `mapstructure:"refresh_token"`
}

// Enabled reports whether OAuth credentials are present.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.RefreshToken != ""
}

// ParsingConfig selects parse strategies by kind, in order.
type ParsingConfig struct {
	Strategies    []string `mapstructure:"strategies" validate:"min=1"`
	ReformatModel string   `mapstructure:"reformat_model"`
}

// TracingConfig enables OTLP span export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	Insecure    bool    `mapstructure:"insecure"`
}

// TemporalConfig enables the workflow worker.
type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"host_port" validate:"required_if=Enabled true"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue" validate:"required_if=Enabled true"`
}

// secretKeys are only ever read from the environment.
var secretKeys = []string{
	"providers.openai.api_key",
	"providers.anthropic.api_key",
	"providers.google.api_key",
	"redis.password",
	"postgres.dsn",
	"posthog.api_key",
	"posthog.personal_api_key",
	"google.client_id",
	"google.client_secret",
	"google.refresh_token",
}

// Load reads path (or ./configs/grader.yaml, ./grader.yaml when path is
// empty), applies environment overrides and validates the result. A missing
// default config file is not an error.
func Load(path string) (*Config, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("grader")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}
	vip.SetConfigType("yaml")
	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	setDefaults(vip)
	for _, key := range secretKeys {
		if err := vip.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	for name := range c.Providers {
		switch name {
		case providers.ProviderOpenAI, providers.ProviderAnthropic, providers.ProviderGoogle:
		default:
			return fmt.Errorf("config validation failed: unknown provider %q", name)
		}
	}
	if _, err := c.Parsing.ParsingKinds(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
