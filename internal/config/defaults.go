package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/ahrav/go-grader/internal/featureflag"
	"github.com/ahrav/go-grader/internal/llm/circuitbreaker"
	"github.com/ahrav/go-grader/internal/llm/retry"
	"github.com/ahrav/go-grader/internal/parsing"
)

// Server and infrastructure defaults.
const (
	DefaultServerAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultKafkaTopic      = "grader.cost-events"
	DefaultConsumerGroup   = "grader-cost-writer"
	DefaultTaskQueue       = "grading"
	DefaultNamespace       = "default"
	DefaultServiceName     = "go-grader"
)

// Pipeline defaults.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 1500
	DefaultTemperature = 0.2
	DefaultTaskTimeout = 2 * time.Minute
)

// Rate limiting defaults.
const (
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 20
)

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("logging.level", "info")
	vip.SetDefault("logging.format", "json")
	vip.SetDefault("logging.redact_prompts", true)

	vip.SetDefault("server.addr", DefaultServerAddr)
	vip.SetDefault("server.mode", "release")
	vip.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)

	vip.SetDefault("redis.addr", "")
	vip.SetDefault("redis.db", 0)
	vip.SetDefault("postgres.max_conns", 10)
	vip.SetDefault("postgres.migrate", true)

	vip.SetDefault("retry.max_delay", retry.DefaultMaxDelay)
	vip.SetDefault("circuit_breaker.failure_threshold", circuitbreaker.DefaultFailureThreshold)
	vip.SetDefault("circuit_breaker.timeout", circuitbreaker.DefaultTimeout)
	vip.SetDefault("rate_limit.requests_per_second", DefaultRequestsPerSecond)
	vip.SetDefault("rate_limit.burst", DefaultBurst)
	vip.SetDefault("rate_limit.global_requests_per_second", 0)

	vip.SetDefault("kafka.brokers", []string{})
	vip.SetDefault("kafka.topic", DefaultKafkaTopic)
	vip.SetDefault("kafka.consumer_group", DefaultConsumerGroup)
	vip.SetDefault("kafka.consume", true)

	vip.SetDefault("posthog.poll_interval", time.Minute)
	vip.SetDefault("features."+featureflag.LLMGrading, false)

	vip.SetDefault("pipeline.collector", "submission")
	vip.SetDefault("pipeline.prompt_builder", "grading")
	vip.SetDefault("pipeline.storer", "memory")
	vip.SetDefault("pipeline.model", DefaultModel)
	vip.SetDefault("pipeline.max_tokens", DefaultMaxTokens)
	vip.SetDefault("pipeline.temperature", DefaultTemperature)
	vip.SetDefault("pipeline.timeout", DefaultTaskTimeout)

	kinds := make([]string, 0, len(parsing.DefaultKinds()))
	for _, k := range parsing.DefaultKinds() {
		kinds = append(kinds, string(k))
	}
	vip.SetDefault("parsing.strategies", kinds)
	vip.SetDefault("parsing.reformat_model", parsing.DefaultReformatModel)

	vip.SetDefault("tracing.enabled", false)
	vip.SetDefault("tracing.service_name", DefaultServiceName)
	vip.SetDefault("tracing.sample_ratio", 1.0)

	vip.SetDefault("temporal.enabled", false)
	vip.SetDefault("temporal.namespace", DefaultNamespace)
	vip.SetDefault("temporal.task_queue", DefaultTaskQueue)
}

// ParsingKinds converts the configured strategy names.
func (p ParsingConfig) ParsingKinds() ([]parsing.Kind, error) {
	kinds := make([]parsing.Kind, 0, len(p.Strategies))
	for _, name := range p.Strategies {
		k, err := parsing.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
