package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/posthog/posthog-go"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-grader/internal/broadcast"
	"github.com/ahrav/go-grader/internal/config"
	"github.com/ahrav/go-grader/internal/document"
	"github.com/ahrav/go-grader/internal/featureflag"
	"github.com/ahrav/go-grader/internal/grading"
	"github.com/ahrav/go-grader/internal/llm"
	"github.com/ahrav/go-grader/internal/llm/business"
	"github.com/ahrav/go-grader/internal/llm/cache"
	"github.com/ahrav/go-grader/internal/llm/circuitbreaker"
	"github.com/ahrav/go-grader/internal/llm/costtracking"
	"github.com/ahrav/go-grader/internal/llm/providers"
	"github.com/ahrav/go-grader/internal/llm/ratelimit"
	"github.com/ahrav/go-grader/internal/llm/retry"
	"github.com/ahrav/go-grader/internal/llm/transport"
	"github.com/ahrav/go-grader/internal/parsing"
	"github.com/ahrav/go-grader/internal/pipeline"
	"github.com/ahrav/go-grader/internal/server"
	"github.com/ahrav/go-grader/internal/storage/postgres"
	"github.com/ahrav/go-grader/internal/worker"
	"github.com/ahrav/go-grader/pkg/events"
)

const pricingCachePrefix = "pricing:"

// app owns every long-lived resource. Optional ones are nil when their
// config section is empty.
type app struct {
	cfg *config.Config

	redis    *redis.Client
	pool     *pgxpool.Pool
	sink     *events.KafkaSink
	group    sarama.ConsumerGroup
	tracker  *costtracking.Tracker
	posthog  posthog.Client
	hub      *broadcast.Hub
	temporal client.Client
	worker   sdkworker.Worker
	server   *server.Server

	logger *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: slog.Default().With("component", "app")}
	if err := a.init(ctx); err != nil {
		_ = a.stop(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg
	checks := make(map[string]server.Check)

	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}

	if cfg.Postgres.DSN != "" {
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(cfg.Postgres.DSN); err != nil {
				return err
			}
		}
		pool, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		a.pool = pool
		checks["postgres"] = func(ctx context.Context) error { return a.pool.Ping(ctx) }
	}

	breaker := a.newBreaker()
	coordinator, err := retry.NewCoordinator(cfg.Retry, breaker)
	if err != nil {
		return fmt.Errorf("retry coordinator: %w", err)
	}

	router, err := a.newRouter()
	if err != nil {
		return err
	}

	pricer := a.newPricer()
	if err := a.newTracker(pricer); err != nil {
		return err
	}

	generator := llm.NewBaseClient(router, coordinator, a.tracker)

	pipe, err := a.newPipeline(ctx, generator)
	if err != nil {
		return err
	}

	gate, err := a.newGate()
	if err != nil {
		return err
	}
	svc := grading.NewService(gate, pipe)

	var enqueuer server.Enqueuer
	if cfg.Temporal.Enabled {
		if enqueuer, err = a.newTemporal(svc); err != nil {
			return err
		}
		checks["temporal"] = func(ctx context.Context) error {
			_, err := a.temporal.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}
	}

	a.server = server.New(cfg.Server.Addr, cfg.Server.Mode, server.Deps{
		Breaker:   breaker,
		Pricer:    pricer,
		Grader:    svc,
		Enqueuer:  enqueuer,
		Websocket: http.HandlerFunc(a.hub.ServeWS),
		Checks:    checks,
	})
	return nil
}

func (a *app) newBreaker() *circuitbreaker.Breaker {
	var store circuitbreaker.Store = circuitbreaker.NewMemoryStore()
	if a.redis != nil {
		store = circuitbreaker.NewRedisStore(a.redis)
	}
	return circuitbreaker.New(store, a.cfg.CircuitBreaker)
}

// newRouter decorates every provider client with logging outermost, then
// the rate limiter.
func (a *app) newRouter() (*providers.Router, error) {
	var opts []ratelimit.Option
	if a.redis != nil {
		opts = append(opts, ratelimit.WithRedis(a.redis))
	}
	limiter, err := ratelimit.New(a.cfg.RateLimit, opts...)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	router, err := providers.NewHTTPRouter(a.cfg.Providers, nil, func(provider string) []transport.Middleware {
		return []transport.Middleware{
			llm.LoggingMiddleware(provider, llm.WithRedactedPrompts(a.cfg.Logging.RedactPrompts)),
			limiter.Middleware(provider),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("provider router: %w", err)
	}
	return router, nil
}

func (a *app) newPricer() *business.PricingResolver {
	var store business.PricingStore
	if a.pool != nil {
		store = postgres.NewPricingRepository(a.pool)
	}
	var opts []business.ResolverOption
	if a.redis != nil {
		opts = append(opts, business.WithRateCache(
			cache.NewRedis[business.Rate](a.redis, pricingCachePrefix, business.DefaultRateTTL)))
	}
	return business.NewPricingResolver(store, business.NewStaticPricing(nil), opts...)
}

// newTracker records costs in Postgres, through Kafka when brokers are
// configured. Without Postgres entries are only kept in memory.
func (a *app) newTracker(pricer costtracking.Pricer) error {
	var repo costtracking.Repository
	if a.pool != nil {
		repo = postgres.NewCostRepository(a.pool)
	} else {
		a.logger.Warn("postgres not configured, cost entries are kept in memory")
		repo = costtracking.NewMemoryRepository()
	}
	recorder := costtracking.NewRecorder(repo, pricer)

	if !a.cfg.Kafka.Enabled() {
		a.tracker = costtracking.NewTracker(nil, recorder)
		return nil
	}

	producer, err := events.NewSyncProducer(a.cfg.Kafka.KafkaConfig)
	if err != nil {
		return err
	}
	a.sink = events.NewKafkaSink(producer, a.cfg.Kafka.KafkaConfig)
	a.tracker = costtracking.NewTracker(a.sink, recorder)

	if a.cfg.Kafka.Consume {
		if a.group, err = events.NewConsumerGroup(a.cfg.Kafka.KafkaConfig, a.cfg.Kafka.ConsumerGroup); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) newPipeline(ctx context.Context, gen llm.Generator) (*pipeline.Pipeline, error) {
	kinds, err := a.cfg.Parsing.ParsingKinds()
	if err != nil {
		return nil, err
	}
	parser, err := parsing.NewChain(kinds, parsing.Deps{
		Generator:     gen,
		ReformatModel: a.cfg.Parsing.ReformatModel,
	})
	if err != nil {
		return nil, fmt.Errorf("parsing chain: %w", err)
	}

	var (
		fetcher document.Fetcher
		tokens  document.TokenProvider
	)
	if a.cfg.Google.Enabled() {
		docs := document.NewGoogleDocsFetcher(a.cfg.Google.GoogleConfig)
		fetcher = docs
		tokens = document.SourceProvider{Source: docs.TokenSource(ctx, a.cfg.Google.RefreshToken)}
	}

	reg := pipeline.NewRegistry()
	grading.Register(reg, fetcher, tokens)

	a.hub = broadcast.NewHub(originChecker(a.cfg.Server.AllowedOrigins))
	opts := []pipeline.Option{pipeline.WithBroadcaster(a.hub)}
	if a.pool != nil {
		tasks := postgres.NewTaskRepository(a.pool)
		reg.RegisterStorer(postgres.StorerName, tasks)
		opts = append(opts, pipeline.WithStatusSink(tasks))
	}

	pipe, err := pipeline.New(reg, a.cfg.Pipeline, gen, parser, opts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return pipe, nil
}

// newGate serves the static feature map, behind PostHog when an API key is
// configured.
func (a *app) newGate() (featureflag.Gate, error) {
	static := featureflag.NewStaticGate(a.cfg.Features)
	if a.cfg.PostHog.APIKey == "" {
		return static, nil
	}
	c, err := featureflag.NewPostHogClient(a.cfg.PostHog)
	if err != nil {
		return nil, err
	}
	a.posthog = c
	return featureflag.NewPostHogGate(c, static), nil
}

func (a *app) newTemporal(grader *grading.Service) (server.Enqueuer, error) {
	opts := worker.Options{
		HostPort:  a.cfg.Temporal.HostPort,
		Namespace: a.cfg.Temporal.Namespace,
		TaskQueue: a.cfg.Temporal.TaskQueue,
	}
	c, err := worker.Dial(opts)
	if err != nil {
		return nil, err
	}
	a.temporal = c

	var sink events.EventSink = events.NewNoOpEventSink()
	if a.sink != nil {
		sink = a.sink
	}
	a.worker = worker.New(c, opts)
	worker.RegisterAll(a.worker, grader, sink)
	return worker.NewEnqueuer(c, opts.TaskQueue), nil
}

// start runs the HTTP server and background consumers until one fails or
// ctx ends.
func (a *app) start(ctx context.Context) error {
	if a.worker != nil {
		if err := a.worker.Start(); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}

	errCh := make(chan error, 2)
	if a.group != nil {
		d := events.NewDispatcher()
		d.Handle(costtracking.EventCostRecorded, a.tracker.Handler())
		go func() {
			a.logger.Info("cost event consumer started", "topic", a.cfg.Kafka.Topic)
			errCh <- events.Consume(ctx, a.group, []string{a.cfg.Kafka.Topic}, d)
		}()
	}
	go func() { errCh <- a.server.Start() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// stop releases resources in reverse dependency order.
func (a *app) stop(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.group != nil {
		errs = append(errs, a.group.Close())
	}
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.posthog != nil {
		errs = append(errs, a.posthog.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

// originChecker allows same-origin requests and the configured origins. An
// empty list keeps gorilla's same-origin default.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
