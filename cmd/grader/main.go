// Command grader runs the grading service: the admin and grading HTTP API,
// the cost event consumer and, when enabled, the Temporal grading worker.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/ahrav/go-grader/internal/config"
	"github.com/ahrav/go-grader/internal/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("GRADER_CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("grader exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return errors.Join(err, shutdownTracing(context.Background()))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.start(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err = <-errCh:
		if err != nil {
			slog.Error("component failed, shutting down", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, a.stop(shutdownCtx), shutdownTracing(shutdownCtx))
}
