// Package server exposes the admin and grading HTTP surface: health checks,
// Prometheus metrics, circuit inspection, pricing lookup, synchronous
// grading and the websocket status feed.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-grader/internal/grading"
	"github.com/ahrav/go-grader/internal/llm/business"
	"github.com/ahrav/go-grader/internal/llm/circuitbreaker"
)

// Breaker is the circuit inspection surface.
type Breaker interface {
	State(ctx context.Context, service string) circuitbreaker.ServiceState
	Reset(ctx context.Context, service string)
}

// Pricer resolves and invalidates per-model rates.
type Pricer interface {
	Rate(ctx context.Context, model string) business.Rate
	Invalidate(ctx context.Context, model string)
}

// Grader grades one submission.
type Grader interface {
	GradeSubmission(ctx context.Context, sub grading.Submission) grading.Outcome
}

// Enqueuer starts asynchronous grading and returns a tracking id.
type Enqueuer interface {
	Enqueue(ctx context.Context, sub grading.Submission) (string, error)
}

// Check is a named readiness probe.
type Check func(ctx context.Context) error

// Deps are the collaborators behind the routes. Nil fields disable their
// routes.
type Deps struct {
	Breaker   Breaker
	Pricer    Pricer
	Grader    Grader
	Enqueuer  Enqueuer
	Websocket http.Handler
	Checks    map[string]Check
}

// Server wraps a gin engine in an http.Server.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	deps   Deps
	logger *slog.Logger
}

// New builds the router. mode is a gin mode such as gin.ReleaseMode.
func New(addr, mode string, deps Deps) *Server {
	gin.SetMode(mode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		deps:   deps,
		logger: slog.Default().With("component", "http_server"),
	}
	engine.Use(s.requestLogger())
	s.routes()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
	})
	s.engine.GET("/readyz", s.ready)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.deps.Websocket != nil {
		s.engine.GET("/ws", gin.WrapH(s.deps.Websocket))
	}

	v1 := s.engine.Group("/v1")
	if s.deps.Breaker != nil {
		v1.GET("/circuits/:service", s.circuitState)
		v1.DELETE("/circuits/:service", s.circuitReset)
	}
	if s.deps.Pricer != nil {
		v1.GET("/pricing/:model", s.pricing)
		v1.DELETE("/pricing/:model", s.pricingInvalidate)
	}
	if s.deps.Grader != nil {
		v1.POST("/submissions/:id/grade", s.grade)
	}
	if s.deps.Enqueuer != nil {
		v1.POST("/submissions/:id/enqueue", s.enqueue)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
