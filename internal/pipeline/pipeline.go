// Package pipeline coordinates one grading task: collect input, build a
// prompt, call the model, parse the reply and store the result. Step
// collaborators are resolved by name from a Registry. Execute never returns
// an error; failures become a Result with Success false, a "failed" status
// update and a "failed" broadcast.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrav/go-grader/internal/domain"
	"github.com/ahrav/go-grader/internal/llm"
	"github.com/ahrav/go-grader/internal/llm/transport"
)

// Broadcast event names.
const (
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// DefaultKind tags pipeline model calls in cost logs.
const DefaultKind = "grading"

var errErrorResult = errors.New("parser returned an error result")

// Task is one unit of work.
type Task struct {
	ID string `json:"id"`
	// Entity is the tracked object, typically a submission. Status updates
	// and broadcasts address it.
	Entity *domain.EntityRef `json:"entity,omitempty"`
	Actor  *domain.EntityRef `json:"actor,omitempty"`
	// Kind and Model override the pipeline defaults when set.
	Kind  string `json:"kind,omitempty"`
	Model string `json:"model,omitempty"`
	Input Data   `json:"input,omitempty"`
}

func (t Task) subject() *domain.EntityRef {
	if t.Entity != nil {
		return t.Entity
	}
	return domain.NewEntityRef("task", t.ID)
}

// Output is the data carried by a successful Result.
type Output struct {
	Grading *domain.GradingResult `json:"grading"`
	Usage   transport.Metadata    `json:"usage"`
}

// Result is returned by Execute in place of an error.
type Result struct {
	TaskID   string            `json:"task_id"`
	Success  bool              `json:"success"`
	Status   domain.TaskStatus `json:"status"`
	Data     *Output           `json:"data,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Parser turns the model reply into a grading result.
type Parser interface {
	Parse(ctx context.Context, raw string) (*domain.GradingResult, error)
}

// StatusSink records task status. Failures are logged and ignored.
type StatusSink interface {
	UpdateStatus(ctx context.Context, entity *domain.EntityRef, status domain.TaskStatus) error
}

// Broadcaster pushes task events to listeners. Failures are logged and ignored.
type Broadcaster interface {
	Broadcast(ctx context.Context, entity *domain.EntityRef, event string, data any) error
}

// Config names the collaborators and model defaults. A nil Temperature keeps
// the request default; zero is a valid setting.
type Config struct {
	Collector     string        `json:"collector" mapstructure:"collector" validate:"required"`
	PromptBuilder string        `json:"prompt_builder" mapstructure:"prompt_builder" validate:"required"`
	Storer        string        `json:"storer" mapstructure:"storer" validate:"required"`
	Model         string        `json:"model" mapstructure:"model" validate:"required"`
	MaxTokens     int           `json:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
	Temperature   *float64      `json:"temperature,omitempty" mapstructure:"temperature" validate:"omitempty,gte=0,lte=1"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout" validate:"gte=0"`
}

// Pipeline runs tasks. It is safe for concurrent use when its collaborators are.
type Pipeline struct {
	cfg         Config
	collector   Collector
	builder     PromptBuilder
	storer      Storer
	generator   llm.Generator
	parser      Parser
	status      StatusSink
	broadcaster Broadcaster
	now         func() time.Time
	logger      *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithStatusSink sets where status transitions are recorded.
func WithStatusSink(s StatusSink) Option { return func(p *Pipeline) { p.status = s } }

// WithBroadcaster sets where completion and failure events go.
func WithBroadcaster(b Broadcaster) Option { return func(p *Pipeline) { p.broadcaster = b } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// New resolves cfg's collaborators from reg. Unknown names fail here.
func New(reg *Registry, cfg Config, gen llm.Generator, parser Parser, opts ...Option) (*Pipeline, error) {
	collector, err := reg.collector(cfg.Collector)
	if err != nil {
		return nil, err
	}
	builder, err := reg.promptBuilder(cfg.PromptBuilder)
	if err != nil {
		return nil, err
	}
	storer, err := reg.storer(cfg.Storer)
	if err != nil {
		return nil, err
	}
	if gen == nil || parser == nil {
		return nil, errors.New("pipeline requires a generator and a parser")
	}

	p := &Pipeline{
		cfg:       cfg,
		collector: collector,
		builder:   builder,
		storer:    storer,
		generator: gen,
		parser:    parser,
		now:       time.Now,
		logger:    slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// run tracks one execution's state.
type run struct {
	task  Task
	state domain.TaskStatus
	start time.Time
}

// Execute drives task through every step.
func (p *Pipeline) Execute(ctx context.Context, task Task) (res Result) {
	r := &run{task: task, state: domain.StatusNotStarted, start: p.now()}
	defer func() {
		if rec := recover(); rec != nil {
			res = p.fail(ctx, r, fmt.Errorf("panic: %v", rec))
		}
	}()

	p.enter(ctx, r, domain.StatusStarted)

	p.enter(ctx, r, domain.StatusCollecting)
	data, err := p.collector.Collect(ctx, task)
	if err != nil {
		return p.fail(ctx, r, err)
	}

	p.enter(ctx, r, domain.StatusPrompting)
	prompt, err := p.builder.Build(ctx, task, data)
	if err != nil {
		return p.fail(ctx, r, err)
	}

	p.enter(ctx, r, domain.StatusRequesting)
	resp, err := p.generator.Generate(ctx, p.request(task, prompt))
	if err != nil {
		return p.fail(ctx, r, err)
	}

	p.enter(ctx, r, domain.StatusParsing)
	grading, err := p.parser.Parse(ctx, resp.Content)
	if err != nil {
		return p.fail(ctx, r, err)
	}
	if grading.HasError() {
		return p.fail(ctx, r, fmt.Errorf("%w: %s", errErrorResult, grading.Error))
	}

	p.enter(ctx, r, domain.StatusStoring)
	if err := p.storer.Store(ctx, task, grading); err != nil {
		return p.fail(ctx, r, err)
	}

	return p.complete(ctx, r, &Output{Grading: grading, Usage: resp.Metadata})
}

func (p *Pipeline) request(task Task, prompt Prompt) *transport.Request {
	kind := task.Kind
	if kind == "" {
		kind = DefaultKind
	}
	model := task.Model
	if model == "" {
		model = p.cfg.Model
	}

	opts := []transport.RequestOption{
		transport.WithSystemPrompt(prompt.System),
		transport.WithActor(task.Actor),
		transport.WithTrackable(task.Entity),
		transport.WithMetadata(map[string]any{"task_id": task.ID}),
	}
	if p.cfg.MaxTokens > 0 {
		opts = append(opts, transport.WithMaxTokens(p.cfg.MaxTokens))
	}
	if p.cfg.Temperature != nil {
		opts = append(opts, transport.WithTemperature(*p.cfg.Temperature))
	}
	if p.cfg.Timeout > 0 {
		opts = append(opts, transport.WithTimeout(p.cfg.Timeout))
	}
	return transport.NewRequest(prompt.User, model, kind, opts...)
}

func (p *Pipeline) enter(ctx context.Context, r *run, next domain.TaskStatus) {
	r.state = next
	p.updateStatus(ctx, r.task, next)
}

func (p *Pipeline) complete(ctx context.Context, r *run, out *Output) Result {
	elapsed := p.now().Sub(r.start)
	r.state = domain.StatusCompleted

	taskDuration.WithLabelValues(string(domain.StatusCompleted)).Observe(elapsed.Seconds())
	tasksTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()

	p.updateStatus(ctx, r.task, domain.StatusCompleted)
	p.broadcast(ctx, r.task, EventCompleted, out)

	p.logger.Info("task completed",
		"task_id", r.task.ID,
		"entity", r.task.subject().String(),
		"duration_ms", elapsed.Milliseconds(),
		"total_tokens", out.Usage.TotalTokens)

	return Result{
		TaskID:   r.task.ID,
		Success:  true,
		Status:   domain.StatusCompleted,
		Data:     out,
		Duration: elapsed,
	}
}

func (p *Pipeline) fail(ctx context.Context, r *run, err error) Result {
	elapsed := p.now().Sub(r.start)
	step := r.state
	r.state = domain.StatusFailed

	taskDuration.WithLabelValues(string(domain.StatusFailed)).Observe(elapsed.Seconds())
	tasksTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	stepFailures.WithLabelValues(string(step)).Inc()

	p.logger.Error("task failed",
		"task_id", r.task.ID,
		"entity", r.task.subject().String(),
		"step", string(step),
		"duration_ms", elapsed.Milliseconds(),
		"error", err)

	p.updateStatus(ctx, r.task, domain.StatusFailed)
	p.broadcast(ctx, r.task, EventFailed, map[string]any{
		"step":  string(step),
		"error": err.Error(),
	})

	return Result{
		TaskID:   r.task.ID,
		Success:  false,
		Status:   domain.StatusFailed,
		Error:    err.Error(),
		Duration: elapsed,
	}
}

// updateStatus and broadcast are fire-and-forget, including panics.
func (p *Pipeline) updateStatus(ctx context.Context, task Task, status domain.TaskStatus) {
	if p.status == nil {
		return
	}
	defer p.swallow("status update", task)
	if err := p.status.UpdateStatus(ctx, task.subject(), status); err != nil {
		p.logger.Warn("status update failed",
			"task_id", task.ID,
			"status", string(status),
			"error", err)
	}
}

func (p *Pipeline) broadcast(ctx context.Context, task Task, event string, data any) {
	if p.broadcaster == nil {
		return
	}
	defer p.swallow("broadcast", task)
	if err := p.broadcaster.Broadcast(ctx, task.subject(), event, data); err != nil {
		p.logger.Warn("broadcast failed",
			"task_id", task.ID,
			"event", event,
			"error", err)
	}
}

func (p *Pipeline) swallow(what string, task Task) {
	if rec := recover(); rec != nil {
		p.logger.Error(what+" panicked", "task_id", task.ID, "panic", rec)
	}
}
