// Package costtracking writes one immutable cost log entry per successful
// provider call. Recording never fails the caller: storage errors are logged
// and swallowed.
package costtracking

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-grader/internal/domain"
)

// Repository appends cost log entries. Entries are never updated.
type Repository interface {
	Append(ctx context.Context, entry *domain.CostLogEntry) error
}

// Pricer prices a token pair for a model.
type Pricer interface {
	CalculateCost(ctx context.Context, model string, promptTokens, completionTokens int64) float64
}

// CostContext identifies what a cost is attributed to. ID is fresh per
// context and becomes the cost log entry id. Trackable, Actor and Metadata
// are carried as given; nil stays nil.
type CostContext struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Trackable *domain.EntityRef `json:"trackable,omitempty"`
	Actor     *domain.EntityRef `json:"actor,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// CostData is the measured usage of one provider call.
type CostData struct {
	RequestID        string  `json:"request_id"`
	Model            string  `json:"model"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Recorder persists cost log entries.
type Recorder struct {
	repo   Repository
	pricer Pricer
	now    func() time.Time
	logger *slog.Logger
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithClock replaces time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder builds a recorder over repo, pricing through pricer.
func NewRecorder(repo Repository, pricer Pricer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		repo:   repo,
		pricer: pricer,
		now:    time.Now,
		logger: slog.Default().With("component", "cost_tracking"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GenerateContext stamps a fresh id onto the attribution.
func (r *Recorder) GenerateContext(kind string, trackable, actor *domain.EntityRef, metadata map[string]any) CostContext {
	return CostContext{
		ID:        uuid.NewString(),
		Kind:      kind,
		Trackable: trackable,
		Actor:     actor,
		Metadata:  maps.Clone(metadata),
	}
}

// CalculateCost delegates to the configured pricer.
func (r *Recorder) CalculateCost(ctx context.Context, model string, promptTokens, completionTokens int64) float64 {
	return r.pricer.CalculateCost(ctx, model, promptTokens, completionTokens)
}

// Record appends one entry. It never returns an error and never panics;
// failures are logged and counted.
func (r *Recorder) Record(ctx context.Context, data CostData, cc CostContext) {
	defer func() {
		if p := recover(); p != nil {
			recordFailures.WithLabelValues("panic").Inc()
			r.logger.Error("cost log write panicked",
				"request_id", data.RequestID,
				"model", data.Model,
				"error", fmt.Sprint(p))
		}
	}()

	entry := r.entry(data, cc)
	if err := entry.Validate(); err != nil {
		recordFailures.WithLabelValues("invalid").Inc()
		r.logger.Error("cost log entry rejected", "request_id", data.RequestID, "error", err)
		return
	}

	if err := r.repo.Append(ctx, entry); err != nil {
		recordFailures.WithLabelValues("storage").Inc()
		r.logger.Error("failed to record cost",
			"request_id", data.RequestID,
			"model", data.Model,
			"cost", data.Cost,
			"error", err)
		return
	}

	costTotal.WithLabelValues(data.Model, cc.Kind).Add(data.Cost)
	tokensTotal.WithLabelValues(data.Model, "prompt").Add(float64(data.PromptTokens))
	tokensTotal.WithLabelValues(data.Model, "completion").Add(float64(data.CompletionTokens))
}

func (r *Recorder) entry(data CostData, cc CostContext) *domain.CostLogEntry {
	id := cc.ID
	if id == "" {
		id = uuid.NewString()
	}
	total := data.TotalTokens
	if total == 0 {
		total = data.PromptTokens + data.CompletionTokens
	}
	return &domain.CostLogEntry{
		ID:               id,
		Actor:            cc.Actor,
		Trackable:        cc.Trackable,
		Kind:             cc.Kind,
		RequestID:        data.RequestID,
		Model:            data.Model,
		PromptTokens:     data.PromptTokens,
		CompletionTokens: data.CompletionTokens,
		TotalTokens:      total,
		Cost:             data.Cost,
		Metadata:         maps.Clone(cc.Metadata),
		CreatedAt:        r.now().UTC(),
	}
}
