// Package grading is the caller-facing entry point for grading a
// submission. It checks the llm_grading feature gate, runs the pipeline and
// folds every failure into an ungraded Outcome instead of an error.
package grading

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ahrav/go-grader/internal/domain"
	"github.com/ahrav/go-grader/internal/featureflag"
	"github.com/ahrav/go-grader/internal/pipeline"
)

// NotEnabledMessage is returned when the llm_grading gate is off.
const NotEnabledMessage = "LLM grading is not enabled"

// Submission is one piece of student work to grade. Either Text or
// DocumentID must be set.
type Submission struct {
	ID         string            `json:"id"`
	Actor      *domain.EntityRef `json:"actor,omitempty"`
	Text       string            `json:"text,omitempty"`
	DocumentID string            `json:"document_id,omitempty"`
	Rubric     string            `json:"rubric,omitempty"`
	Model      string            `json:"model,omitempty"`
}

// Outcome is what callers see. Status is completed or ungraded.
type Outcome struct {
	SubmissionID string                `json:"submission_id"`
	TaskID       string                `json:"task_id,omitempty"`
	Status       domain.TaskStatus     `json:"status"`
	Result       *domain.GradingResult `json:"result,omitempty"`
	Error        string                `json:"error,omitempty"`
	TotalTokens  int64                 `json:"total_tokens,omitempty"`
	Cost         float64               `json:"cost,omitempty"`
}

// Graded reports whether a result is available.
func (o Outcome) Graded() bool { return o.Status == domain.StatusCompleted }

// Executor runs a pipeline task.
type Executor interface {
	Execute(ctx context.Context, task pipeline.Task) pipeline.Result
}

// Service grades submissions.
type Service struct {
	gate     featureflag.Gate
	pipeline Executor
	logger   *slog.Logger
}

// NewService wires the gate and pipeline.
func NewService(gate featureflag.Gate, exec Executor) *Service {
	return &Service{
		gate:     gate,
		pipeline: exec,
		logger:   slog.Default().With("component", "grading"),
	}
}

// GradeSubmission grades sub. It never returns an error: a disabled gate or
// a failed pipeline yields an ungraded Outcome with a readable message.
func (s *Service) GradeSubmission(ctx context.Context, sub Submission) Outcome {
	out := Outcome{SubmissionID: sub.ID, Status: domain.StatusUngraded}

	if sub.Actor != nil {
		ctx = featureflag.WithActor(ctx, sub.Actor.String())
	}
	if s.gate == nil || !s.gate.Enabled(ctx, featureflag.LLMGrading) {
		s.logger.Info("grading skipped, feature disabled", "submission_id", sub.ID)
		out.Error = NotEnabledMessage
		return out
	}

	task := pipeline.Task{
		ID:     uuid.NewString(),
		Entity: domain.NewEntityRef("submission", sub.ID),
		Actor:  sub.Actor,
		Kind:   pipeline.DefaultKind,
		Model:  sub.Model,
		Input: pipeline.Data{
			InputText:       sub.Text,
			InputDocumentID: sub.DocumentID,
			InputRubric:     sub.Rubric,
		},
	}
	out.TaskID = task.ID

	res := s.pipeline.Execute(ctx, task)
	if !res.Success || res.Data == nil {
		out.Error = res.Error
		if out.Error == "" {
			out.Error = "grading failed"
		}
		return out
	}

	out.Status = domain.StatusCompleted
	out.Result = res.Data.Grading
	out.TotalTokens = res.Data.Usage.TotalTokens
	out.Cost = res.Data.Usage.Cost
	return out
}
