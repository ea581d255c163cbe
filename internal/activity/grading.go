// Package activity hosts grading as a Temporal activity.
package activity

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahrav/go-grader/internal/grading"
	base "github.com/ahrav/go-grader/pkg/activity"
	"github.com/ahrav/go-grader/pkg/events"
)

// GradeSubmissionName is the registered activity name.
const GradeSubmissionName = "GradeSubmission"

// Grading lifecycle events.
const (
	EventGradingCompleted = "grading.completed"
	EventGradingUngraded  = "grading.ungraded"

	eventSource = "grader.activity"
)

// Grader grades a submission. grading.Service satisfies it.
type Grader interface {
	GradeSubmission(ctx context.Context, sub grading.Submission) grading.Outcome
}

// GradingActivities exposes the grading service to Temporal.
type GradingActivities struct {
	base.BaseActivities
	grader Grader
}

// NewGradingActivities wires the grader with shared activity plumbing.
func NewGradingActivities(b base.BaseActivities, grader Grader) *GradingActivities {
	return &GradingActivities{BaseActivities: b, grader: grader}
}

// GradeSubmission grades sub. An ungraded outcome is a successful activity
// result; only malformed input fails the activity.
func (a *GradingActivities) GradeSubmission(ctx context.Context, sub grading.Submission) (*grading.Outcome, error) {
	if err := validateSubmission(sub); err != nil {
		return nil, nonRetryable(ErrorTypeValidation, err, "invalid submission")
	}

	wf := a.GetWorkflowContext(ctx)
	base.RecordHeartbeat(ctx, "grading", sub.ID)
	base.SafeLog(ctx, "Grading submission",
		"submission_id", sub.ID,
		"workflow_id", wf.WorkflowID,
		"attempt", wf.Attempt)

	out := a.grader.GradeSubmission(ctx, sub)

	eventType := EventGradingCompleted
	if !out.Graded() {
		eventType = EventGradingUngraded
	}
	env, err := events.NewEnvelope(eventType, eventSource, wf.WorkflowID+":"+sub.ID, out)
	if err != nil {
		base.SafeLogError(ctx, "Failed to build grading event", "error", err)
		return &out, nil
	}
	env.CorrelationID = out.TaskID
	a.EmitEventSafe(ctx, env, eventType)

	return &out, nil
}

func validateSubmission(sub grading.Submission) error {
	if strings.TrimSpace(sub.ID) == "" {
		return fmt.Errorf("%w: submission id is required", ErrActivityValidation)
	}
	if strings.TrimSpace(sub.Text) == "" && strings.TrimSpace(sub.DocumentID) == "" {
		return fmt.Errorf("%w: text or document id is required", ErrActivityValidation)
	}
	return nil
}
