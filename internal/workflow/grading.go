// Package workflow defines the Temporal workflow that grades a submission.
// Workflow code is deterministic; every side effect runs in an activity.
package workflow

import (
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-grader/internal/activity"
	"github.com/ahrav/go-grader/internal/grading"
)

// GradeSubmissionWorkflowName is the registered workflow type.
const GradeSubmissionWorkflowName = "GradeSubmissionWorkflow"

// DefaultActivityTimeout bounds one grading attempt when the request sets
// none.
const DefaultActivityTimeout = 3 * time.Minute

var errMissingSubmissionID = errors.New("submission id is required")

// GradeRequest starts a grading workflow.
type GradeRequest struct {
	Submission     grading.Submission `json:"submission"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
}

// GradeSubmissionWorkflow runs the grading activity once per attempt under
// Temporal's retry policy. Validation failures are not retried.
func GradeSubmissionWorkflow(ctx workflow.Context, req GradeRequest) (*grading.Outcome, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "grade_submission.v", workflow.DefaultVersion, currentVersion)

	if strings.TrimSpace(req.Submission.ID) == "" {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid grading request",
			activity.ErrorTypeValidation,
			errMissingSubmissionID,
		)
	}

	timeout := DefaultActivityTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{activity.ErrorTypeValidation},
		},
	})

	logger := workflow.GetLogger(ctx)
	logger.Info("Grading submission", "submission_id", req.Submission.ID)

	var out grading.Outcome
	if err := workflow.ExecuteActivity(ctx, activity.GradeSubmissionName, req.Submission).Get(ctx, &out); err != nil {
		logger.Error("Grading activity failed", "submission_id", req.Submission.ID, "error", err)
		return nil, err
	}

	logger.Info("Grading finished", "submission_id", req.Submission.ID, "status", out.Status)
	return &out, nil
}
