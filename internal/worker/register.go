// Package worker registers the grading workflow and activity with a
// Temporal worker and starts workflows on behalf of HTTP callers.
package worker

import (
	sdkactivity "go.temporal.io/sdk/activity"
	sdkworkflow "go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-grader/internal/activity"
	"github.com/ahrav/go-grader/internal/workflow"
	base "github.com/ahrav/go-grader/pkg/activity"
	"github.com/ahrav/go-grader/pkg/events"
)

// Registry is satisfied by a Temporal worker and by the SDK test
// environments.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options sdkworkflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options sdkactivity.RegisterOptions)
}

// RegisterAll registers the grading workflow and activity. Call it once,
// before the worker starts. sink may be nil to skip lifecycle events.
func RegisterAll(r Registry, grader activity.Grader, sink events.EventSink) {
	acts := activity.NewGradingActivities(base.NewBaseActivities(sink), grader)

	r.RegisterWorkflowWithOptions(workflow.GradeSubmissionWorkflow,
		sdkworkflow.RegisterOptions{Name: workflow.GradeSubmissionWorkflowName})
	r.RegisterActivityWithOptions(acts.GradeSubmission,
		sdkactivity.RegisterOptions{Name: activity.GradeSubmissionName})
}
