package worker

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-grader/internal/grading"
	"github.com/ahrav/go-grader/internal/workflow"
)

// Options configures the Temporal connection.
type Options struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Dial connects to Temporal with the process slog logger.
func Dial(opts Options) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  opts.HostPort,
		Namespace: opts.Namespace,
		Logger:    log.NewStructuredLogger(slog.Default().With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal at %s: %w", opts.HostPort, err)
	}
	return c, nil
}

// New builds a worker on the task queue. The caller registers workflows and
// activities with RegisterAll and then runs it.
func New(c client.Client, opts Options) sdkworker.Worker {
	return sdkworker.New(c, opts.TaskQueue, sdkworker.Options{})
}

// WorkflowStarter is the subset of client.Client used to enqueue grading.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, wf interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Enqueuer starts grading workflows. Workflow ids derive from the
// submission id, so enqueueing a submission that is already being graded
// returns the running workflow.
type Enqueuer struct {
	starter   WorkflowStarter
	taskQueue string
}

// NewEnqueuer returns an Enqueuer on taskQueue.
func NewEnqueuer(starter WorkflowStarter, taskQueue string) *Enqueuer {
	return &Enqueuer{starter: starter, taskQueue: taskQueue}
}

// Enqueue starts a workflow for sub and returns its workflow id.
func (e *Enqueuer) Enqueue(ctx context.Context, sub grading.Submission) (string, error) {
	run, err := e.starter.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "grade-" + sub.ID,
		TaskQueue: e.taskQueue,
	}, workflow.GradeSubmissionWorkflowName, workflow.GradeRequest{Submission: sub})
	if err != nil {
		return "", fmt.Errorf("failed to start grading workflow for %s: %w", sub.ID, err)
	}
	return run.GetID(), nil
}
