package domain

// TaskStatus is the lifecycle state of a processing task.
type TaskStatus string

// Pipeline states in execution order. Failed may follow any step.
const (
	StatusNotStarted TaskStatus = "not_started"
	StatusStarted    TaskStatus = "started"
	StatusCollecting TaskStatus = "collecting"
	StatusPrompting  TaskStatus = "prompting"
	StatusRequesting TaskStatus = "requesting"
	StatusParsing    TaskStatus = "parsing"
	StatusStoring    TaskStatus = "storing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"

	// StatusUngraded is the neutral caller-facing status when grading could not run or finish.
	StatusUngraded TaskStatus = "ungraded"
)

// IsTerminal reports whether no further transitions are expected.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
