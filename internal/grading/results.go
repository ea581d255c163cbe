package grading

import (
	"context"
	"sync"

	"github.com/ahrav/go-grader/internal/domain"
	"github.com/ahrav/go-grader/internal/pipeline"
)

// MemoryResults keeps the latest result per task. It backs tests and
// single-process deployments without Postgres.
type MemoryResults struct {
	mu      sync.RWMutex
	results map[string]domain.GradingResult
}

// NewMemoryResults returns an empty store.
func NewMemoryResults() *MemoryResults {
	return &MemoryResults{results: make(map[string]domain.GradingResult)}
}

// Store implements pipeline.Storer.
func (m *MemoryResults) Store(_ context.Context, task pipeline.Task, result *domain.GradingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[task.ID] = *result
	return nil
}

// Get returns the stored result for taskID.
func (m *MemoryResults) Get(taskID string) (domain.GradingResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[taskID]
	return r, ok
}
