package costtracking

import (
	"context"
	"sync"

	"github.com/ahrav/go-grader/internal/domain"
)

// MemoryRepository keeps entries in process. Used by tests and local runs
// without a database.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []domain.CostLogEntry
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository { return &MemoryRepository{} }

// Append implements Repository.
func (m *MemoryRepository) Append(_ context.Context, entry *domain.CostLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (m *MemoryRepository) Entries() []domain.CostLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CostLogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}
