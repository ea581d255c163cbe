package grading

import (
	"github.com/ahrav/go-grader/internal/document"
	"github.com/ahrav/go-grader/internal/pipeline"
)

// Register binds the grading collaborators. Extra storers, such as the
// Postgres result repository, are registered by the caller.
func Register(reg *pipeline.Registry, fetcher document.Fetcher, tokens document.TokenProvider) *MemoryResults {
	results := NewMemoryResults()
	reg.RegisterCollector(CollectorSubmission, NewSubmissionCollector(fetcher, tokens))
	reg.RegisterPromptBuilder(PromptGrading, PromptBuilder{})
	reg.RegisterStorer(StorerMemory, results)
	return results
}
