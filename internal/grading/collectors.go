package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahrav/go-grader/internal/document"
	"github.com/ahrav/go-grader/internal/pipeline"
)

// Task input keys.
const (
	InputText       = "text"
	InputDocumentID = "document_id"
	InputRubric     = "rubric"
)

// Registered collaborator names.
const (
	CollectorSubmission = "submission"
	PromptGrading       = "grading"
	StorerMemory        = "memory"
)

var errNoSubmissionText = errors.New("submission has neither text nor a document id")

// SubmissionCollector uses inline text when present and otherwise fetches
// the referenced document. Fetch errors collapse into
// document.ErrFetchFailed; the detail is logged.
type SubmissionCollector struct {
	fetcher document.Fetcher
	tokens  document.TokenProvider
	logger  *slog.Logger
}

// NewSubmissionCollector builds a collector. fetcher may be nil when only
// inline submissions are expected.
func NewSubmissionCollector(fetcher document.Fetcher, tokens document.TokenProvider) *SubmissionCollector {
	return &SubmissionCollector{
		fetcher: fetcher,
		tokens:  tokens,
		logger:  slog.Default().With("component", "grading_collector"),
	}
}

// Collect implements pipeline.Collector.
func (c *SubmissionCollector) Collect(ctx context.Context, task pipeline.Task) (pipeline.Data, error) {
	data := pipeline.Data{InputRubric: stringInput(task.Input, InputRubric)}

	if text := stringInput(task.Input, InputText); strings.TrimSpace(text) != "" {
		data[InputText] = text
		return data, nil
	}

	docID := stringInput(task.Input, InputDocumentID)
	if docID == "" {
		return nil, errNoSubmissionText
	}
	if c.fetcher == nil || c.tokens == nil {
		return nil, fmt.Errorf("%w: document fetching is not configured", document.ErrFetchFailed)
	}

	text, err := c.fetch(ctx, task, docID)
	if err != nil {
		c.logger.Warn("document fetch failed",
			"task_id", task.ID,
			"document_id", docID,
			"error", err)
		return nil, document.ErrFetchFailed
	}
	data[InputText] = text
	data[InputDocumentID] = docID
	return data, nil
}

func (c *SubmissionCollector) fetch(ctx context.Context, task pipeline.Task, docID string) (string, error) {
	tok, err := c.tokens.Token(ctx, task.Actor)
	if err != nil {
		return "", err
	}
	return c.fetcher.Fetch(ctx, docID, tok)
}

func stringInput(in pipeline.Data, key string) string {
	s, _ := in[key].(string)
	return s
}
