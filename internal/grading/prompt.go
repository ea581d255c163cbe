package grading

import (
	"context"
	"errors"
	"strings"

	"github.com/ahrav/go-grader/internal/pipeline"
)

const systemPrompt = `You are an experienced writing instructor grading a student submission.
Respond with a single JSON object and no other text, using exactly these keys:
  "feedback": a paragraph of overall feedback,
  "strengths": an array of specific strengths,
  "opportunities": an array of specific improvements,
  "overall_grade": a letter grade from A to F, optionally with + or -,
  "scores": an object mapping each rubric criterion to a number from 0 to 10.`

const defaultRubric = "Content, Organization, Style, Mechanics"

var errEmptySubmission = errors.New("submission text is empty")

// PromptBuilder renders the grading prompt from collected text and rubric.
type PromptBuilder struct{}

// Build implements pipeline.PromptBuilder.
func (PromptBuilder) Build(_ context.Context, _ pipeline.Task, data pipeline.Data) (pipeline.Prompt, error) {
	text := strings.TrimSpace(stringInput(data, InputText))
	if text == "" {
		return pipeline.Prompt{}, errEmptySubmission
	}
	rubric := strings.TrimSpace(stringInput(data, InputRubric))
	if rubric == "" {
		rubric = defaultRubric
	}

	var b strings.Builder
	b.WriteString("Rubric criteria: ")
	b.WriteString(rubric)
	b.WriteString("\n\nSubmission:\n\"\"\"\n")
	b.WriteString(text)
	b.WriteString("\n\"\"\"")
	return pipeline.Prompt{System: systemPrompt, User: b.String()}, nil
}
