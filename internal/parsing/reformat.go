package parsing

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahrav/go-grader/internal/domain"
	"github.com/ahrav/go-grader/internal/llm"
	"github.com/ahrav/go-grader/internal/llm/transport"
)

// DefaultReformatModel is used by llm_reformat when Deps names none.
const DefaultReformatModel = "gpt-4o-mini"

// KindReformatRequest tags reformat calls in cost logs.
const KindReformatRequest = "parse_reformat"

const reformatSystemPrompt = `You convert grading feedback into JSON. Reply with one JSON object and nothing else.
Keys: "feedback" (string), "strengths" (array of strings), "opportunities" (array of strings),
"overall_grade" (string), "scores" (object mapping criterion to number).
Do not invent content that is not in the text.`

// reformat asks a model to restate the text as JSON, then decodes strictly.
// Provider errors, including overloads, are returned unchanged.
type reformat struct {
	gen   llm.Generator
	model string
}

func newReformat(d Deps) (Strategy, error) {
	if d.Generator == nil {
		return nil, errNoGenerator
	}
	model := d.ReformatModel
	if model == "" {
		model = DefaultReformatModel
	}
	return &reformat{gen: d.Generator, model: model}, nil
}

func (r *reformat) Name() string { return string(KindLLMReformat) }

func (r *reformat) Parse(ctx context.Context, raw string) (*domain.GradingResult, error) {
	req := transport.NewRequest(raw, r.model, KindReformatRequest,
		transport.WithSystemPrompt(reformatSystemPrompt),
		transport.WithTemperature(0),
	)
	resp, err := r.gen.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	m, err := decodeObject(extractJSON(strings.TrimSpace(resp.Content)))
	if err != nil {
		return nil, fmt.Errorf("reformatted output is not JSON: %w", err)
	}
	return fromMap(m)
}
