package parsing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
	"github.com/ahrav/go-grader/internal/parsing"
)

func defaultChain(t *testing.T) *parsing.Chain {
	t.Helper()
	chain, err := parsing.NewChain(nil, parsing.Deps{})
	require.NoError(t, err)
	return chain
}

func TestLenientJSON(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		grade string
	}{
		{
			name:  "fenced block with prose",
			raw:   "Here is the grading:\n```json\n{\"feedback\": \"Solid work.\", \"strengths\": [\"Voice\"], \"opportunities\": [], \"overall_grade\": \"A-\"}\n```\nThanks!",
			grade: "A-",
		},
		{
			name:  "trailing commas",
			raw:   `{"feedback": "Solid work.", "strengths": ["Voice",], "opportunities": ["Length",], "overall_grade": "B",}`,
			grade: "B",
		},
		{
			name:  "truncated object",
			raw:   `{"feedback": "Solid work.", "strengths": ["Voice"], "opportunities": ["Length"], "overall_grade": "C+"`,
			grade: "C+",
		},
		{
			name:  "unquoted keys",
			raw:   `{feedback: "Solid work.", strengths: ["Voice"], opportunities: ["Length"], overall_grade: "B-"}`,
			grade: "B-",
		},
		{
			name:  "single quotes",
			raw:   `{'feedback': 'Solid work.', 'strengths': ['Voice'], 'opportunities': ['Length'], 'overall_grade': 'D'}`,
			grade: "D",
		},
	}

	chain, err := parsing.NewChain([]parsing.Kind{parsing.KindLenientJSON}, parsing.Deps{})
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := chain.Parse(context.Background(), tt.raw)
			require.NoError(t, err)
			assert.Equal(t, "Solid work.", res.Feedback)
			assert.Equal(t, []string{"Voice"}, res.Strengths)
			assert.Equal(t, tt.grade, res.OverallGrade)
		})
	}
}

func TestLenientJSON_KeyLikeTextInsideValues(t *testing.T) {
	chain, err := parsing.NewChain([]parsing.Kind{parsing.KindLenientJSON}, parsing.Deps{})
	require.NoError(t, err)

	raw := `{feedback: "Solid essay, note: the thesis is clear", strengths: ["Voice, tone: warm"], opportunities: ["Length"], overall_grade: "B"}`
	res, err := chain.Parse(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Solid essay, note: the thesis is clear", res.Feedback)
	assert.Equal(t, []string{"Voice, tone: warm"}, res.Strengths)
	assert.Equal(t, "B", res.OverallGrade)
}

func TestPatternStrategy(t *testing.T) {
	raw := `**Feedback:** The essay argues its point clearly but runs long.

Strengths:
- Clear thesis statement
- Good use of sources

## Areas for Improvement
1. Shorten the introduction
2) Vary sentence length

Overall Grade: B+
Scores:
- Content: 8
- Organization: 7.5
- Style: n/a`

	chain, err := parsing.NewChain([]parsing.Kind{parsing.KindPattern}, parsing.Deps{})
	require.NoError(t, err)

	res, err := chain.Parse(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "The essay argues its point clearly but runs long.", res.Feedback)
	assert.Equal(t, []string{"Clear thesis statement", "Good use of sources"}, res.Strengths)
	assert.Equal(t, []string{"Shorten the introduction", "Vary sentence length"}, res.Opportunities)
	assert.Equal(t, "B+", res.OverallGrade)
	assert.Equal(t, map[string]float64{"Content": 8, "Organization": 7.5, "Style": 0}, res.Scores)
}

func TestFreeTextStrategy(t *testing.T) {
	raw := `This essay makes a persuasive case for urban gardens.

The thesis is strong and the evidence is effective. The conclusion could be more specific.

I would assign a grade of B overall.`

	chain, err := parsing.NewChain([]parsing.Kind{parsing.KindFreeText}, parsing.Deps{})
	require.NoError(t, err)

	res, err := chain.Parse(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "This essay makes a persuasive case for urban gardens.", res.Feedback)
	assert.Equal(t, []string{"The thesis is strong and the evidence is effective."}, res.Strengths)
	assert.Equal(t, []string{"The conclusion could be more specific."}, res.Opportunities)
	assert.Equal(t, "B", res.OverallGrade)
}

func TestDefaultChain_UnparseableText(t *testing.T) {
	_, err := defaultChain(t).Parse(context.Background(), "lorem")

	var perr *llmerrors.ParsingError
	require.ErrorAs(t, err, &perr)
	require.Len(t, perr.Failures, 3)
	assert.Equal(t, "lenient_json", perr.Failures[0].Strategy)
	assert.Equal(t, "pattern", perr.Failures[1].Strategy)
	assert.Equal(t, "free_text", perr.Failures[2].Strategy)
}

func TestNormalization(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		strengths     []string
		opportunities []string
		scores        map[string]float64
	}{
		{
			name:          "bare strings become one-element lists",
			raw:           `{"feedback": "ok", "strengths": "Voice", "opportunities": "Length", "scores": {"A": 1}}`,
			strengths:     []string{"Voice"},
			opportunities: []string{"Length"},
			scores:        map[string]float64{"A": 1},
		},
		{
			name:          "lists pass through",
			raw:           `{"feedback": "ok", "strengths": ["a", "b"], "opportunities": [], "scores": {}}`,
			strengths:     []string{"a", "b"},
			opportunities: []string{},
			scores:        map[string]float64{},
		},
		{
			name:          "scores as text",
			raw:           `{"feedback": "ok", "strengths": [], "opportunities": [], "scores": "Content: 8, Organization: 9"}`,
			strengths:     []string{},
			opportunities: []string{},
			scores:        map[string]float64{"Content": 8, "Organization": 9},
		},
		{
			name:          "absent lists and unparseable scores",
			raw:           `{"feedback": "ok", "scores": {"Content": "eight", "Style": "7/10"}}`,
			strengths:     []string{},
			opportunities: []string{},
			scores:        map[string]float64{"Content": 0, "Style": 7},
		},
	}

	chain := defaultChain(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := chain.Parse(context.Background(), tt.raw)
			require.NoError(t, err)
			assert.Equal(t, "ok", res.Feedback)
			assert.Equal(t, tt.strengths, res.Strengths)
			assert.Equal(t, tt.opportunities, res.Opportunities)
			assert.Equal(t, tt.scores, res.Scores)
		})
	}
}
