package parsing

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ahrav/go-grader/internal/domain"
)

var (
	errMissingFeedback = errors.New("feedback missing")
	errNotListLike     = errors.New("value is not a list or string")
)

var (
	scoreSeparator = regexp.MustCompile(`[,;\n]+`)
	firstNumber    = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	bulletPrefix   = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)
)

// hasMinimalShape reports whether a decoded object can take the fast path:
// a feedback string plus strengths and opportunities as JSON arrays. Anything
// looser, such as a bare string list, goes through the strategies.
func hasMinimalShape(m map[string]any) bool {
	fb, ok := m["feedback"].(string)
	if !ok || strings.TrimSpace(fb) == "" {
		return false
	}
	_, strengths := m["strengths"].([]any)
	_, opportunities := m["opportunities"].([]any)
	return strengths && opportunities
}

// fromMap builds a normalized result from a decoded JSON object.
func fromMap(m map[string]any) (*domain.GradingResult, error) {
	feedback, _ := m["feedback"].(string)
	if strings.TrimSpace(feedback) == "" {
		return nil, errMissingFeedback
	}

	strengths, err := toStringList(m["strengths"])
	if err != nil {
		return nil, fmt.Errorf("strengths: %w", err)
	}
	opportunities, err := toStringList(m["opportunities"])
	if err != nil {
		return nil, fmt.Errorf("opportunities: %w", err)
	}

	return &domain.GradingResult{
		Feedback:      strings.TrimSpace(feedback),
		Strengths:     strengths,
		Opportunities: opportunities,
		OverallGrade:  toGrade(m["overall_grade"]),
		Scores:        toScores(m["scores"]),
	}, nil
}

// toStringList accepts a list of strings, a single string or nothing.
func toStringList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}, nil
		}
		return []string{}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case nil:
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out, nil
	default:
		return nil, errNotListLike
	}
}

func toGrade(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// toScores accepts a mapping or "Label: n" text. Unparseable values become 0.
func toScores(v any) map[string]float64 {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]float64, len(t))
		for label, raw := range t {
			out[label] = toFloat(raw)
		}
		return out
	case map[string]float64:
		return t
	case string:
		return parseScoresText(t)
	default:
		return map[string]float64{}
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		return leadingNumber(t)
	default:
		return 0
	}
}

// parseScoresText reads "Content: 8, Organization: 9" style text.
func parseScoresText(s string) map[string]float64 {
	out := map[string]float64{}
	for _, part := range scoreSeparator.Split(s, -1) {
		label, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		label = strings.Trim(bulletPrefix.ReplaceAllString(label, ""), " \t*_")
		if label == "" {
			continue
		}
		out[label] = leadingNumber(value)
	}
	return out
}

func leadingNumber(s string) float64 {
	m := firstNumber.FindString(s)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return f
}

// normalizeResult fills nil collections so every strategy returns the same shape.
func normalizeResult(r *domain.GradingResult) *domain.GradingResult {
	if r.Strengths == nil {
		r.Strengths = []string{}
	}
	if r.Opportunities == nil {
		r.Opportunities = []string{}
	}
	if r.Scores == nil {
		r.Scores = map[string]float64{}
	}
	r.Feedback = strings.TrimSpace(r.Feedback)
	r.OverallGrade = strings.TrimSpace(r.OverallGrade)
	return r
}
