package domain

import (
	"math"
	"regexp"
	"strings"
)

// Completeness thresholds for a parsed grading result.
const (
	MinFeedbackLength = 20
	MinStrengths      = 1
	MinOpportunities  = 1
)

var letterGradePattern = regexp.MustCompile(`^[A-F][+-]?$`)

// GradingResult is the structured form of an LLM grading response.
// A result with Error set carries no structured data.
type GradingResult struct {
	Feedback      string             `json:"feedback"`
	Strengths     []string           `json:"strengths"`
	Opportunities []string           `json:"opportunities"`
	OverallGrade  string             `json:"overall_grade"`
	Scores        map[string]float64 `json:"scores"`
	Error         string             `json:"error,omitempty"`
}

// ErrorResult returns an error-tagged result signalling total parse failure.
func ErrorResult(msg string) *GradingResult {
	return &GradingResult{Error: msg}
}

// HasError reports whether the result is error-tagged.
func (r *GradingResult) HasError() bool {
	return r != nil && r.Error != ""
}

// IsValid requires feedback, at least one strength and opportunity, a grade
// and non-empty scores.
func (r *GradingResult) IsValid() bool {
	if r == nil || r.HasError() {
		return false
	}
	return strings.TrimSpace(r.Feedback) != "" &&
		len(r.Strengths) > 0 &&
		len(r.Opportunities) > 0 &&
		strings.TrimSpace(r.OverallGrade) != "" &&
		len(r.Scores) > 0
}

// IsComplete applies the stricter checks on top of IsValid: minimum feedback
// length and list counts, a letter grade, and finite non-negative scores.
func (r *GradingResult) IsComplete() bool {
	if !r.IsValid() {
		return false
	}
	if len(strings.TrimSpace(r.Feedback)) < MinFeedbackLength {
		return false
	}
	if countNonBlank(r.Strengths) < MinStrengths || countNonBlank(r.Opportunities) < MinOpportunities {
		return false
	}
	if !letterGradePattern.MatchString(strings.TrimSpace(r.OverallGrade)) {
		return false
	}
	for _, v := range r.Scores {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}

func countNonBlank(items []string) int {
	n := 0
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}
