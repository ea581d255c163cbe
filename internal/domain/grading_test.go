package domain_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/go-grader/internal/domain"
)

func validResult() *domain.GradingResult {
	return &domain.GradingResult{
		Feedback:      "Clear thesis and well organized argument throughout.",
		Strengths:     []string{"Strong thesis"},
		Opportunities: []string{"Cite more sources"},
		OverallGrade:  "B+",
		Scores:        map[string]float64{"Content": 8, "Organization": 9},
	}
}

func TestGradingResult_Validity(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(r *domain.GradingResult)
		valid    bool
		complete bool
	}{
		{name: "full result", mutate: func(*domain.GradingResult) {}, valid: true, complete: true},
		{name: "missing feedback", mutate: func(r *domain.GradingResult) { r.Feedback = " " }, valid: false, complete: false},
		{name: "no strengths", mutate: func(r *domain.GradingResult) { r.Strengths = nil }, valid: false, complete: false},
		{name: "no opportunities", mutate: func(r *domain.GradingResult) { r.Opportunities = []string{} }, valid: false, complete: false},
		{name: "no grade", mutate: func(r *domain.GradingResult) { r.OverallGrade = "" }, valid: false, complete: false},
		{name: "no scores", mutate: func(r *domain.GradingResult) { r.Scores = nil }, valid: false, complete: false},
		{name: "short feedback", mutate: func(r *domain.GradingResult) { r.Feedback = "Good." }, valid: true, complete: false},
		{name: "non letter grade", mutate: func(r *domain.GradingResult) { r.OverallGrade = "Excellent" }, valid: true, complete: false},
		{name: "blank strength only", mutate: func(r *domain.GradingResult) { r.Strengths = []string{"  "} }, valid: true, complete: false},
		{name: "nan score", mutate: func(r *domain.GradingResult) { r.Scores["Content"] = math.NaN() }, valid: true, complete: false},
		{name: "error tagged", mutate: func(r *domain.GradingResult) { r.Error = "boom" }, valid: false, complete: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validResult()
			tt.mutate(r)
			assert.Equal(t, tt.valid, r.IsValid())
			assert.Equal(t, tt.complete, r.IsComplete())
		})
	}
}

func TestErrorResult(t *testing.T) {
	r := domain.ErrorResult("no response to parse")
	assert.True(t, r.HasError())
	assert.Empty(t, r.Feedback)
	assert.Nil(t, r.Scores)
	assert.False(t, r.IsValid())

	var nilResult *domain.GradingResult
	assert.False(t, nilResult.HasError())
	assert.False(t, nilResult.IsValid())
}

func TestEntityRef(t *testing.T) {
	assert.Nil(t, domain.NewEntityRef("user", ""))
	ref := domain.NewEntityRef("submission", "42")
	assert.Equal(t, "submission:42", ref.String())
	assert.NoError(t, ref.Validate())

	parsed, err := domain.ParseEntityRef("submission:42")
	assert.NoError(t, err)
	assert.Equal(t, ref, parsed)

	parsed, err = domain.ParseEntityRef("")
	assert.NoError(t, err)
	assert.Nil(t, parsed)

	_, err = domain.ParseEntityRef("no-colon")
	assert.ErrorIs(t, err, domain.ErrInvalidEntityRef)

	var nilRef *domain.EntityRef
	assert.Equal(t, "", nilRef.String())
	assert.NoError(t, nilRef.Validate())
}
