package parsing

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/ahrav/go-grader/internal/domain"
)

var errNoStructure = errors.New("no recognizable grading structure in free text")

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd    = regexp.MustCompile(`[^.!?]+[.!?]+`)
	gradeMention   = regexp.MustCompile(`(?i:grade)(?:\s+(?i:of|is))?\s*[:=]?\s*([A-F][+-]?)(?:[\s.,;)]|$)`)
	strengthCue    = regexp.MustCompile(`(?i)\b(strength|strong|well|effective|excellent|clear|good)\b`)
	improvementCue = regexp.MustCompile(`(?i)\b(improve|improvement|could|should|consider|weak|lacks?|missing)\b`)
)

// freeText is the last-resort heuristic: the first prose paragraph becomes
// feedback, cue words sort sentences and bullets into strengths and
// opportunities, and a "grade ... X" mention supplies the letter grade.
type freeText struct{}

func (freeText) Name() string { return string(KindFreeText) }

func (freeText) Parse(_ context.Context, raw string) (*domain.GradingResult, error) {
	paragraphs := paragraphBreak.Split(strings.TrimSpace(raw), -1)

	var feedback string
	var strengths, opportunities []string
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if feedback == "" && !isList(p) {
			feedback = strings.Join(strings.Fields(p), " ")
		}
		for _, unit := range units(p) {
			switch {
			case improvementCue.MatchString(unit):
				opportunities = append(opportunities, unit)
			case strengthCue.MatchString(unit):
				strengths = append(strengths, unit)
			}
		}
	}

	var grade string
	if m := gradeMention.FindStringSubmatch(raw); m != nil {
		grade = m[1]
	}

	if feedback == "" || (len(strengths) == 0 && len(opportunities) == 0 && grade == "") {
		return nil, errNoStructure
	}
	return &domain.GradingResult{
		Feedback:      feedback,
		Strengths:     strengths,
		Opportunities: opportunities,
		OverallGrade:  grade,
		Scores:        map[string]float64{},
	}, nil
}

func isList(p string) bool {
	for _, l := range strings.Split(p, "\n") {
		if !bulletPrefix.MatchString(l) {
			return false
		}
	}
	return true
}

// units splits a paragraph into bullets, or sentences when it has none.
func units(p string) []string {
	if isList(p) {
		return listItems(strings.Split(p, "\n"))
	}
	var out []string
	for _, s := range sentenceEnd.FindAllString(strings.Join(strings.Fields(p), " "), -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
