package parsing

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/ahrav/go-grader/internal/domain"
)

var errNoSections = errors.New("no labelled feedback section")

type section int

const (
	sectionNone section = iota
	sectionFeedback
	sectionStrengths
	sectionOpportunities
	sectionGrade
	sectionScores
)

var (
	labelledHeader = regexp.MustCompile(
		`(?i)^\s*(?:#{1,6}\s*)?[*_]*\s*(feedback|overall feedback|summary|strengths|opportunities|areas for improvement|improvements|weaknesses|overall grade|grade|scores)\s*[*_]*\s*:\s*[*_]*\s*(.*)$`)
	markdownHeader = regexp.MustCompile(
		`(?i)^\s*#{1,6}\s*[*_]*\s*(feedback|overall feedback|summary|strengths|opportunities|areas for improvement|improvements|weaknesses|overall grade|grade|scores)\s*[*_]*\s*$`)
	letterGrade = regexp.MustCompile(`\b([A-F][+-]?)(?:\s|$|[.,;)])`)
)

func sectionFor(label string) section {
	switch strings.ToLower(label) {
	case "feedback", "overall feedback", "summary":
		return sectionFeedback
	case "strengths":
		return sectionStrengths
	case "opportunities", "areas for improvement", "improvements", "weaknesses":
		return sectionOpportunities
	case "overall grade", "grade":
		return sectionGrade
	case "scores":
		return sectionScores
	default:
		return sectionNone
	}
}

// pattern reads labelled sections ("Feedback:", "Strengths:", "Grade:") with
// bullet lists underneath.
type pattern struct{}

func (pattern) Name() string { return string(KindPattern) }

func (pattern) Parse(_ context.Context, raw string) (*domain.GradingResult, error) {
	sections := splitSections(raw)
	feedback := strings.Join(sections[sectionFeedback], " ")
	if strings.TrimSpace(feedback) == "" {
		return nil, errNoSections
	}

	return &domain.GradingResult{
		Feedback:      feedback,
		Strengths:     listItems(sections[sectionStrengths]),
		Opportunities: listItems(sections[sectionOpportunities]),
		OverallGrade:  findGrade(strings.Join(sections[sectionGrade], " ")),
		Scores:        parseScoresText(strings.Join(sections[sectionScores], "\n")),
	}, nil
}

// splitSections groups non-blank lines under the most recent header.
func splitSections(raw string) map[section][]string {
	out := make(map[section][]string)
	current := sectionNone
	for _, line := range strings.Split(raw, "\n") {
		if m := labelledHeader.FindStringSubmatch(line); m != nil {
			current = sectionFor(m[1])
			if rest := strings.TrimSpace(m[2]); rest != "" {
				out[current] = append(out[current], rest)
			}
			continue
		}
		if m := markdownHeader.FindStringSubmatch(line); m != nil {
			current = sectionFor(m[1])
			continue
		}
		if line = strings.TrimSpace(line); line != "" && current != sectionNone {
			out[current] = append(out[current], line)
		}
	}
	return out
}

// listItems strips bullet markers. Inline text after a header counts as one item.
func listItems(lines []string) []string {
	items := make([]string, 0, len(lines))
	for _, l := range lines {
		if item := strings.TrimSpace(bulletPrefix.ReplaceAllString(l, "")); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func findGrade(s string) string {
	if m := letterGrade.FindStringSubmatch(strings.TrimSpace(s) + " "); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}
