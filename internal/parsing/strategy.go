package parsing

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahrav/go-grader/internal/domain"
	"github.com/ahrav/go-grader/internal/llm"
)

var (
	// ErrUnknownStrategy is returned for a kind with no registered constructor.
	ErrUnknownStrategy = errors.New("unknown parsing strategy")

	errNoGenerator = errors.New("llm_reformat requires a generator")
)

// Strategy turns raw model output into a grading result. The context is
// always passed; strategies that do no I/O ignore it.
type Strategy interface {
	Name() string
	Parse(ctx context.Context, raw string) (*domain.GradingResult, error)
}

// Kind names a registered strategy.
type Kind string

const (
	KindLenientJSON Kind = "lenient_json"
	KindPattern     Kind = "pattern"
	KindFreeText    Kind = "free_text"
	KindLLMReformat Kind = "llm_reformat"
)

// Deps carries collaborators a strategy constructor may need.
type Deps struct {
	// Generator is required by llm_reformat.
	Generator llm.Generator
	// ReformatModel defaults to DefaultReformatModel.
	ReformatModel string
}

type factory func(Deps) (Strategy, error)

var registry = map[Kind]factory{
	KindLenientJSON: func(Deps) (Strategy, error) { return lenientJSON{}, nil },
	KindPattern:     func(Deps) (Strategy, error) { return pattern{}, nil },
	KindFreeText:    func(Deps) (Strategy, error) { return freeText{}, nil },
	KindLLMReformat: newReformat,
}

// DefaultKinds is the fallback order used when none is configured.
func DefaultKinds() []Kind {
	return []Kind{KindLenientJSON, KindPattern, KindFreeText}
}

// ParseKind validates a configured strategy name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := registry[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	return k, nil
}

// Build instantiates strategies in order, failing on the first unknown kind.
func Build(kinds []Kind, deps Deps) ([]Strategy, error) {
	out := make([]Strategy, 0, len(kinds))
	for _, k := range kinds {
		f, ok := registry[k]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, k)
		}
		s, err := f(deps)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", k, err)
		}
		out = append(out, s)
	}
	return out, nil
}
