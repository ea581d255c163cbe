package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ahrav/go-grader/internal/domain"
)

// ErrUnknownCollaborator is returned when a configured name has no registration.
var ErrUnknownCollaborator = errors.New("unknown pipeline collaborator")

// Data is the opaque payload a Collector hands to a PromptBuilder.
type Data map[string]any

// Prompt is the model input produced by a PromptBuilder.
type Prompt struct {
	System string
	User   string
}

// Collector gathers the material a task grades, such as a fetched document.
type Collector interface {
	Collect(ctx context.Context, task Task) (Data, error)
}

// PromptBuilder turns collected data into a prompt.
type PromptBuilder interface {
	Build(ctx context.Context, task Task, data Data) (Prompt, error)
}

// Storer persists a parsed result.
type Storer interface {
	Store(ctx context.Context, task Task, result *domain.GradingResult) error
}

// Func adapters for single-function collaborators.
type (
	CollectorFunc     func(ctx context.Context, task Task) (Data, error)
	PromptBuilderFunc func(ctx context.Context, task Task, data Data) (Prompt, error)
	StorerFunc        func(ctx context.Context, task Task, result *domain.GradingResult) error
)

func (f CollectorFunc) Collect(ctx context.Context, t Task) (Data, error) { return f(ctx, t) }

func (f PromptBuilderFunc) Build(ctx context.Context, t Task, d Data) (Prompt, error) {
	return f(ctx, t, d)
}

func (f StorerFunc) Store(ctx context.Context, t Task, r *domain.GradingResult) error {
	return f(ctx, t, r)
}

// Registry maps names to collaborators. Registration happens at startup;
// pipelines resolve names once, at construction.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
	builders   map[string]PromptBuilder
	storers    map[string]Storer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		collectors: make(map[string]Collector),
		builders:   make(map[string]PromptBuilder),
		storers:    make(map[string]Storer),
	}
}

// RegisterCollector binds name to c, replacing any earlier binding.
func (r *Registry) RegisterCollector(name string, c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[name] = c
}

// RegisterPromptBuilder binds name to b.
func (r *Registry) RegisterPromptBuilder(name string, b PromptBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// RegisterStorer binds name to s.
func (r *Registry) RegisterStorer(name string, s Storer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storers[name] = s
}

func (r *Registry) collector(name string) (Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.collectors[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: collector %q", ErrUnknownCollaborator, name)
}

func (r *Registry) promptBuilder(name string) (PromptBuilder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.builders[name]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: prompt builder %q", ErrUnknownCollaborator, name)
}

func (r *Registry) storer(name string) (Storer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.storers[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: storer %q", ErrUnknownCollaborator, name)
}
