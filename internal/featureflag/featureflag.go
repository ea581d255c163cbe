// Package featureflag answers whether an optional feature, such as LLM
// grading, may run. Gates never fail the caller: lookup errors count as
// "disabled".
package featureflag

import (
	"context"
	"maps"
	"sync"
)

// LLMGrading gates every call path that reaches a model provider.
const LLMGrading = "llm_grading"

// Gate reports whether the feature named key is on.
type Gate interface {
	Enabled(ctx context.Context, key string) bool
}

// StaticGate serves flags from configuration. Unknown keys are off.
type StaticGate struct {
	mu    sync.RWMutex
	flags map[string]bool
}

var _ Gate = (*StaticGate)(nil)

// NewStaticGate copies flags.
func NewStaticGate(flags map[string]bool) *StaticGate {
	return &StaticGate{flags: maps.Clone(flags)}
}

// Enabled implements Gate.
func (g *StaticGate) Enabled(_ context.Context, key string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.flags[key]
}

// Set overrides one flag at runtime.
func (g *StaticGate) Set(key string, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.flags == nil {
		g.flags = make(map[string]bool)
	}
	g.flags[key] = on
}

// Snapshot returns a copy of every configured flag.
func (g *StaticGate) Snapshot() map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return maps.Clone(g.flags)
}

type actorKey struct{}

// WithActor scopes flag evaluation in ctx to a distinct user or tenant id.
func WithActor(ctx context.Context, distinctID string) context.Context {
	return context.WithValue(ctx, actorKey{}, distinctID)
}

func actorFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey{}).(string)
	return id, ok && id != ""
}
