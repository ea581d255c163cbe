package circuitbreaker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-grader/internal/llm/circuitbreaker"
)

const service = "anthropic:claude-3-5-haiku"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newBreaker(t *testing.T) (*circuitbreaker.Breaker, *circuitbreaker.MemoryStore, *fakeClock) {
	t.Helper()
	store := circuitbreaker.NewMemoryStore()
	clock := newFakeClock()
	b := circuitbreaker.New(store, circuitbreaker.DefaultConfig(), circuitbreaker.WithClock(clock.Now))
	return b, store, clock
}

func TestBreaker_UnseenServiceStartsClosed(t *testing.T) {
	b, _, _ := newBreaker(t)
	ctx := context.Background()

	st := b.State(ctx, service)
	assert.Equal(t, circuitbreaker.StateClosed, st.State)
	assert.Zero(t, st.Failures)
	assert.Zero(t, st.LastFailure)
	assert.True(t, b.AllowRequest(ctx, service))
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _, _ := newBreaker(t)
	ctx := context.Background()

	for i := 0; i < circuitbreaker.DefaultFailureThreshold-1; i++ {
		b.RecordFailure(ctx, service)
		assert.True(t, b.AllowRequest(ctx, service), "still closed after %d failures", i+1)
	}

	b.RecordFailure(ctx, service)
	assert.False(t, b.AllowRequest(ctx, service))

	st := b.State(ctx, service)
	assert.Equal(t, circuitbreaker.StateOpen, st.State)
	assert.Equal(t, circuitbreaker.DefaultFailureThreshold, st.Failures)
	assert.NotZero(t, st.LastFailure)
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b, _, clock := newBreaker(t)
	ctx := context.Background()

	for i := 0; i < circuitbreaker.DefaultFailureThreshold; i++ {
		b.RecordFailure(ctx, service)
	}

	clock.Advance(circuitbreaker.DefaultTimeout)
	assert.False(t, b.AllowRequest(ctx, service), "timeout must be strictly exceeded")
	assert.Equal(t, circuitbreaker.StateOpen, b.State(ctx, service).State)

	clock.Advance(time.Second)
	assert.True(t, b.AllowRequest(ctx, service))
	assert.Equal(t, circuitbreaker.StateHalfOpen, b.State(ctx, service).State)

	// Half-open always permits the probe.
	assert.True(t, b.AllowRequest(ctx, service))
}

func TestBreaker_HalfOpenTransitions(t *testing.T) {
	tests := []struct {
		name         string
		record       func(b *circuitbreaker.Breaker, ctx context.Context)
		wantState    circuitbreaker.State
		wantFailures int
		wantAllowed  bool
	}{
		{
			name:         "success closes and resets",
			record:       func(b *circuitbreaker.Breaker, ctx context.Context) { b.RecordSuccess(ctx, service) },
			wantState:    circuitbreaker.StateClosed,
			wantFailures: 0,
			wantAllowed:  true,
		},
		{
			name:         "failure reopens",
			record:       func(b *circuitbreaker.Breaker, ctx context.Context) { b.RecordFailure(ctx, service) },
			wantState:    circuitbreaker.StateOpen,
			wantFailures: circuitbreaker.DefaultFailureThreshold + 1,
			wantAllowed:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, clock := newBreaker(t)
			ctx := context.Background()

			for i := 0; i < circuitbreaker.DefaultFailureThreshold; i++ {
				b.RecordFailure(ctx, service)
			}
			clock.Advance(circuitbreaker.DefaultTimeout + time.Second)
			require.True(t, b.AllowRequest(ctx, service))

			tt.record(b, ctx)

			st := b.State(ctx, service)
			assert.Equal(t, tt.wantState, st.State)
			assert.Equal(t, tt.wantFailures, st.Failures)
			assert.Equal(t, tt.wantAllowed, b.AllowRequest(ctx, service))
		})
	}
}

func TestBreaker_SuccessInClosedResetsCounter(t *testing.T) {
	b, _, _ := newBreaker(t)
	ctx := context.Background()

	b.RecordFailure(ctx, service)
	b.RecordFailure(ctx, service)
	b.RecordSuccess(ctx, service)
	b.RecordFailure(ctx, service)

	st := b.State(ctx, service)
	assert.Equal(t, circuitbreaker.StateClosed, st.State)
	assert.Equal(t, 1, st.Failures)
}

func TestBreaker_SuccessWhileOpenIsNoOp(t *testing.T) {
	b, _, _ := newBreaker(t)
	ctx := context.Background()

	for i := 0; i < circuitbreaker.DefaultFailureThreshold; i++ {
		b.RecordFailure(ctx, service)
	}
	before := b.State(ctx, service)
	b.RecordSuccess(ctx, service)
	assert.Equal(t, before, b.State(ctx, service))
}

func TestBreaker_ServicesAreIndependent(t *testing.T) {
	b, _, _ := newBreaker(t)
	ctx := context.Background()

	for i := 0; i < circuitbreaker.DefaultFailureThreshold; i++ {
		b.RecordFailure(ctx, service)
	}
	assert.False(t, b.AllowRequest(ctx, service))
	assert.True(t, b.AllowRequest(ctx, circuitbreaker.ServiceName("openai", "gpt-4o")))
}

func TestBreaker_SelfHealsCorruptedState(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: "{{{"},
		{name: "unknown state", raw: `{"state":"sideways","failures":1}`},
		{name: "negative failures", raw: `{"state":"closed","failures":-4}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, store, _ := newBreaker(t)
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "circuit_breaker:"+service, []byte(tt.raw)))

			assert.True(t, b.AllowRequest(ctx, service))
			st := b.State(ctx, service)
			assert.Equal(t, circuitbreaker.StateClosed, st.State)
			assert.Zero(t, st.Failures)

			raw, err := store.Get(ctx, "circuit_breaker:"+service)
			require.NoError(t, err)
			assert.JSONEq(t, `{"state":"closed","failures":0,"last_failure":0}`, string(raw))
		})
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("connection refused") }
func (failingStore) Set(context.Context, string, []byte) error  { return errors.New("connection refused") }

func TestBreaker_StoreFailuresDegradeToClosed(t *testing.T) {
	b := circuitbreaker.New(failingStore{}, circuitbreaker.Config{})
	ctx := context.Background()

	assert.NotPanics(t, func() {
		b.RecordFailure(ctx, service)
		b.RecordSuccess(ctx, service)
	})
	assert.True(t, b.AllowRequest(ctx, service))
	assert.Equal(t, circuitbreaker.StateClosed, b.State(ctx, service).State)
}

func TestBreaker_CustomConfig(t *testing.T) {
	store := circuitbreaker.NewMemoryStore()
	clock := newFakeClock()
	b := circuitbreaker.New(store, circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Second},
		circuitbreaker.WithClock(clock.Now))
	ctx := context.Background()

	b.RecordFailure(ctx, service)
	assert.False(t, b.AllowRequest(ctx, service))
	clock.Advance(2 * time.Second)
	assert.True(t, b.AllowRequest(ctx, service))

	b.Reset(ctx, service)
	assert.Equal(t, circuitbreaker.StateClosed, b.State(ctx, service).State)
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "anthropic:claude-3-5-haiku", circuitbreaker.ServiceName("anthropic", "claude-3-5-haiku"))
}
