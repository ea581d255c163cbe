//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ahrav/go-grader/internal/llm/cache"
)

type rate struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := redisContainer.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedis_RoundTripAndTTL(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	c := cache.NewRedis[rate](client, "pricing:", time.Hour)

	c.Set(ctx, "gpt-4o", rate{Prompt: 2.5, Completion: 10}, 0)

	got, ok := c.Get(ctx, "gpt-4o")
	require.True(t, ok)
	assert.Equal(t, rate{Prompt: 2.5, Completion: 10}, got)

	ttl, err := client.TTL(ctx, "pricing:gpt-4o").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestRedis_CorruptEntryIsDropped(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	c := cache.NewRedis[rate](client, "pricing:", 0)

	require.NoError(t, client.Set(ctx, "pricing:broken", "{not json", 0).Err())

	_, ok := c.Get(ctx, "broken")
	assert.False(t, ok)

	exists, err := client.Exists(ctx, "pricing:broken").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
	assert.Equal(t, int64(1), c.Stats().Errors)
}

func TestRedis_MissAndDelete(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	c := cache.NewRedis[rate](client, "pricing:", 0)

	_, ok := c.Get(ctx, "absent")
	assert.False(t, ok)

	c.Set(ctx, "k", rate{Prompt: 1}, time.Minute)
	c.Delete(ctx, "k")
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, int64(2), s.Misses)
	assert.Zero(t, s.Errors)
}
