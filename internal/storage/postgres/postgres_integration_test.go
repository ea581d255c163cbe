//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgresContainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ahrav/go-grader/internal/domain"
	"github.com/ahrav/go-grader/internal/llm/business"
	"github.com/ahrav/go-grader/internal/pipeline"
	"github.com/ahrav/go-grader/internal/storage/postgres"
)

func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgresContainer.Run(ctx, "postgres:16-alpine",
		postgresContainer.WithDatabase("grader"),
		postgresContainer.WithUsername("grader"),
		postgresContainer.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(dsn))
	require.NoError(t, postgres.Migrate(dsn), "migrating twice is a no-op")

	pool, err := postgres.Open(ctx, postgres.Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgres(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()

	t.Run("cost logs append once", func(t *testing.T) {
		repo := postgres.NewCostRepository(pool)
		entry := &domain.CostLogEntry{
			ID:               uuid.NewString(),
			Actor:            domain.NewEntityRef("user", "42"),
			Trackable:        domain.NewEntityRef("submission", "7"),
			Kind:             "grading",
			RequestID:        "req-1",
			Model:            "gpt-4o-mini",
			PromptTokens:     100,
			CompletionTokens: 50,
			TotalTokens:      150,
			Cost:             0.000045,
			Metadata:         map[string]any{"task_id": "t-1"},
			CreatedAt:        time.Now().UTC().Truncate(time.Microsecond),
		}
		require.NoError(t, repo.Append(ctx, entry))
		require.NoError(t, repo.Append(ctx, entry))

		got, err := repo.ListByTrackable(ctx, entry.Trackable, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, entry.ID, got[0].ID)
		assert.Equal(t, "user:42", got[0].Actor.String())
		assert.Equal(t, int64(150), got[0].TotalTokens)
		assert.InDelta(t, entry.Cost, got[0].Cost, 1e-12)
		assert.Equal(t, "t-1", got[0].Metadata["task_id"])
	})

	t.Run("pricing resolves active rows and the default row", func(t *testing.T) {
		repo := postgres.NewPricingRepository(pool)

		_, err := repo.ActiveRate(ctx, "gpt-4o")
		require.ErrorIs(t, err, business.ErrRateNotFound)

		require.NoError(t, repo.SetRate(ctx, "gpt-4o", business.Rate{Prompt: 1, Completion: 2}))
		require.NoError(t, repo.SetRate(ctx, business.DefaultModelKey, business.Rate{Prompt: 7, Completion: 9}))

		resolver := business.NewPricingResolver(repo, business.NewStaticPricing(nil))
		assert.Equal(t, business.Rate{Prompt: 1, Completion: 2}, resolver.Rate(ctx, "gpt-4o"))
		assert.Equal(t, business.Rate{Prompt: 7, Completion: 9}, resolver.Rate(ctx, "unheard-of-model"))

		require.NoError(t, repo.Deactivate(ctx, "gpt-4o"))
		_, err = repo.ActiveRate(ctx, "gpt-4o")
		assert.ErrorIs(t, err, business.ErrRateNotFound)
	})

	t.Run("task status and result", func(t *testing.T) {
		repo := postgres.NewTaskRepository(pool)
		entity := domain.NewEntityRef("submission", "9")

		_, err := repo.Get(ctx, entity)
		require.ErrorIs(t, err, postgres.ErrTaskNotFound)

		require.NoError(t, repo.UpdateStatus(ctx, entity, domain.StatusParsing))
		require.NoError(t, repo.Store(ctx, pipeline.Task{ID: "t-9", Entity: entity}, &domain.GradingResult{
			Feedback: "Solid work.", OverallGrade: "B+",
		}))
		require.NoError(t, repo.UpdateStatus(ctx, entity, domain.StatusCompleted))

		rec, err := repo.Get(ctx, entity)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, rec.Status)
		assert.Equal(t, "t-9", rec.TaskID)
		require.NotNil(t, rec.Result)
		assert.Equal(t, "B+", rec.Result.OverallGrade)

		assert.ErrorIs(t, repo.UpdateStatus(ctx, nil, domain.StatusFailed), domain.ErrInvalidEntityRef)
	})
}
