package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/go-grader/internal/llm/business"
)

// PricingRepository reads and edits the llm_pricing table. Rates are USD
// per million tokens.
type PricingRepository struct {
	db *pgxpool.Pool
}

// NewPricingRepository returns a repository backed by db.
func NewPricingRepository(db *pgxpool.Pool) *PricingRepository {
	return &PricingRepository{db: db}
}

// ActiveRate implements business.PricingStore.
func (r *PricingRepository) ActiveRate(ctx context.Context, model string) (business.Rate, error) {
	const query = `SELECT prompt_per_million, completion_per_million
		FROM llm_pricing WHERE model = $1 AND active`
	var rate business.Rate
	err := r.db.QueryRow(ctx, query, model).Scan(&rate.Prompt, &rate.Completion)
	if errors.Is(err, pgx.ErrNoRows) {
		return business.Rate{}, business.ErrRateNotFound
	}
	if err != nil {
		return business.Rate{}, fmt.Errorf("failed to load pricing for %s: %w", model, err)
	}
	return rate, nil
}

// SetRate inserts or replaces the rate for model and marks it active.
func (r *PricingRepository) SetRate(ctx context.Context, model string, rate business.Rate) error {
	const query = `INSERT INTO llm_pricing (model, prompt_per_million, completion_per_million, active, updated_at)
		VALUES ($1, $2, $3, true, now())
		ON CONFLICT (model) DO UPDATE SET
			prompt_per_million = EXCLUDED.prompt_per_million,
			completion_per_million = EXCLUDED.completion_per_million,
			active = true,
			updated_at = now()`
	if _, err := r.db.Exec(ctx, query, model, rate.Prompt, rate.Completion); err != nil {
		return fmt.Errorf("failed to save pricing for %s: %w", model, err)
	}
	return nil
}

// Deactivate hides the row for model from ActiveRate.
func (r *PricingRepository) Deactivate(ctx context.Context, model string) error {
	if _, err := r.db.Exec(ctx, `UPDATE llm_pricing SET active = false, updated_at = now() WHERE model = $1`, model); err != nil {
		return fmt.Errorf("failed to deactivate pricing for %s: %w", model, err)
	}
	return nil
}
