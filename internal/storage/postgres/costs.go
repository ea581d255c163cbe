package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/go-grader/internal/domain"
)

// CostRepository appends cost log entries. Rows are never updated.
type CostRepository struct {
	db *pgxpool.Pool
}

// NewCostRepository returns a repository backed by db.
func NewCostRepository(db *pgxpool.Pool) *CostRepository {
	return &CostRepository{db: db}
}

// Append implements costtracking.Repository. A replayed entry with an
// existing id is ignored so redelivered events stay single-counted.
func (r *CostRepository) Append(ctx context.Context, e *domain.CostLogEntry) error {
	meta, err := json.Marshal(nonNilMap(e.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode cost metadata: %w", err)
	}

	actorType, actorID := refColumns(e.Actor)
	trackType, trackID := refColumns(e.Trackable)

	const query = `INSERT INTO cost_logs (
		id, actor_type, actor_id, trackable_type, trackable_id, kind, request_id, model,
		prompt_tokens, completion_tokens, total_tokens, cost, metadata, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO NOTHING`
	_, err = r.db.Exec(ctx, query,
		e.ID, actorType, actorID, trackType, trackID, e.Kind, e.RequestID, e.Model,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.Cost, meta, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cost log %s: %w", e.ID, err)
	}
	return nil
}

// ListByTrackable returns entries attributed to ref, oldest first.
func (r *CostRepository) ListByTrackable(ctx context.Context, ref *domain.EntityRef, limit int) ([]domain.CostLogEntry, error) {
	if ref == nil {
		return nil, nil
	}
	const query = `SELECT id, actor_type, actor_id, trackable_type, trackable_id, kind, request_id, model,
		prompt_tokens, completion_tokens, total_tokens, cost, metadata, created_at
		FROM cost_logs WHERE trackable_type = $1 AND trackable_id = $2
		ORDER BY created_at ASC LIMIT $3`
	rows, err := r.db.Query(ctx, query, ref.Type, ref.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.CostLogEntry
	for rows.Next() {
		var (
			e                  domain.CostLogEntry
			actorType, actorID *string
			trackType, trackID *string
			meta               []byte
		)
		if err := rows.Scan(&e.ID, &actorType, &actorID, &trackType, &trackID, &e.Kind, &e.RequestID, &e.Model,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens, &e.Cost, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cost log: %w", err)
		}
		e.Actor = refFromColumns(actorType, actorID)
		e.Trackable = refFromColumns(trackType, trackID)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode cost metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func refColumns(ref *domain.EntityRef) (*string, *string) {
	if ref == nil {
		return nil, nil
	}
	return &ref.Type, &ref.ID
}

func refFromColumns(typ, id *string) *domain.EntityRef {
	if typ == nil || id == nil {
		return nil
	}
	return domain.NewEntityRef(*typ, *id)
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
