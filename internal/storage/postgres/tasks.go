package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/go-grader/internal/domain"
	"github.com/ahrav/go-grader/internal/pipeline"
)

// ErrTaskNotFound is returned when no row exists for an entity.
var ErrTaskNotFound = errors.New("grading task not found")

// StorerName is the pipeline registry name for TaskRepository.
const StorerName = "postgres"

// TaskRecord is the persisted state of the latest task for an entity.
type TaskRecord struct {
	Entity *domain.EntityRef
	Status domain.TaskStatus
	TaskID string
	Result *domain.GradingResult
}

// TaskRepository keeps one row per graded entity. It serves as the
// pipeline's status sink and as a result storer.
type TaskRepository struct {
	db *pgxpool.Pool
}

// NewTaskRepository returns a repository backed by db.
func NewTaskRepository(db *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{db: db}
}

// UpdateStatus implements pipeline.StatusSink.
func (r *TaskRepository) UpdateStatus(ctx context.Context, entity *domain.EntityRef, status domain.TaskStatus) error {
	if entity == nil {
		return domain.ErrInvalidEntityRef
	}
	const query = `INSERT INTO grading_tasks (entity_type, entity_id, status, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`
	if _, err := r.db.Exec(ctx, query, entity.Type, entity.ID, string(status)); err != nil {
		return fmt.Errorf("failed to update status for %s: %w", entity, err)
	}
	return nil
}

// Store implements pipeline.Storer.
func (r *TaskRepository) Store(ctx context.Context, task pipeline.Task, result *domain.GradingResult) error {
	if task.Entity == nil {
		return domain.ErrInvalidEntityRef
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode grading result: %w", err)
	}
	const query = `INSERT INTO grading_tasks (entity_type, entity_id, status, task_id, result, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			task_id = EXCLUDED.task_id, result = EXCLUDED.result, updated_at = now()`
	_, err = r.db.Exec(ctx, query, task.Entity.Type, task.Entity.ID, string(domain.StatusStoring), task.ID, body)
	if err != nil {
		return fmt.Errorf("failed to store result for %s: %w", task.Entity, err)
	}
	return nil
}

// Get loads the record for entity.
func (r *TaskRepository) Get(ctx context.Context, entity *domain.EntityRef) (*TaskRecord, error) {
	if entity == nil {
		return nil, domain.ErrInvalidEntityRef
	}
	const query = `SELECT status, task_id, result FROM grading_tasks WHERE entity_type = $1 AND entity_id = $2`

	var (
		status string
		taskID *string
		body   []byte
	)
	err := r.db.QueryRow(ctx, query, entity.Type, entity.ID).Scan(&status, &taskID, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task for %s: %w", entity, err)
	}

	rec := &TaskRecord{Entity: entity, Status: domain.TaskStatus(status)}
	if taskID != nil {
		rec.TaskID = *taskID
	}
	if len(body) > 0 {
		rec.Result = &domain.GradingResult{}
		if err := json.Unmarshal(body, rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode grading result: %w", err)
		}
	}
	return rec, nil
}
