package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chordwave/backend/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, user_id, kind, provider, status, external_task_id, credits_used, credits_deducted, title, params, file_url, error_message, created_at, updated_at, completed_at`

func scanTask(row pgx.Row) (*models.ContentTask, error) {
	var t models.ContentTask
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Provider, &t.Status, &t.ExternalTaskID, &t.CreditsUsed, &t.CreditsDeducted, &t.Title, &t.Params, &t.FileURL, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTx persists the task inside the given transaction, so the pending
// record and its submit job commit together.
func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.ContentTask) error {
	return tx.QueryRow(ctx, `
		INSERT INTO content_tasks (id, user_id, kind, provider, status, external_task_id, credits_used, credits_deducted, title, params, file_url, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.Kind, t.Provider, t.Status, t.ExternalTaskID, t.CreditsUsed, t.CreditsDeducted, t.Title, t.Params, t.FileURL, t.ErrorMessage).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ContentTask, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM content_tasks WHERE id = $1`, id))
}

// GetByExternalID resolves a task from a provider correlation id, scoped to
// the provider so ids from different providers cannot collide.
func (r *TaskRepo) GetByExternalID(ctx context.Context, provider, externalID string) (*models.ContentTask, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM content_tasks WHERE provider = $1 AND external_task_id = $2
	`, provider, externalID))
}

func (r *TaskRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.ContentTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM content_tasks WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ContentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// SetExternalID attaches the provider task id and moves pending -> queued.
// Returns false when the task was not in pending (already attached or
// terminal), which callers treat as a no-op.
func (r *TaskRepo) SetExternalID(ctx context.Context, id uuid.UUID, externalID string) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE content_tasks SET external_task_id = $2, status = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, externalID, models.TaskStatusQueued, models.TaskStatusPending)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// SetProcessing moves the task forward to processing. Terminal rows are left
// untouched.
func (r *TaskRepo) SetProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE content_tasks SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, models.TaskStatusProcessing, models.TaskStatusPending, models.TaskStatusQueued)
	return err
}

// CompleteTx transitions the task to completed with its artifact URL and sets
// the credits-deducted marker, but only if the task is not already terminal.
// Returns whether this call performed the transition: racing deliveries
// (webhook retry vs poller) see false and must not settle again.
func (r *TaskRepo) CompleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fileURL string) (bool, error) {
	result, err := tx.Exec(ctx, `
		UPDATE content_tasks
		SET status = $2, file_url = $3, credits_deducted = TRUE, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ($4, $5)
	`, id, models.TaskStatusCompleted, fileURL, models.TaskStatusCompleted, models.TaskStatusFailed)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// FailTx transitions the task to failed unless it is already terminal.
// Returns whether the transition happened and whether credits had already
// been deducted, so the caller can issue a compensating refund.
func (r *TaskRepo) FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) (transitioned, creditsDeducted bool, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE content_tasks
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status NOT IN ($4, $5)
		RETURNING credits_deducted
	`, id, models.TaskStatusFailed, reason, models.TaskStatusCompleted, models.TaskStatusFailed).Scan(&creditsDeducted)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, false, nil
		}
		return false, false, err
	}
	return true, creditsDeducted, nil
}

// ListUnresolved returns tasks that still await a terminal provider state.
// The table itself is the durable queue: after a crash these rows can be
// re-enqueued for polling.
func (r *TaskRepo) ListUnresolved(ctx context.Context) ([]*models.ContentTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM content_tasks
		WHERE status IN ($1, $2, $3) ORDER BY created_at
	`, models.TaskStatusPending, models.TaskStatusQueued, models.TaskStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ContentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
