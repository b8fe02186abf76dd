package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chordwave/backend/internal/models"
)

type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

// CreateTx appends a ledger entry inside the given transaction. Entries are
// never updated or deleted.
func (r *CreditRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.CreditLogEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_log (id, user_id, currency, amount, balance_after, description, related_entity_id, related_entity_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, e.ID, e.UserID, e.Currency, e.Amount, e.BalanceAfter, e.Description, e.RelatedEntityID, e.RelatedEntityType).Scan(&e.CreatedAt)
}

// ExistsByReference reports whether any entry already references the given
// external entity. Payment webhooks use this to skip duplicate deliveries.
func (r *CreditRepo) ExistsByReference(ctx context.Context, relatedID, relatedType string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credit_log WHERE related_entity_id = $1 AND related_entity_type = $2
		)
	`, relatedID, relatedType).Scan(&exists)
	return exists, err
}

func (r *CreditRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.CreditLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, currency, amount, balance_after, description, related_entity_id, related_entity_type, created_at
		FROM credit_log WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditLogEntry
	for rows.Next() {
		var e models.CreditLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Currency, &e.Amount, &e.BalanceAfter, &e.Description, &e.RelatedEntityID, &e.RelatedEntityType, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *CreditRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.CreditLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, currency, amount, balance_after, description, related_entity_id, related_entity_type, created_at
		FROM credit_log WHERE related_entity_id = $1 AND related_entity_type = $2 ORDER BY created_at DESC
	`, taskID.String(), models.RelatedContentTask)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditLogEntry
	for rows.Next() {
		var e models.CreditLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Currency, &e.Amount, &e.BalanceAfter, &e.Description, &e.RelatedEntityID, &e.RelatedEntityType, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
