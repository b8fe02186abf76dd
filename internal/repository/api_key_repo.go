package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chordwave/backend/internal/models"
)

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// APIKeyWithUser is returned by FindByKeyHash (api_key joined with its user).
type APIKeyWithUser struct {
	APIKey models.APIKey
	User   models.User
}

func (r *APIKeyRepo) Create(ctx context.Context, k *models.APIKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, key_hash, key_prefix, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, k.ID, k.UserID, k.KeyHash, k.KeyPrefix, k.IsActive)
	return err
}

func (r *APIKeyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM api_keys WHERE id = $1", id)
	return err
}

// ListByUserID returns all API keys for the given user.
func (r *APIKeyRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, key_hash, key_prefix, is_active
		FROM api_keys WHERE user_id = $1 ORDER BY key_prefix
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.IsActive); err != nil {
			return nil, err
		}
		list = append(list, &k)
	}
	if list == nil {
		list = []*models.APIKey{}
	}
	return list, rows.Err()
}

// FindByKeyHash returns the api_key and joined user for the given key hash,
// or an error if not found or inactive.
func (r *APIKeyRepo) FindByKeyHash(ctx context.Context, keyHash string) (*APIKeyWithUser, error) {
	var out APIKeyWithUser
	err := r.pool.QueryRow(ctx, `
		SELECT k.id, k.user_id, k.key_hash, k.key_prefix, k.is_active,
		       u.id, u.email, u.display_name, u.password_hash, u.credits, u.radio_credits, u.total_credits_used, u.is_radio_subscribed, u.radio_subscription_expires_at, u.created_at, u.updated_at
		FROM api_keys k
		INNER JOIN users u ON u.id = k.user_id
		WHERE k.key_hash = $1 AND k.is_active = TRUE
	`, keyHash).Scan(
		&out.APIKey.ID, &out.APIKey.UserID, &out.APIKey.KeyHash, &out.APIKey.KeyPrefix, &out.APIKey.IsActive,
		&out.User.ID, &out.User.Email, &out.User.DisplayName, &out.User.PasswordHash, &out.User.Credits, &out.User.RadioCredits, &out.User.TotalCreditsUsed, &out.User.IsRadioSubscribed, &out.User.RadioSubscriptionExpiresAt, &out.User.CreatedAt, &out.User.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
