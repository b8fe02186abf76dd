package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chordwave/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new user and returns it. New users start with zero
// balances; credits arrive through purchases.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName string) (*models.User, error) {
	u := &models.User{Email: email, DisplayName: displayName, PasswordHash: passwordHash}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, display_name)
		VALUES ($1, $2, $3)
		RETURNING id, credits, radio_credits, created_at, updated_at
	`, email, passwordHash, displayName)
	if err := row.Scan(&u.ID, &u.Credits, &u.RadioCredits, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// GetByEmail returns the user and password hash for login. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, string, error) {
	var u models.User
	var passwordHash string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, credits, radio_credits, password_hash
		FROM users WHERE email = $1
	`, email)
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Credits, &u.RadioCredits, &passwordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &u, passwordHash, nil
}
