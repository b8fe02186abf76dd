package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chordwave/backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, email, display_name, password_hash, credits, radio_credits, total_credits_used, is_radio_subscribed, radio_subscription_expires_at, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Credits, &u.RadioCredits, &u.TotalCreditsUsed, &u.IsRadioSubscribed, &u.RadioSubscriptionExpiresAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, credits, radio_credits)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.DisplayName, u.PasswordHash, u.Credits, u.RadioCredits).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetForUpdate locks the user row. Call within a transaction; every balance
// mutation goes through this lock first.
func (r *UserRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	return scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

// AddBalance adds amount to the given currency balance and returns the new
// balance. Call after GetForUpdate in the same transaction.
func (r *UserRepo) AddBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, currency models.Currency, amount int) (newBalance int, err error) {
	col, err := balanceColumn(currency)
	if err != nil {
		return 0, err
	}
	err = tx.QueryRow(ctx, `
		UPDATE users SET `+col+` = `+col+` + $1, updated_at = now()
		WHERE id = $2
		RETURNING `+col+`
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// DeductBalance atomically deducts amount if the balance covers it. Debits of
// the general currency also bump the monotonic total_credits_used counter.
// Returns pgx.ErrNoRows when the balance is insufficient.
func (r *UserRepo) DeductBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, currency models.Currency, amount int) (newBalance int, err error) {
	col, err := balanceColumn(currency)
	if err != nil {
		return 0, err
	}
	usage := ""
	if currency == models.CurrencyCredits {
		usage = ", total_credits_used = total_credits_used + $1"
	}
	err = tx.QueryRow(ctx, `
		UPDATE users SET `+col+` = `+col+` - $1, updated_at = now()`+usage+`
		WHERE id = $2 AND `+col+` >= $1
		RETURNING `+col+`
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// ActivateRadioSubscription flips the subscription flag and stores the new
// expiry. Runs inside the caller's transaction alongside the radio credit.
func (r *UserRepo) ActivateRadioSubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID, expiresAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE users SET is_radio_subscribed = TRUE, radio_subscription_expires_at = $2, updated_at = now()
		WHERE id = $1
	`, id, expiresAt)
	return err
}

func balanceColumn(currency models.Currency) (string, error) {
	switch currency {
	case models.CurrencyCredits:
		return "credits", nil
	case models.CurrencyRadio:
		return "radio_credits", nil
	default:
		return "", fmt.Errorf("unknown currency %q", currency)
	}
}
