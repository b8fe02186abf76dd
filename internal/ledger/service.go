package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chordwave/backend/internal/models"
)

// ErrUserNotFound is returned when a ledger operation references an unknown user.
var ErrUserNotFound = errors.New("user not found")

// ErrInsufficientCredits is the sentinel wrapped by InsufficientCreditsError;
// use errors.Is against this and errors.As for the shortfall details.
var ErrInsufficientCredits = errors.New("insufficient credits")

// InsufficientCreditsError carries the shortfall so handlers can tell the
// client how many credits a top-up must cover.
type InsufficientCreditsError struct {
	Available int
	Required  int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// DebitPolicy selects how a debit treats a balance that cannot cover the full
// amount.
type DebitPolicy int

const (
	// PolicyStrict rejects the debit with InsufficientCreditsError.
	PolicyStrict DebitPolicy = iota
	// PolicyClamp deducts min(amount, balance). Used at settlement so a
	// completed generation never fails on a balance that shrank after the
	// pre-flight check.
	PolicyClamp
)

// Ref points a ledger entry back at the entity that caused it (non-owning).
type Ref struct {
	ID   string
	Type string
}

// UserStore is the minimal user repository interface the ledger needs.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	AddBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, currency models.Currency, amount int) (int, error)
	DeductBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, currency models.Currency, amount int) (int, error)
}

// EntryStore is the minimal credit log interface the ledger needs.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.CreditLogEntry) error
	ExistsByReference(ctx context.Context, relatedID, relatedType string) (bool, error)
}

// Service is the only path by which user balances change. Every mutation
// locks the user row, applies the balance change, and appends the audit entry
// in one transaction supplied by the caller.
type Service struct {
	Users   UserStore
	Entries EntryStore
}

func NewService(users UserStore, entries EntryStore) *Service {
	return &Service{Users: users, Entries: entries}
}

// Credit adds amount to the user's balance and appends a positive log entry.
func (s *Service) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, amount int, description string, related *Ref) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be > 0, got %d", amount)
	}
	if _, err := s.Users.GetForUpdate(ctx, tx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	newBalance, err := s.Users.AddBalance(ctx, tx, userID, currency, amount)
	if err != nil {
		return 0, err
	}
	if err := s.appendEntry(ctx, tx, userID, currency, amount, newBalance, description, related); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Debit removes amount from the user's balance and appends a negative log
// entry. Under PolicyStrict an insufficient balance fails the whole
// transaction; under PolicyClamp the debit is reduced to what the balance
// covers, and a fully clamped (zero) debit writes no entry at all.
func (s *Service) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, amount int, description string, related *Ref, policy DebitPolicy) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be > 0, got %d", amount)
	}
	u, err := s.Users.GetForUpdate(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	available := balanceFor(u, currency)
	if available < amount {
		switch policy {
		case PolicyClamp:
			amount = available
		default:
			return 0, &InsufficientCreditsError{Available: available, Required: amount}
		}
	}
	if amount == 0 {
		return available, nil
	}
	newBalance, err := s.Users.DeductBalance(ctx, tx, userID, currency, amount)
	if err != nil {
		return 0, err
	}
	if err := s.appendEntry(ctx, tx, userID, currency, -amount, newBalance, description, related); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Authorize is the pre-flight balance check for a paid action. It reads the
// current balance without locking or mutating anything; the actual debit is
// deferred to settlement.
func (s *Service) Authorize(ctx context.Context, userID uuid.UUID, currency models.Currency, required int) error {
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	if available := balanceFor(u, currency); available < required {
		return &InsufficientCreditsError{Available: available, Required: required}
	}
	return nil
}

// HasEntryForReference reports whether a ledger entry already references the
// given external entity, e.g. a checkout session id. Payment webhooks key
// their idempotency on this.
func (s *Service) HasEntryForReference(ctx context.Context, relatedID, relatedType string) (bool, error) {
	return s.Entries.ExistsByReference(ctx, relatedID, relatedType)
}

func (s *Service) appendEntry(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, amount, balanceAfter int, description string, related *Ref) error {
	e := &models.CreditLogEntry{
		ID:           uuid.New(),
		UserID:       userID,
		Currency:     currency,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Description:  description,
	}
	if related != nil {
		e.RelatedEntityID = &related.ID
		e.RelatedEntityType = &related.Type
	}
	return s.Entries.CreateTx(ctx, tx, e)
}

func balanceFor(u *models.User, currency models.Currency) int {
	if currency == models.CurrencyRadio {
		return u.RadioCredits
	}
	return u.Credits
}
