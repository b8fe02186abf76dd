package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chordwave/backend/internal/models"
)

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// --- UserStore mock ---

type mockUserStore struct {
	users map[uuid.UUID]*models.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[uuid.UUID]*models.User)}
}

func (m *mockUserStore) get(id uuid.UUID) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockUserStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return m.get(id)
}

func (m *mockUserStore) GetForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.User, error) {
	return m.get(id)
}

func (m *mockUserStore) AddBalance(_ context.Context, _ pgx.Tx, id uuid.UUID, currency models.Currency, amount int) (int, error) {
	u, err := m.get(id)
	if err != nil {
		return 0, err
	}
	if currency == models.CurrencyRadio {
		u.RadioCredits += amount
		return u.RadioCredits, nil
	}
	u.Credits += amount
	return u.Credits, nil
}

func (m *mockUserStore) DeductBalance(_ context.Context, _ pgx.Tx, id uuid.UUID, currency models.Currency, amount int) (int, error) {
	u, err := m.get(id)
	if err != nil {
		return 0, err
	}
	if currency == models.CurrencyRadio {
		if u.RadioCredits < amount {
			return 0, pgx.ErrNoRows
		}
		u.RadioCredits -= amount
		return u.RadioCredits, nil
	}
	if u.Credits < amount {
		return 0, pgx.ErrNoRows
	}
	u.Credits -= amount
	u.TotalCreditsUsed += amount
	return u.Credits, nil
}

// --- EntryStore mock ---

type mockEntryStore struct {
	entries []*models.CreditLogEntry
}

func (m *mockEntryStore) CreateTx(_ context.Context, _ pgx.Tx, e *models.CreditLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockEntryStore) ExistsByReference(_ context.Context, relatedID, relatedType string) (bool, error) {
	for _, e := range m.entries {
		if e.RelatedEntityID != nil && *e.RelatedEntityID == relatedID &&
			e.RelatedEntityType != nil && *e.RelatedEntityType == relatedType {
			return true, nil
		}
	}
	return false, nil
}

func newTestService() (*Service, *mockUserStore, *mockEntryStore) {
	users := newMockUserStore()
	entries := &mockEntryStore{}
	return NewService(users, entries), users, entries
}

func seedUser(users *mockUserStore, credits, radio int) uuid.UUID {
	id := uuid.New()
	users.users[id] = &models.User{ID: id, Credits: credits, RadioCredits: radio}
	return id
}

func TestCredit_AppendsEntryWithBalanceAfter(t *testing.T) {
	svc, users, entries := newTestService()
	userID := seedUser(users, 50, 0)

	balance, err := svc.Credit(context.Background(), noopTx{}, userID, models.CurrencyCredits, 200, "credit purchase", &Ref{ID: "cs_123", Type: models.RelatedCheckoutSession})
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if balance != 250 {
		t.Errorf("balance = %d, want 250", balance)
	}
	if len(entries.entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries.entries))
	}
	e := entries.entries[0]
	if e.Amount != 200 {
		t.Errorf("entry amount = %d, want 200", e.Amount)
	}
	if e.BalanceAfter != 250 {
		t.Errorf("entry balance_after = %d, want 250", e.BalanceAfter)
	}
	if e.RelatedEntityID == nil || *e.RelatedEntityID != "cs_123" {
		t.Error("entry missing related entity id")
	}
}

func TestCredit_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Credit(context.Background(), noopTx{}, uuid.New(), models.CurrencyCredits, 100, "x", nil)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDebit_Strict_InsufficientCredits(t *testing.T) {
	svc, users, entries := newTestService()
	userID := seedUser(users, 100, 0)

	_, err := svc.Debit(context.Background(), noopTx{}, userID, models.CurrencyCredits, 150, "video generation", nil, PolicyStrict)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	var shortfall *InsufficientCreditsError
	if !errors.As(err, &shortfall) {
		t.Fatal("expected *InsufficientCreditsError")
	}
	if shortfall.Required != 150 || shortfall.Available != 100 {
		t.Errorf("shortfall = %+v, want Required=150 Available=100", shortfall)
	}
	if len(entries.entries) != 0 {
		t.Error("rejected debit must not write a ledger entry")
	}
	if users.users[userID].Credits != 100 {
		t.Error("rejected debit must not change the balance")
	}
}

func TestDebit_Strict_ExactBalance(t *testing.T) {
	svc, users, entries := newTestService()
	userID := seedUser(users, 100, 0)

	balance, err := svc.Debit(context.Background(), noopTx{}, userID, models.CurrencyCredits, 100, "music generation", nil, PolicyStrict)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
	if len(entries.entries) != 1 || entries.entries[0].Amount != -100 {
		t.Fatalf("expected one -100 entry, got %+v", entries.entries)
	}
}

func TestDebit_Clamp_PartialBalance(t *testing.T) {
	svc, users, entries := newTestService()
	userID := seedUser(users, 60, 0)

	balance, err := svc.Debit(context.Background(), noopTx{}, userID, models.CurrencyCredits, 100, "music generation", nil, PolicyClamp)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
	if len(entries.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries.entries))
	}
	if entries.entries[0].Amount != -60 {
		t.Errorf("clamped entry amount = %d, want -60", entries.entries[0].Amount)
	}
}

func TestDebit_Clamp_ZeroBalanceWritesNoEntry(t *testing.T) {
	svc, users, entries := newTestService()
	userID := seedUser(users, 0, 0)

	balance, err := svc.Debit(context.Background(), noopTx{}, userID, models.CurrencyCredits, 100, "music generation", nil, PolicyClamp)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
	if len(entries.entries) != 0 {
		t.Error("fully clamped debit must not write a ledger entry")
	}
}

func TestDebit_RadioCurrencyIsolated(t *testing.T) {
	svc, users, _ := newTestService()
	userID := seedUser(users, 100, 30)

	if _, err := svc.Debit(context.Background(), noopTx{}, userID, models.CurrencyRadio, 20, "radio play", nil, PolicyStrict); err != nil {
		t.Fatalf("Debit radio: %v", err)
	}
	u := users.users[userID]
	if u.RadioCredits != 10 {
		t.Errorf("radio credits = %d, want 10", u.RadioCredits)
	}
	if u.Credits != 100 {
		t.Errorf("general credits touched by radio debit: %d", u.Credits)
	}
}

func TestAuthorize(t *testing.T) {
	svc, users, _ := newTestService()
	userID := seedUser(users, 100, 0)

	if err := svc.Authorize(context.Background(), userID, models.CurrencyCredits, 100); err != nil {
		t.Errorf("Authorize at exact balance: %v", err)
	}

	err := svc.Authorize(context.Background(), userID, models.CurrencyCredits, 150)
	var shortfall *InsufficientCreditsError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected *InsufficientCreditsError, got %v", err)
	}
	if shortfall.Required != 150 || shortfall.Available != 100 {
		t.Errorf("shortfall = %+v", shortfall)
	}

	if err := svc.Authorize(context.Background(), uuid.New(), models.CurrencyCredits, 1); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestHasEntryForReference(t *testing.T) {
	svc, users, _ := newTestService()
	userID := seedUser(users, 0, 0)

	if _, err := svc.Credit(context.Background(), noopTx{}, userID, models.CurrencyCredits, 500, "credit purchase", &Ref{ID: "cs_42", Type: models.RelatedCheckoutSession}); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	seen, err := svc.HasEntryForReference(context.Background(), "cs_42", models.RelatedCheckoutSession)
	if err != nil || !seen {
		t.Errorf("HasEntryForReference(cs_42) = %v, %v; want true", seen, err)
	}
	seen, err = svc.HasEntryForReference(context.Background(), "cs_43", models.RelatedCheckoutSession)
	if err != nil || seen {
		t.Errorf("HasEntryForReference(cs_43) = %v, %v; want false", seen, err)
	}
}
