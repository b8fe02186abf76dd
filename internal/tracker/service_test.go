package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chordwave/backend/internal/generation"
	"github.com/chordwave/backend/internal/ledger"
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

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- TaskStore mock mirroring the repository's conditional transitions ---

type mockTaskStore struct {
	tasks map[uuid.UUID]*models.ContentTask
}

func newMockTaskStore() *mockTaskStore {
	return &mockTaskStore{tasks: make(map[uuid.UUID]*models.ContentTask)}
}

func (m *mockTaskStore) CreateTx(_ context.Context, _ pgx.Tx, t *models.ContentTask) error {
	m.tasks[t.ID] = t
	return nil
}

func (m *mockTaskStore) GetByID(_ context.Context, id uuid.UUID) (*models.ContentTask, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return t, nil
}

func (m *mockTaskStore) GetByExternalID(_ context.Context, provider, externalID string) (*models.ContentTask, error) {
	for _, t := range m.tasks {
		if t.Provider == provider && t.ExternalTaskID != nil && *t.ExternalTaskID == externalID {
			return t, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockTaskStore) ListByUserID(_ context.Context, userID uuid.UUID) ([]*models.ContentTask, error) {
	var out []*models.ContentTask
	for _, t := range m.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTaskStore) SetExternalID(_ context.Context, id uuid.UUID, externalID string) (bool, error) {
	t, ok := m.tasks[id]
	if !ok || t.Status != models.TaskStatusPending {
		return false, nil
	}
	t.ExternalTaskID = &externalID
	t.Status = models.TaskStatusQueued
	return true, nil
}

func (m *mockTaskStore) SetProcessing(_ context.Context, id uuid.UUID) error {
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	if t.Status == models.TaskStatusPending || t.Status == models.TaskStatusQueued {
		t.Status = models.TaskStatusProcessing
	}
	return nil
}

func (m *mockTaskStore) CompleteTx(_ context.Context, _ pgx.Tx, id uuid.UUID, fileURL string) (bool, error) {
	t, ok := m.tasks[id]
	if !ok {
		return false, nil
	}
	if t.IsTerminal() {
		return false, nil
	}
	t.Status = models.TaskStatusCompleted
	t.FileURL = &fileURL
	t.CreditsDeducted = true
	return true, nil
}

func (m *mockTaskStore) FailTx(_ context.Context, _ pgx.Tx, id uuid.UUID, reason string) (bool, bool, error) {
	t, ok := m.tasks[id]
	if !ok {
		return false, false, nil
	}
	if t.IsTerminal() {
		return false, false, nil
	}
	deducted := t.CreditsDeducted
	t.Status = models.TaskStatusFailed
	t.ErrorMessage = &reason
	return true, deducted, nil
}

// --- Ledger mock: records settlement calls ---

type mockLedger struct {
	debits  []int
	credits []int
}

func (m *mockLedger) Credit(_ context.Context, _ pgx.Tx, _ uuid.UUID, _ models.Currency, amount int, _ string, _ *ledger.Ref) (int, error) {
	m.credits = append(m.credits, amount)
	return 0, nil
}

func (m *mockLedger) Debit(_ context.Context, _ pgx.Tx, _ uuid.UUID, _ models.Currency, amount int, _ string, _ *ledger.Ref, _ ledger.DebitPolicy) (int, error) {
	m.debits = append(m.debits, amount)
	return 0, nil
}

// --- GalleryStore mock ---

type mockGallery struct {
	items []*models.GalleryItem
}

func (m *mockGallery) CreateTx(_ context.Context, _ pgx.Tx, g *models.GalleryItem) error {
	m.items = append(m.items, g)
	return nil
}

func newTestService() (*Service, *mockTaskStore, *mockLedger, *mockGallery, *[]generation.SubmitArgs) {
	tasks := newMockTaskStore()
	led := &mockLedger{}
	gallery := &mockGallery{}
	var submitted []generation.SubmitArgs
	insertSubmit := func(_ context.Context, _ pgx.Tx, args generation.SubmitArgs) error {
		submitted = append(submitted, args)
		return nil
	}
	svc := NewService(mockPool{}, tasks, led, gallery, insertSubmit, nil)
	return svc, tasks, led, gallery, &submitted
}

func TestCreateTask_PendingAndEnqueued(t *testing.T) {
	svc, tasks, led, _, submitted := newTestService()

	task, err := svc.CreateTask(context.Background(), uuid.New(), models.KindMusic, models.ProviderSuno, "Lo-fi beat", 100, []byte(`{"prompt":"lo-fi"}`))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("status = %q, want pending", task.Status)
	}
	if task.CreditsUsed != 100 {
		t.Errorf("credits_used = %d, want 100", task.CreditsUsed)
	}
	if _, ok := tasks.tasks[task.ID]; !ok {
		t.Error("task not persisted")
	}
	if len(*submitted) != 1 || (*submitted)[0].TaskID != task.ID {
		t.Fatalf("expected one submit job for the task, got %+v", *submitted)
	}
	if len(led.debits) != 0 {
		t.Error("creation must not debit credits")
	}
}

func TestAttachExternalID(t *testing.T) {
	svc, tasks, _, _, _ := newTestService()

	task, _ := svc.CreateTask(context.Background(), uuid.New(), models.KindMusic, models.ProviderSuno, "", 100, nil)

	if err := svc.AttachExternalID(context.Background(), task.ID, "ext-1"); err != nil {
		t.Fatalf("AttachExternalID: %v", err)
	}
	got := tasks.tasks[task.ID]
	if got.Status != models.TaskStatusQueued || got.ExternalTaskID == nil || *got.ExternalTaskID != "ext-1" {
		t.Errorf("task after attach = %+v", got)
	}

	// Re-delivery after the task advanced is a no-op.
	got.Status = models.TaskStatusProcessing
	if err := svc.AttachExternalID(context.Background(), task.ID, "ext-2"); err != nil {
		t.Errorf("re-attach on advanced task: %v", err)
	}
	if *got.ExternalTaskID != "ext-1" {
		t.Error("re-attach must not overwrite the external id")
	}

	if err := svc.AttachExternalID(context.Background(), uuid.New(), "ext-3"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown task: got %v, want ErrTaskNotFound", err)
	}
}

func TestMarkCompleted_DebitsOnceAndAppendsGallery(t *testing.T) {
	svc, _, led, gallery, _ := newTestService()

	task, _ := svc.CreateTask(context.Background(), uuid.New(), models.KindVideo, models.ProviderSora, "Clip", 150, nil)

	if err := svc.MarkCompleted(context.Background(), task.ID, "https://cdn.example.com/clip.mp4"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if len(led.debits) != 1 || led.debits[0] != 150 {
		t.Fatalf("debits = %v, want [150]", led.debits)
	}
	if len(gallery.items) != 1 || gallery.items[0].TaskID != task.ID {
		t.Fatalf("gallery items = %+v", gallery.items)
	}

	// Second settlement of the same task must be a no-op.
	if err := svc.MarkCompleted(context.Background(), task.ID, "https://cdn.example.com/clip.mp4"); err != nil {
		t.Fatalf("second MarkCompleted: %v", err)
	}
	if len(led.debits) != 1 {
		t.Errorf("duplicate completion debited again: %v", led.debits)
	}
	if len(gallery.items) != 1 {
		t.Errorf("duplicate completion appended gallery again: %d items", len(gallery.items))
	}
}

func TestMarkCompleted_AfterFailedIsNoOp(t *testing.T) {
	svc, _, led, _, _ := newTestService()

	task, _ := svc.CreateTask(context.Background(), uuid.New(), models.KindMusic, models.ProviderSuno, "", 100, nil)

	if err := svc.MarkFailed(context.Background(), task.ID, "provider timeout"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := svc.MarkCompleted(context.Background(), task.ID, "https://late.example.com/a.mp3"); err != nil {
		t.Fatalf("MarkCompleted after failure: %v", err)
	}
	if len(led.debits) != 0 {
		t.Errorf("late completion after failure must not debit: %v", led.debits)
	}
}

func TestMarkFailed_NoRefundWhenNothingDeducted(t *testing.T) {
	svc, tasks, led, _, _ := newTestService()

	task, _ := svc.CreateTask(context.Background(), uuid.New(), models.KindMusic, models.ProviderSuno, "", 100, nil)

	if err := svc.MarkFailed(context.Background(), task.ID, "generation failed at provider"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if len(led.credits) != 0 {
		t.Errorf("deferred-debit failure must not refund: %v", led.credits)
	}
	got := tasks.tasks[task.ID]
	if got.Status != models.TaskStatusFailed || got.ErrorMessage == nil {
		t.Errorf("task after failure = %+v", got)
	}
}

func TestMarkFailed_RefundsWhenCreditsWereDeducted(t *testing.T) {
	svc, tasks, led, _, _ := newTestService()

	task, _ := svc.CreateTask(context.Background(), uuid.New(), models.KindImage, models.ProviderOpenAI, "", 200, nil)
	tasks.tasks[task.ID].CreditsDeducted = true

	if err := svc.MarkFailed(context.Background(), task.ID, "artifact unreachable"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if len(led.credits) != 1 || led.credits[0] != 200 {
		t.Errorf("credits = %v, want [200]", led.credits)
	}
}

func TestResolveByExternalID(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	task, _ := svc.CreateTask(context.Background(), uuid.New(), models.KindMusic, models.ProviderSuno, "", 100, nil)
	if err := svc.AttachExternalID(context.Background(), task.ID, "suno-123"); err != nil {
		t.Fatalf("AttachExternalID: %v", err)
	}

	got, err := svc.ResolveByExternalID(context.Background(), models.ProviderSuno, "suno-123")
	if err != nil {
		t.Fatalf("ResolveByExternalID: %v", err)
	}
	if got.ID != task.ID {
		t.Errorf("resolved wrong task")
	}

	if _, err := svc.ResolveByExternalID(context.Background(), models.ProviderSuno, "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown external id: got %v, want ErrTaskNotFound", err)
	}
}
