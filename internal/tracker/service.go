package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chordwave/backend/internal/generation"
	"github.com/chordwave/backend/internal/ledger"
	"github.com/chordwave/backend/internal/models"
)

// ErrTaskNotFound is returned when a tracker operation references an unknown task.
var ErrTaskNotFound = errors.New("task not found")

// TaskStore is the task repository interface the tracker needs.
type TaskStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.ContentTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ContentTask, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (*models.ContentTask, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.ContentTask, error)
	SetExternalID(ctx context.Context, id uuid.UUID, externalID string) (bool, error)
	SetProcessing(ctx context.Context, id uuid.UUID) error
	CompleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fileURL string) (bool, error)
	FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) (transitioned, creditsDeducted bool, err error)
}

// Ledger is the credit service interface the tracker settles through.
type Ledger interface {
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, amount int, description string, related *ledger.Ref) (int, error)
	Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, amount int, description string, related *ledger.Ref, policy ledger.DebitPolicy) (int, error)
}

// GalleryStore appends finished artifacts to the user's library.
type GalleryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, g *models.GalleryItem) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InsertSubmitTxFunc enqueues a submit job within the given transaction.
// Provided by main using river.Client.InsertTx.
type InsertSubmitTxFunc func(ctx context.Context, tx pgx.Tx, args generation.SubmitArgs) error

// Service owns the ContentTask lifecycle: creation with a transactionally
// enqueued submit job, forward status transitions, and exactly-once
// settlement on terminal states. It implements generation.TaskService so the
// poll worker and the webhook handler share one idempotent path.
type Service struct {
	db           TxBeginner
	tasks        TaskStore
	ledger       Ledger
	gallery      GalleryStore
	insertSubmit InsertSubmitTxFunc
	log          *slog.Logger
}

func NewService(db TxBeginner, tasks TaskStore, led Ledger, gallery GalleryStore, insertSubmit InsertSubmitTxFunc, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, tasks: tasks, ledger: led, gallery: gallery, insertSubmit: insertSubmit, log: log}
}

var _ generation.TaskService = (*Service)(nil)

// CreateTask persists a pending task and enqueues its submit job in one
// transaction. The record exists before any provider call, so a crash during
// submission still leaves traceable state. No credits are taken here; the
// debit is deferred to completion.
func (s *Service) CreateTask(ctx context.Context, userID uuid.UUID, kind, provider, title string, cost int, params json.RawMessage) (*models.ContentTask, error) {
	task := &models.ContentTask{
		ID:          uuid.New(),
		UserID:      userID,
		Kind:        kind,
		Provider:    provider,
		Status:      models.TaskStatusPending,
		CreditsUsed: cost,
		Title:       title,
		Params:      params,
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.tasks.CreateTx(ctx, tx, task); err != nil {
		return nil, err
	}
	if err := s.insertSubmit(ctx, tx, generation.SubmitArgs{
		TaskID:   task.ID,
		TaskKind: kind,
		Provider: provider,
		Title:    title,
		Params:   params,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return task, nil
}

// AttachExternalID records the provider correlation id and moves the task to
// queued. Re-delivery after the task already advanced is a no-op.
func (s *Service) AttachExternalID(ctx context.Context, taskID uuid.UUID, externalID string) error {
	ok, err := s.tasks.SetExternalID(ctx, taskID, externalID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	// Not in pending: distinguish unknown task from already-advanced task.
	if _, err := s.tasks.GetByID(ctx, taskID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskNotFound
		}
		return err
	}
	return nil
}

// MarkProcessing moves the task forward to processing; terminal tasks are untouched.
func (s *Service) MarkProcessing(ctx context.Context, taskID uuid.UUID) error {
	return s.tasks.SetProcessing(ctx, taskID)
}

// MarkCompleted settles a successful generation: transition to completed,
// debit the reserved credits, and append the gallery item, all in one
// transaction. The conditional transition makes this idempotent: when the
// webhook and the poller race, only the delivery that actually flips the row
// debits; the other returns with no effect.
func (s *Service) MarkCompleted(ctx context.Context, taskID uuid.UUID, fileURL string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskNotFound
		}
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	transitioned, err := s.tasks.CompleteTx(ctx, tx, taskID, fileURL)
	if err != nil {
		return err
	}
	if !transitioned {
		s.log.Info("task already terminal, skipping settlement", "task_id", taskID)
		return nil
	}

	// Clamp at settlement: the pre-flight check passed at request time, and a
	// completed artifact must never fail to settle on a balance that shrank
	// in between.
	if _, err := s.ledger.Debit(ctx, tx, task.UserID, models.CurrencyCredits, task.CreditsUsed,
		"generation completed", &ledger.Ref{ID: taskID.String(), Type: models.RelatedContentTask}, ledger.PolicyClamp); err != nil {
		return err
	}

	if err := s.gallery.CreateTx(ctx, tx, &models.GalleryItem{
		ID:      uuid.New(),
		UserID:  task.UserID,
		TaskID:  taskID,
		Kind:    task.Kind,
		Title:   task.Title,
		FileURL: fileURL,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkFailed settles a failed generation. Under the deferred-debit policy no
// credits were taken, so normally there is nothing to refund; if a deduction
// did happen the compensating credit restores it in the same transaction.
func (s *Service) MarkFailed(ctx context.Context, taskID uuid.UUID, reason string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskNotFound
		}
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	transitioned, creditsDeducted, err := s.tasks.FailTx(ctx, tx, taskID, reason)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	if creditsDeducted && task.CreditsUsed > 0 {
		if _, err := s.ledger.Credit(ctx, tx, task.UserID, models.CurrencyCredits, task.CreditsUsed,
			"generation failed, credits refunded", &ledger.Ref{ID: taskID.String(), Type: models.RelatedContentTask}); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetTask returns one task.
func (s *Service) GetTask(ctx context.Context, taskID uuid.UUID) (*models.ContentTask, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns the user's tasks, newest first.
func (s *Service) ListTasks(ctx context.Context, userID uuid.UUID) ([]*models.ContentTask, error) {
	return s.tasks.ListByUserID(ctx, userID)
}

// ResolveByExternalID finds the task a provider callback refers to.
func (s *Service) ResolveByExternalID(ctx context.Context, provider, externalID string) (*models.ContentTask, error) {
	task, err := s.tasks.GetByExternalID(ctx, provider, externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}
