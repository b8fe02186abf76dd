package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/chordwave/backend/internal/providers"
)

// PollInterval is how long a poll job snoozes between provider checks.
const PollInterval = 15 * time.Second

// TaskService defines the tracker contract the workers need to report
// provider state. Both the poller and the webhook handler go through the same
// implementation, sharing its idempotency guarantees.
type TaskService interface {
	AttachExternalID(ctx context.Context, taskID uuid.UUID, externalID string) error
	MarkProcessing(ctx context.Context, taskID uuid.UUID) error
	MarkCompleted(ctx context.Context, taskID uuid.UUID, fileURL string) error
	MarkFailed(ctx context.Context, taskID uuid.UUID, reason string) error
}

// InsertPollFunc enqueues a poll job. Provided by main using river.Client.Insert.
type InsertPollFunc func(ctx context.Context, args PollArgs) error

// SubmitWorker calls the provider's start endpoint for a pending task.
type SubmitWorker struct {
	river.WorkerDefaults[SubmitArgs]
	tasks      TaskService
	registry   *providers.Registry
	insertPoll InsertPollFunc
	log        *slog.Logger
}

func NewSubmitWorker(tasks TaskService, registry *providers.Registry, insertPoll InsertPollFunc, log *slog.Logger) *SubmitWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SubmitWorker{tasks: tasks, registry: registry, insertPoll: insertPoll, log: log}
}

func (w *SubmitWorker) Work(ctx context.Context, job *river.Job[SubmitArgs]) error {
	return w.submit(ctx, job.Args)
}

// submit starts the provider job. A provider failure here marks the task
// failed and completes the job: no external id exists yet, no credits were
// taken, and retrying a rejected request would not change the outcome.
func (w *SubmitWorker) submit(ctx context.Context, args SubmitArgs) error {
	provider, err := w.registry.Get(args.Provider)
	if err != nil {
		return w.failTask(ctx, args.TaskID, err.Error())
	}

	externalID, err := provider.Start(ctx, providers.StartRequest{
		Kind:   args.TaskKind,
		Title:  args.Title,
		Params: args.Params,
	})
	if err != nil {
		w.log.Warn("provider start failed", "task_id", args.TaskID, "provider", args.Provider, "error", err)
		return w.failTask(ctx, args.TaskID, fmt.Sprintf("provider start failed: %v", err))
	}

	if err := w.tasks.AttachExternalID(ctx, args.TaskID, externalID); err != nil {
		return fmt.Errorf("attach external id: %w", err)
	}

	if err := w.insertPoll(ctx, PollArgs{
		TaskID:     args.TaskID,
		Provider:   args.Provider,
		ExternalID: externalID,
	}); err != nil {
		return fmt.Errorf("enqueue poll: %w", err)
	}
	return nil
}

func (w *SubmitWorker) failTask(ctx context.Context, taskID uuid.UUID, reason string) error {
	if err := w.tasks.MarkFailed(ctx, taskID, reason); err != nil {
		return fmt.Errorf("submit failed (%s) AND failed to mark task failed: %w", reason, err)
	}
	return nil
}

// PollWorker reconciles provider state back into the tracker.
type PollWorker struct {
	river.WorkerDefaults[PollArgs]
	tasks    TaskService
	registry *providers.Registry
	interval time.Duration
	log      *slog.Logger
}

func NewPollWorker(tasks TaskService, registry *providers.Registry, log *slog.Logger) *PollWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PollWorker{tasks: tasks, registry: registry, interval: PollInterval, log: log}
}

func (w *PollWorker) Work(ctx context.Context, job *river.Job[PollArgs]) error {
	return w.poll(ctx, job.Args)
}

// poll fetches the provider status once. Transport errors are returned so
// River retries; a non-terminal status snoozes until the next interval. Note
// a task the provider keeps reporting as processing is re-snoozed without
// bound: there is no task-level timeout.
func (w *PollWorker) poll(ctx context.Context, args PollArgs) error {
	provider, err := w.registry.Get(args.Provider)
	if err != nil {
		return err
	}

	result, err := provider.Status(ctx, args.ExternalID)
	if err != nil {
		return fmt.Errorf("provider status: %w", err)
	}

	switch result.State {
	case providers.StateCompleted:
		if err := w.tasks.MarkCompleted(ctx, args.TaskID, result.FileURL); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		return nil
	case providers.StateFailed:
		reason := result.Message
		if reason == "" {
			reason = "generation failed at provider"
		}
		if err := w.tasks.MarkFailed(ctx, args.TaskID, reason); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return nil
	default:
		if err := w.tasks.MarkProcessing(ctx, args.TaskID); err != nil {
			w.log.Warn("mark processing failed", "task_id", args.TaskID, "error", err)
		}
		return river.JobSnooze(w.interval)
	}
}
