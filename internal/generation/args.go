package generation

import (
	"encoding/json"

	"github.com/google/uuid"
)

// SubmitArgs starts a generation job at the external provider. Enqueued in
// the same transaction that persists the ContentTask.
type SubmitArgs struct {
	TaskID   uuid.UUID       `json:"task_id"`
	TaskKind string          `json:"kind"`
	Provider string          `json:"provider"`
	Title    string          `json:"title"`
	Params   json.RawMessage `json:"params"`
}

func (SubmitArgs) Kind() string { return "generation_submit" }

// PollArgs checks the provider for the job's current status. A non-terminal
// status snoozes the job; terminal statuses settle through the tracker.
type PollArgs struct {
	TaskID     uuid.UUID `json:"task_id"`
	Provider   string    `json:"provider"`
	ExternalID string    `json:"external_id"`
}

func (PollArgs) Kind() string { return "generation_poll" }
