package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ContentTask status enum. A task moves forward only:
// pending -> queued -> processing -> completed | failed.
// Terminal transitions are guarded by conditional updates so a task reaches
// a terminal state at most once.
const (
	TaskStatusPending    = "pending"
	TaskStatusQueued     = "queued"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// Generation kinds.
const (
	KindMusic = "music"
	KindImage = "image"
	KindVideo = "video"
)

// Generation provider names.
const (
	ProviderSuno       = "suno"
	ProviderDiffrhythm = "diffrhythm"
	ProviderOpenAI     = "openai"
	ProviderSora       = "sora"
)

// ContentTask tracks one generation request against an external provider.
// ExternalTaskID stays nil until the provider accepts the job. CreditsUsed is
// the amount reserved at creation and debited once on completion;
// CreditsDeducted records whether that debit has happened.
type ContentTask struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Kind            string          `json:"kind"`
	Provider        string          `json:"provider"`
	Status          string          `json:"status"`
	ExternalTaskID  *string         `json:"external_task_id,omitempty"`
	CreditsUsed     int             `json:"credits_used"`
	CreditsDeducted bool            `json:"credits_deducted"`
	Title           string          `json:"title"`
	Params          json.RawMessage `json:"params"`
	FileURL         *string         `json:"file_url,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the task has reached a final state.
func (t *ContentTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
