package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/chordwave/backend/internal/models"
	"github.com/chordwave/backend/internal/services"
	"github.com/chordwave/backend/internal/tracker"
)

// WebhookSecretHeader carries the shared secret configured per provider callback.
const WebhookSecretHeader = "X-Webhook-Secret"

// TrackerResolver is what the generation webhook needs from the tracker.
type TrackerResolver interface {
	ResolveByExternalID(ctx context.Context, provider, externalID string) (*models.ContentTask, error)
	MarkProcessing(ctx context.Context, taskID uuid.UUID) error
	MarkCompleted(ctx context.Context, taskID uuid.UUID, fileURL string) error
	MarkFailed(ctx context.Context, taskID uuid.UUID, reason string) error
}

// GenerationWebhookHandler serves POST /v1/webhooks/generation/{provider}.
// Providers push status transitions here; the poller covers providers that
// never call back, and both paths converge on the same tracker transitions,
// so a webhook racing the poller settles once.
type GenerationWebhookHandler struct {
	Tracker   TrackerResolver
	Validator *services.Validator
	Secret    string
	Logger    *slog.Logger
}

// generationEvent is the normalized callback payload.
type generationEvent struct {
	TaskID  string          `json:"task_id"`
	Status  string          `json:"status"`
	FileURL string          `json:"file_url"`
	Message string          `json:"message"`
	Output  json.RawMessage `json:"output"`
}

func (h *GenerationWebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.Secret != "" {
		got := r.Header.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			http.Error(w, `{"error":"invalid webhook secret"}`, http.StatusUnauthorized)
			return
		}
	}

	provider := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/generation/")
	if provider == "" || strings.Contains(provider, "/") {
		http.Error(w, `{"error":"unknown provider"}`, http.StatusNotFound)
		return
	}

	var ev generationEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if ev.TaskID == "" {
		http.Error(w, `{"error":"task_id is required"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Tracker.ResolveByExternalID(r.Context(), provider, ev.TaskID)
	if err != nil {
		if errors.Is(err, tracker.ErrTaskNotFound) {
			// A callback for a task we never created or already purged.
			// Acknowledge so the provider stops retrying.
			h.Logger.Warn("callback for unknown task", "provider", provider, "external_id", ev.TaskID)
			writeJSON(w, http.StatusOK, map[string]any{"ignored": true})
			return
		}
		h.Logger.Error("resolve callback task", "provider", provider, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	switch strings.ToLower(ev.Status) {
	case "completed", "success", "succeeded":
		// Soft validate provider output against the kind schema.
		if len(ev.Output) > 0 {
			if valErr := h.Validator.ValidateOutput(r.Context(), task.Kind, ev.Output); valErr != nil {
				h.Logger.Warn("callback output validation failed (soft flag)", "task_id", task.ID, "error", valErr)
			}
		}
		if err := h.Tracker.MarkCompleted(r.Context(), task.ID, ev.FileURL); err != nil {
			h.Logger.Error("mark completed from callback", "task_id", task.ID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
	case "failed", "error", "cancelled":
		reason := ev.Message
		if reason == "" {
			reason = "generation failed at provider"
		}
		if err := h.Tracker.MarkFailed(r.Context(), task.ID, reason); err != nil {
			h.Logger.Error("mark failed from callback", "task_id", task.ID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
	default:
		if err := h.Tracker.MarkProcessing(r.Context(), task.ID); err != nil {
			h.Logger.Error("mark processing from callback", "task_id", task.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}
