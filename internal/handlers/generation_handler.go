package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/chordwave/backend/internal/middleware"
	"github.com/chordwave/backend/internal/models"
	"github.com/chordwave/backend/internal/providers"
	"github.com/chordwave/backend/internal/services"
	"github.com/chordwave/backend/internal/tracker"
)

// Tracker is the subset of the task tracker needed by the HTTP surface.
type Tracker interface {
	CreateTask(ctx context.Context, userID uuid.UUID, kind, provider, title string, cost int, params json.RawMessage) (*models.ContentTask, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.ContentTask, error)
	ListTasks(ctx context.Context, userID uuid.UUID) ([]*models.ContentTask, error)
}

// ProviderResolver picks the provider client for a request.
type ProviderResolver interface {
	DefaultFor(kind string) (string, error)
	Get(name string) (providers.Provider, error)
}

// GenerationHandler serves /v1/generations endpoints.
type GenerationHandler struct {
	Tracker   Tracker
	Registry  ProviderResolver
	Validator *services.Validator
	Logger    *slog.Logger
}

// --- POST /v1/generations ---

type createGenerationRequest struct {
	Kind     string          `json:"kind"`
	Provider string          `json:"provider"`
	Title    string          `json:"title"`
	Params   json.RawMessage `json:"params"`
}

type createGenerationResponse struct {
	TaskID          string `json:"task_id"`
	Status          string `json:"status"`
	CreditsReserved int    `json:"credits_reserved"`
}

// CreateGeneration handles POST /v1/generations.
// Auth -> CreditCheck (via middleware) -> Validate Params -> Create + Enqueue -> 202.
// No credits move here; the debit happens when the task completes.
func (h *GenerationHandler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		http.Error(w, `{"error":"kind is required"}`, http.StatusBadRequest)
		return
	}

	provider := req.Provider
	if provider == "" {
		def, err := h.Registry.DefaultFor(req.Kind)
		if err != nil {
			http.Error(w, `{"error":"unsupported kind"}`, http.StatusBadRequest)
			return
		}
		provider = def
	} else {
		if !providers.Supports(provider, req.Kind) {
			http.Error(w, `{"error":"provider does not support this kind"}`, http.StatusBadRequest)
			return
		}
		if _, err := h.Registry.Get(provider); err != nil {
			http.Error(w, `{"error":"provider not configured"}`, http.StatusBadRequest)
			return
		}
	}

	// Validate params against the kind schema (hard reject).
	if err := h.Validator.ValidateParams(r.Context(), req.Kind, req.Params); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("validate params", "error", err)
		http.Error(w, `{"error":"params validation failed"}`, http.StatusBadRequest)
		return
	}

	cost := middleware.CostFromCtx(r.Context())
	if cost == 0 {
		c, err := services.Cost(req.Kind, req.Params)
		if err != nil {
			http.Error(w, `{"error":"unsupported kind"}`, http.StatusBadRequest)
			return
		}
		cost = c
	}

	task, err := h.Tracker.CreateTask(r.Context(), user.ID, req.Kind, provider, req.Title, cost, req.Params)
	if err != nil {
		h.Logger.Error("create generation task", "error", err)
		http.Error(w, `{"error":"failed to create task"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, createGenerationResponse{
		TaskID:          task.ID.String(),
		Status:          task.Status,
		CreditsReserved: task.CreditsUsed,
	})
}

// --- GET /v1/generations/{id} ---

type generationResponse struct {
	TaskID       string  `json:"task_id"`
	Kind         string  `json:"kind"`
	Provider     string  `json:"provider"`
	Status       string  `json:"status"`
	Title        string  `json:"title,omitempty"`
	CreditsUsed  int     `json:"credits_used"`
	FileURL      *string `json:"file_url,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

// GetGeneration handles GET /v1/generations/{id}. Only the owner sees the task.
func (h *GenerationHandler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	taskID, ok := extractGenerationID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Tracker.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, tracker.ErrTaskNotFound) {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get generation", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if task.UserID != user.ID {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, taskToResponse(task))
}

// ListGenerations handles GET /v1/generations.
func (h *GenerationHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	tasks, err := h.Tracker.ListTasks(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("list generations", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	out := make([]generationResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- GET /v1/pricing ---

type pricingInfo struct {
	Kind    string `json:"kind"`
	Credits int    `json:"credits"`
	Unit    string `json:"unit"`
}

// ListPricing handles GET /v1/pricing (public, no auth).
func ListPricing(w http.ResponseWriter, _ *http.Request) {
	pricing := []pricingInfo{
		{Kind: models.KindMusic, Credits: services.MusicTrackCost, Unit: "per track"},
		{Kind: models.KindImage, Credits: services.ImageCostPerItem, Unit: "per image"},
		{Kind: models.KindVideo, Credits: services.VideoCostPerSecond, Unit: "per second"},
	}
	writeJSON(w, http.StatusOK, pricing)
}

// --- helpers ---

func taskToResponse(t *models.ContentTask) generationResponse {
	resp := generationResponse{
		TaskID:       t.ID.String(),
		Kind:         t.Kind,
		Provider:     t.Provider,
		Status:       t.Status,
		Title:        t.Title,
		CreditsUsed:  t.CreditsUsed,
		FileURL:      t.FileURL,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.CompletedAt = &s
	}
	return resp
}

// extractGenerationID parses the task UUID from the URL path.
func extractGenerationID(r *http.Request) (uuid.UUID, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/generations/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
