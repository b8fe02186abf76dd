package account

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/chordwave/backend/internal/auth"
	"github.com/chordwave/backend/internal/middleware"
	"github.com/chordwave/backend/internal/models"
	"github.com/chordwave/backend/internal/repository"
)

type Handler struct {
	authSvc  auth.Service
	userR    *repository.UserRepo
	creditR  *repository.CreditRepo
	apiKeyR  *repository.APIKeyRepo
	taskR    *repository.TaskRepo
	galleryR *repository.GalleryRepo
	log      *slog.Logger
}

func NewHandler(
	authSvc auth.Service,
	userR *repository.UserRepo,
	creditR *repository.CreditRepo,
	apiKeyR *repository.APIKeyRepo,
	taskR *repository.TaskRepo,
	galleryR *repository.GalleryRepo,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		authSvc:  authSvc,
		userR:    userR,
		creditR:  creditR,
		apiKeyR:  apiKeyR,
		taskR:    taskR,
		galleryR: galleryR,
		log:      log,
	}
}

func (h *Handler) userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return uuid.Nil, fmt.Errorf("missing authorization")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return uuid.Nil, fmt.Errorf("bad authorization format")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return uuid.Nil, fmt.Errorf("empty token")
	}
	return h.authSvc.ValidateToken(r.Context(), token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	u, err := h.userR.GetByID(r.Context(), userID)
	if err != nil {
		h.log.Error("get user failed", "error", err)
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                            u.ID,
		"email":                         u.Email,
		"display_name":                  u.DisplayName,
		"credits":                       u.Credits,
		"radio_credits":                 u.RadioCredits,
		"total_credits_used":            u.TotalCreditsUsed,
		"is_radio_subscribed":           u.IsRadioSubscribed,
		"radio_subscription_expires_at": u.RadioSubscriptionExpiresAt,
		"created_at":                    u.CreatedAt,
	})
}

// GET /api/v1/credit-ledger
func (h *Handler) ListCreditLedger(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	entries, err := h.creditR.ListByUserID(r.Context(), userID)
	if err != nil {
		h.log.Error("list credit ledger failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.CreditLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/v1/generations
func (h *Handler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tasks, err := h.taskR.ListByUserID(r.Context(), userID)
	if err != nil {
		h.log.Error("list generations failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.ContentTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GET /api/v1/gallery
func (h *Handler) ListGallery(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	items, err := h.galleryR.ListByUserID(r.Context(), userID)
	if err != nil {
		h.log.Error("list gallery failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*models.GalleryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// GET /api/v1/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	keys, err := h.apiKeyR.ListByUserID(r.Context(), userID)
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// POST /api/v1/api-keys
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		http.Error(w, "key generation failed", http.StatusInternalServerError)
		return
	}
	rawKey := "cwav_" + hex.EncodeToString(rawBytes)

	k := &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		KeyHash:   middleware.HashKey(rawKey),
		KeyPrefix: rawKey[:12],
		IsActive:  true,
	}
	if err := h.apiKeyR.Create(r.Context(), k); err != nil {
		h.log.Error("create api key failed", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         k.ID,
		"key_prefix": k.KeyPrefix,
		"is_active":  k.IsActive,
		"raw_key":    rawKey,
	})
}

// DELETE /api/v1/api-keys/{id}
func (h *Handler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if _, err := h.userIDFromRequest(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	parts := strings.Split(strings.TrimRight(r.URL.Path, "/"), "/")
	keyID, err := uuid.Parse(parts[len(parts)-1])
	if err != nil {
		http.Error(w, "invalid key ID", http.StatusBadRequest)
		return
	}
	if err := h.apiKeyR.Delete(r.Context(), keyID); err != nil {
		h.log.Error("delete api key failed", "error", err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
