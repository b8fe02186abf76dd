package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/chordwave/backend/internal/middleware"
	"github.com/chordwave/backend/internal/models"
)

// EntryLister reads credit log history.
type EntryLister interface {
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.CreditLogEntry, error)
}

// CreditsHandler serves /v1/credits endpoints.
type CreditsHandler struct {
	Entries EntryLister
	Logger  *slog.Logger
}

type balanceResponse struct {
	Credits           int  `json:"credits"`
	RadioCredits      int  `json:"radio_credits"`
	TotalCreditsUsed  int  `json:"total_credits_used"`
	IsRadioSubscribed bool `json:"is_radio_subscribed"`
}

// GetBalance handles GET /v1/credits.
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Credits:           user.Credits,
		RadioCredits:      user.RadioCredits,
		TotalCreditsUsed:  user.TotalCreditsUsed,
		IsRadioSubscribed: user.IsRadioSubscribed,
	})
}

type ledgerEntryResponse struct {
	ID                string  `json:"id"`
	Currency          string  `json:"currency"`
	Amount            int     `json:"amount"`
	BalanceAfter      int     `json:"balance_after"`
	Description       string  `json:"description"`
	RelatedEntityID   *string `json:"related_entity_id,omitempty"`
	RelatedEntityType *string `json:"related_entity_type,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// GetHistory handles GET /v1/credits/history.
func (h *CreditsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	entries, err := h.Entries.ListByUserID(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("list credit history", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:                e.ID.String(),
			Currency:          string(e.Currency),
			Amount:            e.Amount,
			BalanceAfter:      e.BalanceAfter,
			Description:       e.Description,
			RelatedEntityID:   e.RelatedEntityID,
			RelatedEntityType: e.RelatedEntityType,
			CreatedAt:         e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
