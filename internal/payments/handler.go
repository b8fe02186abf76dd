package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chordwave/backend/internal/ledger"
	"github.com/chordwave/backend/internal/models"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Payment-Signature"

// Event types the gateway handles; everything else is acknowledged and skipped.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventRadioActivated    = "radio.subscription.activated"
)

var (
	// ErrInvalidSignature is returned when the webhook signature does not match.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMissingMetadata is returned when an event lacks user_id or credits.
	ErrMissingMetadata = errors.New("missing event metadata")
)

// Ledger is the credit service interface the gateway needs.
type Ledger interface {
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, amount int, description string, related *ledger.Ref) (int, error)
	HasEntryForReference(ctx context.Context, relatedID, relatedType string) (bool, error)
}

// UserStore updates subscription state for radio activations.
type UserStore interface {
	ActivateRadioSubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID, expiresAt time.Time) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// event is the payment provider's webhook envelope.
type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SessionID string `json:"session_id"`
		Metadata  struct {
			UserID  string `json:"user_id"`
			Credits int    `json:"credits"`
			// days the radio subscription runs; only on radio events.
			SubscriptionDays int `json:"subscription_days"`
		} `json:"metadata"`
	} `json:"data"`
}

// Handler consumes payment provider completion events and turns them into
// ledger credits. One handler, one route; idempotency is keyed on the
// provider's session/event id stored in related_entity_id, so redelivered
// events are acknowledged without crediting twice.
type Handler struct {
	DB     TxBeginner
	Ledger Ledger
	Users  UserStore
	Secret []byte
	Logger *slog.Logger
}

func NewHandler(db TxBeginner, led Ledger, users UserStore, secret []byte, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{DB: db, Ledger: led, Users: users, Secret: secret, Logger: logger}
}

// HandleWebhook serves POST /v1/webhooks/payments.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	r.Body.Close()

	if err := h.verifySignature(body, r.Header.Get(SignatureHeader)); err != nil {
		h.Logger.Warn("payment webhook signature rejected", "error", err)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		h.handleCheckoutCompleted(w, r, &ev)
	case EventRadioActivated:
		h.handleRadioActivated(w, r, &ev)
	default:
		// Acknowledge unknown event types so the provider stops redelivering.
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "skipped": true})
	}
}

func (h *Handler) handleCheckoutCompleted(w http.ResponseWriter, r *http.Request, ev *event) {
	userID, credits, err := h.requireMetadata(ev)
	if err != nil {
		h.Logger.Error("checkout event missing metadata", "event_id", ev.ID)
		http.Error(w, `{"error":"missing metadata"}`, http.StatusBadRequest)
		return
	}

	sessionID := ev.Data.SessionID
	if sessionID == "" {
		sessionID = ev.ID
	}

	duplicate, err := h.Ledger.HasEntryForReference(r.Context(), sessionID, models.RelatedCheckoutSession)
	if err != nil {
		h.Logger.Error("idempotency check failed", "session_id", sessionID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if duplicate {
		h.Logger.Info("duplicate checkout event, skipping", "session_id", sessionID)
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
		return
	}

	tx, err := h.DB.Begin(r.Context())
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	newBalance, err := h.Ledger.Credit(r.Context(), tx, userID, models.CurrencyCredits, credits,
		"credit purchase", &ledger.Ref{ID: sessionID, Type: models.RelatedCheckoutSession})
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			// The user referenced by the event does not exist; retrying will
			// never resolve this, so acknowledge and flag.
			h.Logger.Error("checkout event for unknown user", "event_id", ev.ID, "user_id", userID)
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "error": "unknown user"})
			return
		}
		h.Logger.Error("credit purchase failed", "event_id", ev.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	h.Logger.Info("credits purchased", "user_id", userID, "credits", credits, "balance", newBalance)
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *Handler) handleRadioActivated(w http.ResponseWriter, r *http.Request, ev *event) {
	userID, credits, err := h.requireMetadata(ev)
	if err != nil {
		http.Error(w, `{"error":"missing metadata"}`, http.StatusBadRequest)
		return
	}

	duplicate, err := h.Ledger.HasEntryForReference(r.Context(), ev.ID, models.RelatedPaymentEvent)
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if duplicate {
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
		return
	}

	days := ev.Data.Metadata.SubscriptionDays
	if days <= 0 {
		days = 30
	}
	expiresAt := time.Now().AddDate(0, 0, days)

	tx, err := h.DB.Begin(r.Context())
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	if _, err := h.Ledger.Credit(r.Context(), tx, userID, models.CurrencyRadio, credits,
		"radio subscription activated", &ledger.Ref{ID: ev.ID, Type: models.RelatedPaymentEvent}); err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "error": "unknown user"})
			return
		}
		h.Logger.Error("radio activation credit failed", "event_id", ev.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := h.Users.ActivateRadioSubscription(r.Context(), tx, userID, expiresAt); err != nil {
		h.Logger.Error("radio subscription update failed", "event_id", ev.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	h.Logger.Info("radio subscription activated", "user_id", userID, "expires_at", expiresAt)
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *Handler) requireMetadata(ev *event) (uuid.UUID, int, error) {
	if ev.Data.Metadata.UserID == "" || ev.Data.Metadata.Credits <= 0 {
		return uuid.Nil, 0, ErrMissingMetadata
	}
	userID, err := uuid.Parse(ev.Data.Metadata.UserID)
	if err != nil {
		return uuid.Nil, 0, ErrMissingMetadata
	}
	return userID, ev.Data.Metadata.Credits, nil
}

func (h *Handler) verifySignature(body []byte, signature string) error {
	if signature == "" {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, h.Secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the signature for a payload. Exported for tests and local tooling.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
