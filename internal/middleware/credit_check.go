package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/chordwave/backend/internal/ledger"
	"github.com/chordwave/backend/internal/models"
)

const ctxCostKey contextKey = "generation_cost"

// costRequest is the slice of the generation request the guard needs.
type costRequest struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// CostFunc prices a generation request. Returns an error when the kind is
// unknown or the params put the request out of range.
type CostFunc func(kind string, params json.RawMessage) (int, error)

// Authorizer reports whether a user's balance covers the required amount.
type Authorizer interface {
	Authorize(ctx context.Context, userID uuid.UUID, currency models.Currency, required int) error
}

// CostFromCtx returns the cost computed by CreditCheck, or 0 if not set.
func CostFromCtx(ctx context.Context) int {
	if c, ok := ctx.Value(ctxCostKey).(int); ok {
		return c
	}
	return 0
}

// WithCost returns a context carrying a precomputed generation cost.
func WithCost(ctx context.Context, cost int) context.Context {
	return context.WithValue(ctx, ctxCostKey, cost)
}

// CreditCheck prices the generation request and rejects it up front when the
// user's balance cannot cover it. Reads the body to extract kind and params,
// then replaces r.Body so downstream handlers can re-read it. The check is
// advisory; settlement at completion re-reads the live balance.
func CreditCheck(cost CostFunc, auth Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromCtx(r.Context())
			if user == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek costRequest
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if peek.Kind == "" {
				http.Error(w, `{"error":"kind is required"}`, http.StatusBadRequest)
				return
			}

			required, err := cost(peek.Kind, peek.Params)
			if err != nil {
				http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
				return
			}

			if err := auth.Authorize(r.Context(), user.ID, models.CurrencyCredits, required); err != nil {
				var insufficient *ledger.InsufficientCreditsError
				if errors.As(err, &insufficient) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusPaymentRequired)
					_ = json.NewEncoder(w).Encode(map[string]any{
						"error":             "insufficient credits",
						"credits_needed":    insufficient.Required,
						"credits_available": insufficient.Available,
					})
					return
				}
				http.Error(w, `{"error":"failed to check balance"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), ctxCostKey, required)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
