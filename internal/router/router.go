package router

import (
	"net/http"
	"strings"

	"github.com/chordwave/backend/internal/account"
	"github.com/chordwave/backend/internal/auth"
)

// New returns an http.Handler that serves the dashboard API under /api/v1.
func New(authHandler *auth.Handler, accountHandler *account.Handler) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"
	mux.HandleFunc(base+"/auth/register", authHandler.Register)
	mux.HandleFunc(base+"/auth/login", authHandler.Login)

	mux.HandleFunc(base+"/account/me", methodGET(accountHandler.GetMe))
	mux.HandleFunc(base+"/credit-ledger", methodGET(accountHandler.ListCreditLedger))
	mux.HandleFunc(base+"/generations", methodGET(accountHandler.ListGenerations))
	mux.HandleFunc(base+"/gallery", methodGET(accountHandler.ListGallery))

	mux.HandleFunc(base+"/api-keys", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			accountHandler.ListAPIKeys(w, r)
		case http.MethodPost:
			accountHandler.CreateAPIKey(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc(base+"/api-keys/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && strings.Count(r.URL.Path, "/") >= 4 {
			accountHandler.DeleteAPIKey(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
