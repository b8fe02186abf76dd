package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chordwave/backend/internal/handlers"
	"github.com/chordwave/backend/internal/ledger"
	"github.com/chordwave/backend/internal/middleware"
	"github.com/chordwave/backend/internal/payments"
	"github.com/chordwave/backend/internal/providers"
	"github.com/chordwave/backend/internal/repository"
	"github.com/chordwave/backend/internal/services"
	"github.com/chordwave/backend/internal/tracker"
)

// RegisterV1Routes adds the /v1/ programmatic API endpoints to the given mux.
// Middleware chain: APIKeyAuth -> (CreditCheck on POST /v1/generations only) -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	pool *pgxpool.Pool,
	apiKeyRepo *repository.APIKeyRepo,
	creditRepo *repository.CreditRepo,
	trackerSvc *tracker.Service,
	registry *providers.Registry,
	validator *services.Validator,
	ledgerSvc *ledger.Service,
	userRepo *repository.UserRepo,
	logger *slog.Logger,
) {
	gh := &handlers.GenerationHandler{
		Tracker:   trackerSvc,
		Registry:  registry,
		Validator: validator,
		Logger:    logger,
	}
	ch := &handlers.CreditsHandler{
		Entries: creditRepo,
		Logger:  logger,
	}
	gwh := &handlers.GenerationWebhookHandler{
		Tracker:   trackerSvc,
		Validator: validator,
		Secret:    os.Getenv("GENERATION_WEBHOOK_SECRET"),
		Logger:    logger,
	}
	ph := payments.NewHandler(pool, ledgerSvc, userRepo, []byte(os.Getenv("PAYMENT_WEBHOOK_SECRET")), logger)

	auth := middleware.APIKeyAuth(apiKeyRepo)
	creditCheck := middleware.CreditCheck(services.Cost, ledgerSvc)

	// POST /v1/generations: Auth -> CreditCheck -> CreateGeneration
	mux.Handle("POST /v1/generations", auth(creditCheck(http.HandlerFunc(gh.CreateGeneration))))

	// GET /v1/generations and /v1/generations/{id}: Auth, status polling surface
	mux.Handle("GET /v1/generations", auth(http.HandlerFunc(gh.ListGenerations)))
	mux.Handle("GET /v1/generations/{id}", auth(http.HandlerFunc(gh.GetGeneration)))

	// GET /v1/credits and /v1/credits/history require auth.
	mux.Handle("GET /v1/credits", auth(http.HandlerFunc(ch.GetBalance)))
	mux.Handle("GET /v1/credits/history", auth(http.HandlerFunc(ch.GetHistory)))

	// GET /v1/pricing is public.
	mux.HandleFunc("GET /v1/pricing", handlers.ListPricing)

	// Webhooks authenticate with their own secrets, not API keys.
	mux.HandleFunc("POST /v1/webhooks/payments", ph.HandleWebhook)
	mux.HandleFunc("POST /v1/webhooks/generation/{provider}", gwh.HandleCallback)
}
