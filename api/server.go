/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/accounts/*       Accounts, ledger, progression, rewards
  /api/entries/*        Entry reversal
  /api/catalog/*        Rank/tier/reward configuration

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/balance", h.GetBalance)
				r.Get("/history", h.GetHistory)
				r.Get("/expiring", h.GetExpiring)
				r.Post("/earn", h.Earn)
				r.Post("/redeem", h.Redeem)

				r.Get("/rank", h.GetRank)
				r.Get("/tier", h.GetTierState)
				r.Get("/tier/progress", h.GetTierProgress)
				r.Post("/tier/points", h.AddTierPoints)

				r.Get("/rewards/{rewardID}/eligibility", h.CheckEligibility)
				r.Post("/rewards/{rewardID}/redeem", h.RedeemReward)
			})
		})

		// Entry routes
		r.Route("/entries", func(r chi.Router) {
			r.Post("/{id}/reverse", h.Reverse)
		})

		// Catalog routes
		r.Route("/catalog", func(r chi.Router) {
			r.Post("/ranks", h.CreateRank)
			r.Post("/tiers", h.CreateTier)
			r.Post("/rewards", h.CreateReward)
		})
	})

	return r
}
