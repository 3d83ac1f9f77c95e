/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

SECURITY NOTE:
  No authentication middleware. Identity arrives as explicit account IDs
  from the fronting collaborator, which owns auth.

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all routes configured. gatherer serves
// /metrics; pass nil to skip the endpoint.
func NewRouter(h *Handler, allowedOrigins []string, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Purchase paths
		r.Post("/purchase", h.Purchase)
		r.Post("/payment-session", h.OpenPaymentSession)
		r.Post("/payment-callback", h.PaymentCallback)

		// Collaborator reads
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.ListAccountTransactions)
		})
		r.Get("/transactions", h.ListAllTransactions)
		r.Get("/packages", h.ListPackages)

		// Pricing
		r.Get("/pricing", h.GetPricing)
		r.Put("/pricing", h.UpdatePricing)
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
