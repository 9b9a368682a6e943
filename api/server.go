/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request count / latency
  5. CORS:       Cross-origin requests from POS terminals

AUTHENTICATION:
  Write routes require an actor (RequireActor): a JWT bearer token when a
  secret is configured, the X-Actor-ID header otherwise. Reads are open to
  the terminal network.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	Auth           *ActorResolver
	// Health reports backend readiness for /healthz. Nil means always healthy.
	Health func(context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Auth == nil {
		opts.Auth = NewActorResolver("", "")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader, "Idempotency-Key"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, Result{Error: err.Error(), Code: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, ok())
	})
	r.Handle("/metrics", h.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Reads
		r.Get("/orders/{id}", h.GetOrder)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/sessions/{id}/totals", h.SessionTotals)

		// Writes
		r.Group(func(r chi.Router) {
			r.Use(opts.Auth.RequireActor)

			r.Post("/orders", h.CreateOrder)
			r.Post("/orders/{id}/items", h.AddItem)
			r.Post("/orders/{id}/advance", h.Advance)
			r.Post("/orders/{id}/status", h.TransitionTo)
			r.Post("/orders/{id}/payments", h.FinalizePayment)
			r.Post("/orders/{id}/payments/split", h.SplitPayment)
			r.Post("/payments/{id}/refunds", h.Refund)

			r.Post("/sessions", h.StartSession)
			r.Post("/sessions/{id}/close", h.CloseSession)
			r.Post("/sessions/{id}/cash-count", h.RecordCount)
		})
	})

	return r
}
