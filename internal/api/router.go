package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Priya8975/webhook-inbox/internal/admission"
	"github.com/Priya8975/webhook-inbox/internal/delivery"
	"github.com/Priya8975/webhook-inbox/internal/idempotency"
	"github.com/Priya8975/webhook-inbox/internal/metrics"
	"github.com/Priya8975/webhook-inbox/internal/signature"
	"github.com/Priya8975/webhook-inbox/internal/store"
	ws "github.com/Priya8975/webhook-inbox/internal/websocket"
)

// Dependencies are the components served by the HTTP API. Breaker, Hub and
// MetricsHandler are optional.
type Dependencies struct {
	Store          store.Store
	Verifier       *signature.Verifier
	Gate           *idempotency.Gate
	Limiter        *admission.Limiter
	Recorder       metrics.Recorder
	Breaker        delivery.Breaker
	Hub            *ws.Hub
	MetricsHandler http.Handler
	Ready          map[string]Pinger
	MaxBodyBytes   int64
	Version        string
	Logger         *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS for dashboard
	r.Use(corsMiddleware)

	inboxHandler := NewInboxHandler(deps.Store, deps.Verifier, deps.Gate, deps.Limiter, deps.Recorder, deps.MaxBodyBytes, deps.Logger)
	eventHandler := NewEventHandler(deps.Store)
	endpointHandler := NewEndpointHandler(deps.Store, deps.Breaker)

	var clients ClientCounter
	if deps.Hub != nil {
		clients = deps.Hub
		r.Get("/ws", deps.Hub.HandleWebSocket)
	}
	statsHandler := NewStatsHandler(deps.Store, clients)

	ready := deps.Ready
	if ready == nil {
		ready = map[string]Pinger{"store": deps.Store}
	}
	r.Get("/healthz", HealthHandler(deps.Version))
	r.Get("/ready", ReadyHandler(ready, 2*time.Second))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/inbox", inboxHandler.Receive)
		r.Post("/inbox/{source}", inboxHandler.Receive)

		r.Route("/events", func(r chi.Router) {
			r.Get("/", eventHandler.List)
			r.Get("/{id}", eventHandler.Get)
		})

		r.Route("/endpoints", func(r chi.Router) {
			r.Post("/", endpointHandler.Create)
			r.Get("/", endpointHandler.List)
			r.Get("/{id}", endpointHandler.Get)
			r.Patch("/{id}", endpointHandler.Update)
			r.Get("/{id}/health", endpointHandler.Health)
		})

		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
