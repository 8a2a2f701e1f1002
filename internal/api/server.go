// Package api provides the HTTP surface for the recommendation engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/eligibility"
	"github.com/opensource-finance/kestrel/internal/recommend"
	"github.com/opensource-finance/kestrel/internal/resilience"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// requestsPerMinute caps each client IP on the recommendation routes.
const requestsPerMinute = 300

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, orch *recommend.Orchestrator, store domain.Store, cache domain.Cache, bus domain.EventBus, manager *resilience.Manager, elig *eligibility.Engine, wrk *worker.Worker, version string) *Server {
	handler := NewHandler(orch, store, cache, bus, manager, elig, wrk, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and observability endpoints (never rate limited)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Get("/status", handler.Status)
	router.Handle("/metrics", promhttp.Handler())

	// API routes
	router.Route("/", func(r chi.Router) {
		r.Use(RateLimitMiddleware(cache, requestsPerMinute))

		// Recommendation generation
		r.Post("/recommendations", handler.Recommend)
		r.Post("/recommendations/batch", handler.RecommendBatch)
		r.Post("/recommendations/realtime", handler.RecommendRealtime)

		// Recommendation retrieval
		r.Get("/recommendations/{id}", handler.GetRecommendation)
		r.Get("/users/{id}/recommendations", handler.ListUserRecommendations)

		// Feedback
		r.Post("/feedback", handler.Feedback)

		// Card catalog management
		r.Get("/cards", handler.ListCards)
		r.Post("/cards", handler.CreateCard)

		// Eligibility rule management
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
