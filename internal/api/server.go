package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-auth/kestrel/internal/auth"
	"github.com/opensource-auth/kestrel/internal/domain"
	"github.com/opensource-auth/kestrel/internal/engine"
	"github.com/opensource-auth/kestrel/internal/policy"
	"github.com/opensource-auth/kestrel/internal/session"
	"github.com/opensource-auth/kestrel/internal/worker"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, authCfg domain.AuthConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, policies *policy.Engine, wrk *worker.Worker, orchestrator *session.Orchestrator, otp *auth.OTPIssuer, notifier session.Notifier, version string) *Server {
	handler := NewHandler(repo, cache, bus, eng, policies, wrk, orchestrator, otp, notifier, authCfg, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no auth required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/api", func(r chi.Router) {
		// Account flows (pre-session, no token yet)
		r.Post("/auth/signup", handler.Signup)
		r.Post("/auth/verify-signup-otp", handler.VerifySignupOTP)
		r.Post("/auth/login", handler.Login)
		r.Post("/auth/verify-login-otp", handler.VerifyLoginOTP)

		// Session-bound routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware([]byte(authCfg.JWTSecret), repo))

			r.Post("/auth/logout", handler.Logout)

			// Behavioral telemetry ingest
			r.Post("/behavior/events", handler.BehaviorEvents)

			// Baseline training and side-effect-free scoring
			r.Post("/ai/train", handler.Train)
			r.Post("/ai/predict", handler.Predict)

			// User dashboard
			r.Get("/user/dashboard", handler.Dashboard)

			// Admin views
			r.Get("/admin/users", handler.ListUsers)
			r.Get("/admin/alerts", handler.ListAlerts)
			r.Get("/admin/models", handler.ListModels)
			r.Delete("/admin/models/{userId}", handler.DropModel)

			// Guard rule management
			r.Get("/policies", handler.ListPolicies)
			r.Get("/policies/{id}", handler.GetPolicy)
			r.Post("/policies", handler.CreatePolicy)
			r.Delete("/policies/{id}", handler.DeletePolicy)
			r.Post("/policies/reload", handler.ReloadPolicies)
		})
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
