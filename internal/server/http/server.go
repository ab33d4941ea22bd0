// Package httpserver provides the HTTP REST API of the OSINT research service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/osint-research-service/internal/database"
	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/repository"
	"github.com/helixir/osint-research-service/internal/research"
	"github.com/helixir/osint-research-service/internal/sessions"
	"github.com/helixir/osint-research-service/internal/temporal"
)

// SessionService starts and cancels research sessions.
type SessionService interface {
	Start(ctx context.Context, req sessions.StartRequest) (*domain.Session, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Session, error)
}

// SessionStore reads persisted sessions.
type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	List(ctx context.Context, filter repository.SessionFilter) ([]*domain.Session, int64, error)
}

// ReportReader loads stored reports.
type ReportReader interface {
	GetReport(ctx context.Context, sessionID string) (*research.Report, error)
}

// ProgressQuerier reads live progress from a running workflow.
type ProgressQuerier interface {
	QueryProgress(ctx context.Context, workflowID string) (*temporal.WorkflowProgress, error)
}

// DatabaseHealth reports database connectivity.
type DatabaseHealth interface {
	Health(ctx context.Context) database.HealthStatus
}

// TemporalHealth reports Temporal connectivity.
type TemporalHealth interface {
	Health(ctx context.Context) error
}

// Deps holds the collaborators of the HTTP server. Progress and Temporal are
// optional.
type Deps struct {
	Sessions SessionService
	Store    SessionStore
	Audit    research.AuditReader
	Reports  ReportReader
	Progress ProgressQuerier
	DB       DatabaseHealth
	Temporal TemporalHealth
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Deps
	logger     zerolog.Logger

	streamInterval time.Duration
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		deps:           deps,
		logger:         logger.With().Str("component", "http-server").Logger(),
		streamInterval: sseQueryInterval,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestLogger)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readinessHandler)

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", s.startSession)
		r.Get("/", s.listSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Get("/report", s.getReport)
			r.Get("/audit", s.getAuditTrail)
			r.Get("/progress", s.streamProgress)
			r.Post("/cancel", s.cancelSession)
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	health := s.deps.DB.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
	})
}

// readinessHandler returns readiness status including Temporal connectivity.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ready"}
	ready := true

	if s.deps.DB != nil {
		health := s.deps.DB.Health(r.Context())
		resp["database"] = health.Status
		if health.Status != "healthy" {
			ready = false
		}
	}
	if s.deps.Temporal != nil {
		if err := s.deps.Temporal.Health(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("temporal health check failed")
			resp["temporal"] = "unhealthy"
			ready = false
		} else {
			resp["temporal"] = "healthy"
		}
	}

	if !ready {
		resp["status"] = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
