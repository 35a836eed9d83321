// Package api exposes workflows and jobs over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/nfgate/internal/auth"
	"github.com/mattjoyce/nfgate/internal/events"
	"github.com/mattjoyce/nfgate/internal/jobstore"
	"github.com/mattjoyce/nfgate/internal/workflowspace"
)

const defaultMaxUploadBytes = 64 << 20

// Orchestrator is the subset of orchestrator.Manager the API serves.
type Orchestrator interface {
	CreateWorkflow(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error)
	UpdateWorkflow(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error)
	ListWorkflows(ctx context.Context) ([]workflowspace.Space, error)
	GetWorkflow(ctx context.Context, id string) (workflowspace.Space, error)
	StartJob(ctx context.Context, workflowID, workspaceID string) (*jobstore.Record, error)
	GetJobStatus(ctx context.Context, workflowID, jobID string) (*jobstore.Record, error)
	ListJobs(ctx context.Context, workflowID string) ([]*jobstore.Record, error)
	EngineVersion(ctx context.Context) (string, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// BaseURL prefixes every @id in responses.
	BaseURL string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens         []auth.TokenConfig
	MaxUploadBytes int64
}

// authEnabled reports whether any credential is configured.
func (c Config) authEnabled() bool {
	return c.APIKey != "" || len(c.Tokens) > 0
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	orch      Orchestrator
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. A nil hub gets a private one, so
// /events stays mounted but only ever sends keep-alives.
func New(config Config, orch Orchestrator, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = defaultMaxUploadBytes
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if !config.authEnabled() {
		logger.Warn("API auth disabled: no api_key or tokens configured")
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		orch:      orch,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute, // uploads
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "base_url", s.config.BaseURL)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeWorkflowRead)).Get("/workflow", s.handleListWorkflows)
		r.With(s.requireScopes(auth.ScopeWorkflowWrite)).Post("/workflow", s.handleCreateWorkflow)

		r.Route("/workflow/{workflowID}", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopeWorkflowRead)).Get("/", s.handleGetWorkflow)
			r.With(s.requireScopes(auth.ScopeWorkflowWrite)).Put("/", s.handleUpdateWorkflow)
			r.With(s.requireScopes(auth.ScopeJobsWrite)).Post("/", s.handleStartJob)
			r.With(s.requireScopes(auth.ScopeJobsRead)).Get("/jobs", s.handleListJobs)
			r.With(s.requireScopes(auth.ScopeJobsRead)).Get("/{jobID}", s.handleGetJob)
		})

		r.With(s.requireScopes(auth.ScopeJobsRead)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
