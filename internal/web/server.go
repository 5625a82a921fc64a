package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/facelink/internal/config"
	"github.com/kozaktomas/facelink/internal/logging"
	"github.com/kozaktomas/facelink/internal/session"
	"github.com/kozaktomas/facelink/internal/web/middleware"
)

// Server represents the local control surface over one session.
type Server struct {
	config     *config.Config
	orch       *session.Orchestrator
	origins    *middleware.OriginPolicy
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, orch *session.Orchestrator, port int, host string, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:  cfg,
		orch:    orch,
		origins: middleware.NewOriginPolicy(cfg.Web.AllowedOrigins),
		logger:  logging.OrDiscard(logger),
		router:  r,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(s.origins))

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// requestTimeout bounds non-streaming requests. Uploads and scans run
// several remote calls in sequence, so it is a multiple of the API timeout.
func (s *Server) requestTimeout() time.Duration {
	d := s.config.API.Timeout * 4
	if d <= 0 {
		d = 2 * time.Minute
	}
	return d
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and closes the session, which
// ends every websocket event stream.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	sessionErr := s.orch.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if sessionErr != nil {
		return fmt.Errorf("closing session: %w", sessionErr)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
