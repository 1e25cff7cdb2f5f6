// Package http exposes the mastery engine over a JSON REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/alem-hub/mastery-engine/internal/interface/http/handlers"
	"github.com/alem-hub/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds a single handler via chi's Timeout middleware.
	RequestTimeout time.Duration

	// AllowedOrigins for CORS. Empty disables CORS headers.
	AllowedOrigins []string

	MaxHeaderBytes int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxHeaderBytes: 1 << 20,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Dependencies contains everything the routes need.
type Dependencies struct {
	API    *handlers.ProgressAPI
	Health *handlers.HealthChecker
	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server wraps net/http.Server with the chi router.
type Server struct {
	config     Config
	httpServer *http.Server
	router     chi.Router
	logger     *logger.Logger

	mu      sync.RWMutex
	running bool
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		config: config,
		logger: log.With(logger.Component("http")),
	}
	s.router = NewRouter(config, deps)
	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// NewRouter builds the router with the middleware chain:
// request id, real ip, request logging, CORS, panic recovery, timeout.
func NewRouter(config Config, deps Dependencies) chi.Router {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handlers.RequestLogger(log))
	if len(config.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         86400,
		}).Handler)
	}
	r.Use(chimiddleware.Recoverer)
	if config.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(config.RequestTimeout))
	}

	if deps.Health != nil {
		r.Get("/health", deps.Health.Health)
		r.Get("/ready", deps.Health.Ready)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		handlers.WriteJSON(w, http.StatusNotFound, handlers.ErrorBody{
			Error: handlers.ErrorDetail{Code: handlers.CodeNotFound, Message: "route not found"},
		})
	})

	if deps.API != nil {
		r.Route("/api/v1", deps.API.Routes)
	}
	return r
}

// Handler returns the root handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until Shutdown. It blocks.
func (s *Server) Start() error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.logger.Info("http server listening", logger.String("addr", s.config.Address()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
