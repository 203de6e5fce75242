// Package server exposes the read-only status API of a running poll loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ratewatch/ratewatch/internal/core"
	apperrors "github.com/ratewatch/ratewatch/internal/errors"
	"github.com/ratewatch/ratewatch/internal/metrics"
	"github.com/ratewatch/ratewatch/internal/server/handlers"
	servermw "github.com/ratewatch/ratewatch/internal/server/middleware"
)

// Options configures the status server.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// AdminToken enables POST /admin/signal when non-empty.
	AdminToken string

	Registry handlers.APILister
	Store    handlers.StatusStore
	Metrics  *metrics.Collector
	Health   *handlers.HealthManager
	Logger   core.Logger
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	opts   Options
	logger core.Logger
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = core.NopLogger()
	}
	if opts.Health == nil {
		opts.Health = handlers.NewHealthManager(handlers.AppVersion)
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	// RequestID first so metrics logs and panic envelopes carry it.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics(opts.Metrics, logger))
	r.Use(servermw.Recovery(opts.Metrics))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		opts:   opts,
		logger: logger,
	}
	s.registerRoutes()

	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := s.Addr()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("Starting HTTP server",
		zap.String("host", s.opts.Host),
		zap.Int("port", s.opts.Port),
		zap.String("addr", addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}
