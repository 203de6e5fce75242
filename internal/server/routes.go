package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/ratewatch/ratewatch/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := s.opts.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Handle("/metrics", s.opts.Metrics.Handler())

	if s.opts.Registry != nil {
		apis := &handlers.APIsHandler{Registry: s.opts.Registry, Store: s.opts.Store}
		s.router.Get("/apis", apis.List)
		s.router.Get("/apis/{name}", apis.Get)
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint exposes gofulmen's signal handler so an operator can
// trigger a reload (registry re-read) or a graceful shutdown over HTTP.
func (s *Server) registerAdminEndpoint() {
	if s.opts.AdminToken == "" {
		s.logger.Debug("Admin signal endpoint disabled (no admin token set)")
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	s.logger.Info("Admin signal endpoint enabled",
		zap.String("path", "/admin/signal"),
		zap.String("rate_limit", "10/min, burst 5"))
	s.logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
}
