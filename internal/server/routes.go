package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/parklens/parklens/internal/observability"
	"github.com/parklens/parklens/internal/server/handlers"
	servermw "github.com/parklens/parklens/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	if !s.opts.DisableHealth {
		s.router.Get("/health", handlers.HealthHandler)
		s.router.Get("/health/live", handlers.LivenessHandler)
		s.router.Get("/health/ready", handlers.ReadinessHandler)
		s.router.Get("/health/startup", handlers.StartupHandler)
	}

	s.router.Get("/version", handlers.VersionHandler)

	s.router.Get("/metrics", MetricsHandler)
	if s.opts.Gatherer != nil {
		s.router.Get("/metrics/resilience", ResilienceMetricsHandler(s.opts.Gatherer))
	}

	if s.opts.Service != nil {
		parkings := &handlers.ParkingHandler{
			Service:     s.opts.Service,
			MaxBatch:    s.opts.MaxBatch,
			WaitTimeout: s.readWait(),
		}
		s.router.Route("/api", func(r chi.Router) {
			r.Use(servermw.RateLimit(s.opts.RateRequests, s.opts.RateWindow, rateLimited))

			r.Get("/parkings/live", parkings.LiveMany)
			r.Get("/parkings/{id}/live", parkings.Live)
			r.Get("/areas", parkings.Areas)
			r.Get("/areas/{area}/live", parkings.AreaLive)
			r.Get("/cache/stats", parkings.CacheStats)
		})
	}

	if s.opts.Profiler {
		s.router.Mount("/debug", middleware.Profiler())
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint registers POST /admin/signal when an admin token is configured.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
