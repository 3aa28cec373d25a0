package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	apperrors "github.com/parklens/parklens/internal/errors"
	"github.com/parklens/parklens/internal/observability"
	"github.com/parklens/parklens/internal/server/handlers"
	servermw "github.com/parklens/parklens/internal/server/middleware"
)

// Options configures the HTTP server. Zero timeouts fall back to defaults.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	CORSOrigins []string
	// RateRequests per RateWindow per client IP; zero disables limiting.
	RateRequests int
	RateWindow   time.Duration

	// Service backs the /api routes. Without it only health, version and
	// metrics routes are registered.
	Service  handlers.OccupancyService
	MaxBatch int
	// ReadWait bounds reads on the /api routes. It is clamped below the
	// write timeout so a slow cold fetch still gets a response.
	ReadWait time.Duration
	// Gatherer exposes the resilience collector on /metrics/resilience.
	Gatherer prometheus.Gatherer
	// AdminToken enables POST /admin/signal when set.
	AdminToken string

	DisableHealth bool
	// Profiler mounts net/http/pprof under /debug.
	Profiler bool
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	opts   Options
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	r.Use(servermw.CORS(opts.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		opts:   opts,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()

	return s
}

// Addr returns host:port for the listener.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Serve runs the server until ctx is cancelled, then shuts down gracefully.
// It implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.Addr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  durationOr(s.opts.ReadTimeout, 30*time.Second),
		WriteTimeout: durationOr(s.opts.WriteTimeout, 60*time.Second),
		IdleTimeout:  durationOr(s.opts.IdleTimeout, 120*time.Second),
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.server = httpServer

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Starting HTTP server",
			zap.String("host", s.opts.Host),
			zap.Int("port", s.opts.Port),
			zap.String("addr", addr))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// String names the service in supervisor events.
func (s *Server) String() string {
	return "http-server"
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.opts.Port
}

func (s *Server) readWait() time.Duration {
	wait := durationOr(s.opts.ReadWait, handlers.DefaultWaitTimeout)
	write := durationOr(s.opts.WriteTimeout, 60*time.Second)
	if wait >= write {
		wait = write * 3 / 4
	}
	return wait
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
