package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/parklens/parklens/internal/config"
	"github.com/parklens/parklens/internal/core/engine"
	"github.com/parklens/parklens/internal/core/fetcher"
	errwrap "github.com/parklens/parklens/internal/errors"
	"github.com/parklens/parklens/internal/metrics"
	"github.com/parklens/parklens/internal/observability"
	"github.com/parklens/parklens/internal/server"
	"github.com/parklens/parklens/internal/server/handlers"
	"github.com/parklens/parklens/internal/supervisor"
)

const adminTokenEnv = "PARKLENS_ADMIN_TOKEN"

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// refreshPoolHealthChecker fails once the refresh queue is full.
type refreshPoolHealthChecker struct {
	pool     *engine.RefreshPool
	capacity int
}

func (r refreshPoolHealthChecker) CheckHealth(ctx context.Context) error {
	if r.pool == nil {
		return errwrap.NewServiceUnavailableError("refresh pool not configured")
	}
	if r.capacity > 0 && r.pool.Pending() >= r.capacity {
		return errwrap.NewServiceUnavailableError(fmt.Sprintf("refresh queue saturated (%d pending)", r.pool.Pending()))
	}
	return nil
}

// upstreamHealthChecker fails when every fetch strategy has an open breaker.
// Reads still succeed from cache and fallbacks, so this only marks degradation.
type upstreamHealthChecker struct {
	fetcher *fetcher.Fetcher
}

func (u upstreamHealthChecker) CheckHealth(ctx context.Context) error {
	states := u.fetcher.BreakerStates()
	if len(states) == 0 {
		return nil
	}
	for _, state := range states {
		if state != "open" {
			return nil
		}
	}
	return errwrap.NewServiceUnavailableError("all upstream strategies have open circuit breakers")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server and the background refresh pool.

Both run under a supervisor: a crashed HTTP server is restarted without
disturbing refreshes in flight.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (validated; listener and pool sizes need a restart)

Set PARKLENS_ADMIN_TOKEN to enable POST /admin/signal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := currentConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid")
		}

		observability.InitServerLogger(binaryName, observability.ServerOptions{
			Level:     cfg.Logging.Level,
			Profile:   cfg.Logging.Profile,
			Namespace: binaryName,
		})
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(binaryName, cfg.Metrics.Port, binaryName); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}
		startedAt := time.Now()
		metrics.SetServerStartTime(startedAt.Unix())

		registry := prometheus.NewRegistry()
		occupancy := buildCore(cfg, logger, registry, true)

		logger.Info("Initializing server",
			zap.String("service", binaryName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.Strings("strategies", occupancy.fetcher.Strategies()))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("refresh_pool", refreshPoolHealthChecker{pool: occupancy.pool, capacity: cfg.Refresh.QueueSize})
		hm.RegisterChecker("upstream", upstreamHealthChecker{fetcher: occupancy.fetcher})

		rateRequests := 0
		if cfg.Server.RateLimit.Enabled {
			rateRequests = cfg.Server.RateLimit.Requests
		}
		srv := server.New(server.Options{
			Host:          cfg.Server.Host,
			Port:          cfg.Server.Port,
			ReadTimeout:   cfg.Server.ReadTimeout,
			WriteTimeout:  cfg.Server.WriteTimeout,
			IdleTimeout:   cfg.Server.IdleTimeout,
			CORSOrigins:   cfg.Server.CORSOrigins,
			RateRequests:  rateRequests,
			MaxBatch:      cfg.Read.MaxBatch,
			ReadWait:      cfg.Read.WaitTimeout,
			RateWindow:    cfg.Server.RateLimit.Window,
			Service:       occupancy.orchestrator,
			Gatherer:      registry,
			AdminToken:    strings.TrimSpace(os.Getenv(adminTokenEnv)),
			DisableHealth: !cfg.Health.Enabled,
			Profiler:      cfg.Debug.PprofEnabled,
		})

		tree := supervisor.NewTree(binaryName, logger, supervisor.TreeConfig{
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		})
		tree.AddCoreService(occupancy.pool)
		tree.AddAPIService(srv)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Metrics exporter stop returned error", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping supervisor tree...")
			cancel()
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			return reloadConfig(ctx, viper.GetViper(), cfg, logger)
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		go func() {
			if err := signals.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Signal handler error", zap.Error(err))
				cancel()
			}
		}()

		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					metrics.SetServerUptime(int64(time.Since(startedAt).Seconds()))
				}
			}
		}()

		err = <-tree.ServeBackground(ctx)

		if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
			for _, svc := range report {
				logger.Warn("Service did not stop in time", zap.String("service", svc.Name))
			}
		}

		if err != nil && ctx.Err() == nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		logger.Info("Server stopped")
		return nil
	},
}

// reloadConfig re-reads the config file and validates it. Settings that size
// listeners or workers only take effect after a restart.
func reloadConfig(ctx context.Context, v *viper.Viper, running *config.Config, logger engine.Logger) error {
	logger.Info("Received SIGHUP: attempting config reload")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.Info("No config file found - using defaults and environment variables")
		} else {
			logger.Error("Failed to reload config file",
				zap.String("file", v.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
	}

	next, err := config.Load(ctx, v)
	if err != nil {
		logger.Error("Reloaded config is invalid", zap.Error(err))
		return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
	}

	if running != nil {
		if next.Server.Host != running.Server.Host || next.Server.Port != running.Server.Port {
			logger.Warn("Listener address changed; restart to apply",
				zap.String("host", next.Server.Host),
				zap.Int("port", next.Server.Port))
		}
		if next.Refresh.Workers != running.Refresh.Workers || next.Refresh.QueueSize != running.Refresh.QueueSize {
			logger.Warn("Refresh pool sizing changed; restart to apply",
				zap.Int("workers", next.Refresh.Workers),
				zap.Int("queue_size", next.Refresh.QueueSize))
		}
	}

	logger.Info("Configuration reloaded successfully", zap.String("file", v.ConfigFileUsed()))
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
