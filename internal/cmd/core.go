package cmd

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parklens/parklens/internal/config"
	"github.com/parklens/parklens/internal/core/cache"
	"github.com/parklens/parklens/internal/core/engine"
	"github.com/parklens/parklens/internal/core/fetcher"
	"github.com/parklens/parklens/internal/core/synthetic"
)

// occupancyCore is the wired read path shared by serve and the CLI commands.
type occupancyCore struct {
	orchestrator *engine.Orchestrator
	fetcher      *fetcher.Fetcher
	pool         *engine.RefreshPool
	cache        *cache.Store
	collector    *engine.Collector
}

// buildCore assembles the cache, fetcher and orchestrator from cfg. The
// refresh pool is returned unstarted; serve runs it under the supervisor.
// CLI commands leave it nil so refreshes run detached.
func buildCore(cfg *config.Config, logger *logging.Logger, registry prometheus.Registerer, withPool bool) *occupancyCore {
	log := engineLogger(logger)
	collector := engine.NewCollector(registry)
	throttle := engine.NewThrottle(cfg.Upstream.MinDelay)

	strategies := fetcher.DefaultStrategies(fetcher.StrategyOptions{
		BaseURL: cfg.Upstream.BaseURL,
		Relays:  cfg.Upstream.Relays,
		Timeout: cfg.Upstream.Timeout,
		Client:  &http.Client{Timeout: cfg.Upstream.Timeout},
		Headers: &fetcher.HeaderSet{UserAgents: cfg.Upstream.UserAgents},
	})
	f := fetcher.New(strategies, fetcher.Options{
		Throttle: throttle,
		Breaker: fetcher.BreakerSettings{
			Enabled:             cfg.Breaker.Enabled,
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Breaker.OpenTimeout,
			Interval:            cfg.Breaker.Interval,
		},
		Metrics: collector,
		Logger:  log,
	})

	store := cache.New(cache.Policy{FreshTTL: cfg.Cache.FreshTTL, StaleTTL: cfg.Cache.StaleTTL})

	c := &occupancyCore{
		fetcher:   f,
		cache:     store,
		collector: collector,
	}

	orch := &engine.Orchestrator{
		Cache:    store,
		InFlight: engine.NewInFlight(),
		Fetcher:  f,
		Retrier: &engine.Retrier{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Deadline:     cfg.Retry.Deadline,
		},
		Degrader: &engine.Degrader{
			Cache:     store,
			Generator: &synthetic.Generator{},
			Location:  cfg.Synthetic.Location(),
			Logger:    log,
		},
		Throttle:        throttle,
		Metrics:         collector,
		Logger:          log,
		ReadConcurrency: cfg.Read.Concurrency,
		RefreshTimeout:  cfg.Refresh.Timeout,
	}

	if withPool {
		c.pool = engine.NewRefreshPool(cfg.Refresh.Workers, cfg.Refresh.QueueSize, cfg.Refresh.Timeout)
		c.pool.Logger = log
		orch.Refresher = c.pool
	}
	c.orchestrator = orch
	return c
}

// engineLogger avoids handing the engine a non-nil interface around a nil pointer.
func engineLogger(logger *logging.Logger) engine.Logger {
	if logger == nil {
		return nil
	}
	return logger
}
