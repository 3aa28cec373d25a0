package config

import (
	"github.com/spf13/viper"

	"github.com/parklens/parklens/internal/core/fetcher"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "PARKLENS"

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.window", "15m")

	// Upstream defaults
	v.SetDefault("upstream.base_url", fetcher.DefaultBaseURL)
	v.SetDefault("upstream.relays", fetcher.DefaultRelays)
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.min_delay", "5s")
	v.SetDefault("upstream.user_agents", []string{})

	// Circuit breaker defaults
	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.consecutive_failures", 5)
	v.SetDefault("breaker.open_timeout", "2m")
	v.SetDefault("breaker.interval", "10m")

	// Cache defaults
	v.SetDefault("cache.fresh_ttl", "1h")
	v.SetDefault("cache.stale_ttl", "168h")

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.deadline", "2m")

	// Background refresh defaults
	v.SetDefault("refresh.workers", 4)
	v.SetDefault("refresh.queue_size", 256)
	v.SetDefault("refresh.timeout", "90s")

	v.SetDefault("synthetic.timezone", "Europe/Moscow")
	v.SetDefault("read.concurrency", 8)
	v.SetDefault("read.max_batch", 50)
	v.SetDefault("read.wait_timeout", "45s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}
