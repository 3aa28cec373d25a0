package config

import (
	"strings"
	"time"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, then the config file, then
// PARKLENS_* environment variables, then runtime overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Synthetic SyntheticConfig `mapstructure:"synthetic"`
	Read      ReadConfig      `mapstructure:"read"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" validate:"gte=0"`
	CORSOrigins     []string        `mapstructure:"cors_origins"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits inbound requests per client IP.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests" validate:"required_if=Enabled true,gte=0"`
	Window   time.Duration `mapstructure:"window" validate:"required_if=Enabled true,gte=0"`
}

// UpstreamConfig describes how the parking API is reached.
type UpstreamConfig struct {
	// BaseURL is the direct endpoint; {id} is replaced by the facility ID.
	BaseURL string `mapstructure:"base_url" validate:"required,contains={id}"`
	// Relays are tried in order after the direct endpoint.
	Relays     []string      `mapstructure:"relays" validate:"dive,required"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MinDelay   time.Duration `mapstructure:"min_delay" validate:"gte=0"`
	UserAgents []string      `mapstructure:"user_agents"`
}

// BreakerConfig configures per-strategy circuit breakers.
type BreakerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout" validate:"gte=0"`
	Interval            time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// CacheConfig controls snapshot freshness.
type CacheConfig struct {
	FreshTTL time.Duration `mapstructure:"fresh_ttl" validate:"gt=0"`
	StaleTTL time.Duration `mapstructure:"stale_ttl" validate:"gtefield=FreshTTL"`
}

// RetryConfig bounds the synchronous fetch path.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	InitialDelay time.Duration `mapstructure:"initial_delay" validate:"gte=0"`
	Multiplier   float64       `mapstructure:"multiplier" validate:"gte=1"`
	Deadline     time.Duration `mapstructure:"deadline" validate:"gte=0"`
}

// RefreshConfig sizes the background refresh pool.
type RefreshConfig struct {
	Workers   int           `mapstructure:"workers" validate:"gte=1"`
	QueueSize int           `mapstructure:"queue_size" validate:"gte=1"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// SyntheticConfig configures fallback data generation.
type SyntheticConfig struct {
	// Timezone is the IANA zone whose local hour drives synthetic occupancy.
	Timezone string `mapstructure:"timezone"`
}

// Location resolves Timezone, falling back to UTC.
func (s SyntheticConfig) Location() *time.Location {
	name := strings.TrimSpace(s.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ReadConfig tunes bulk reads.
type ReadConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=1"`
	// MaxBatch caps the IDs accepted by one bulk HTTP request.
	MaxBatch int `mapstructure:"max_batch" validate:"gte=1,lte=500"`
	// WaitTimeout bounds how long an HTTP read waits on a cold fetch before
	// answering with the loading placeholder. Must stay below
	// server.write_timeout.
	WaitTimeout time.Duration `mapstructure:"wait_timeout" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error TRACE DEBUG INFO WARN ERROR"`

	// Profile selects the logging complexity level
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
