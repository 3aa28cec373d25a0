package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exports resilience metrics for the read path. A nil *Collector
// is valid and records nothing.
type Collector struct {
	readsTotal        *prometheus.CounterVec
	upstreamAttempts  *prometheus.CounterVec
	retriesTotal      prometheus.Counter
	degradationsTotal *prometheus.CounterVec
	refreshesTotal    *prometheus.CounterVec
	inFlight          prometheus.Gauge
	cacheEntries      prometheus.Gauge
	breakerState      *prometheus.GaugeVec
}

// NewCollector registers the metrics on registry.
func NewCollector(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Collector{
		readsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parklens_reads_total",
				Help: "Reads served, by orchestrator state",
			},
			[]string{"state"},
		),
		upstreamAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parklens_upstream_attempts_total",
				Help: "Upstream fetch attempts, by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		retriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "parklens_retries_total",
				Help: "Backoff retries on the synchronous path",
			},
		),
		degradationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parklens_degradations_total",
				Help: "Degraded readings, by fallback level",
			},
			[]string{"level"},
		),
		refreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parklens_background_refreshes_total",
				Help: "Background refreshes, by outcome",
			},
			[]string{"outcome"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parklens_inflight_fetches",
				Help: "Facilities with an upstream fetch in progress",
			},
		),
		cacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parklens_cache_entries",
				Help: "Facilities held in the snapshot cache",
			},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "parklens_circuit_breaker_state",
				Help: "Strategy circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"strategy"},
		),
	}
}

// RecordRead counts a read by state.
func (c *Collector) RecordRead(state ReadState) {
	if c == nil {
		return
	}
	c.readsTotal.WithLabelValues(string(state)).Inc()
}

// RecordAttempt counts one strategy attempt.
func (c *Collector) RecordAttempt(strategy, outcome string) {
	if c == nil {
		return
	}
	c.upstreamAttempts.WithLabelValues(strategy, outcome).Inc()
}

// UpstreamAttempts returns the attempt counter for a strategy and outcome.
func (c *Collector) UpstreamAttempts(strategy, outcome string) prometheus.Counter {
	return c.upstreamAttempts.WithLabelValues(strategy, outcome)
}

// RecordRetry counts a backoff retry.
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.retriesTotal.Inc()
}

// RecordDegradation counts a degraded reading.
func (c *Collector) RecordDegradation(level DegradeLevel) {
	if c == nil {
		return
	}
	c.degradationsTotal.WithLabelValues(string(level)).Inc()
}

// RecordRefresh counts a background refresh outcome.
func (c *Collector) RecordRefresh(outcome string) {
	if c == nil {
		return
	}
	c.refreshesTotal.WithLabelValues(outcome).Inc()
}

// SetInFlight updates the in-flight gauge.
func (c *Collector) SetInFlight(n int) {
	if c == nil {
		return
	}
	c.inFlight.Set(float64(n))
}

// SetCacheEntries updates the cache size gauge.
func (c *Collector) SetCacheEntries(n int) {
	if c == nil {
		return
	}
	c.cacheEntries.Set(float64(n))
}

// SetBreakerState records a breaker state as 0 closed, 1 open, 2 half-open.
func (c *Collector) SetBreakerState(strategy string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(strategy).Set(float64(state))
}
