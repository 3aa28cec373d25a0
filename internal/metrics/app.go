package metrics

import (
	"time"

	"github.com/parklens/parklens/internal/observability"
)

// Application-level metric names emitted through gofulmen telemetry.
// Resilience internals (breakers, retries, cache tiers) live on the engine's
// Prometheus collector instead.
var (
	ReadingsServedTotal = "parklens_readings_served_total"
	ReadRequestDuration = "parklens_read_request_duration_ms"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordReading counts one reading returned to a caller, labelled by the
// surface that served it and where the data came from.
func RecordReading(surface string, source string, available bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	if source == "" {
		source = "none"
	}
	status := "available"
	if !available {
		status = "unavailable"
	}
	_ = observability.TelemetrySystem.Counter(
		ReadingsServedTotal,
		1,
		map[string]string{
			"surface": surface,
			"source":  source,
			"status":  status,
		},
	)
}

// RecordReadDuration records how long a read request took end to end.
func RecordReadDuration(surface string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Histogram(
		ReadRequestDuration,
		duration,
		map[string]string{"surface": surface},
	)
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	_ = observability.TelemetrySystem.Counter(
		HealthCheckTotal,
		1,
		map[string]string{
			"check":  checkName,
			"status": status,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		HealthCheckDuration,
		duration,
		map[string]string{"check": checkName},
	)
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerUptime, float64(seconds), nil)
	}
}
