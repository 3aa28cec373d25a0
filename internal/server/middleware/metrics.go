package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/parklens/parklens/internal/observability"
)

// DataSourceHeader is set by read handlers to the status of the reading
// they served (live, stale, mock, loading or unavailable).
const DataSourceHeader = "X-Data-Source"

// getEndpointPattern returns the chi route pattern so facility IDs never become label values
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if routePattern := rctx.RoutePattern(); routePattern != "" {
			return routePattern
		}
	}

	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/health"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/metrics/resilience", path == "/":
		return path
	case strings.HasPrefix(path, "/api/parkings/"):
		return "/api/parkings/*"
	case strings.HasPrefix(path, "/api/areas"):
		return "/api/areas/*"
	default:
		return "/unknown"
	}
}

func isProbeEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, "/health") || strings.HasPrefix(endpoint, "/metrics")
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// RequestMetrics emits request counters and latency to the telemetry system
// and logs each request. Probe endpoints log at debug level.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		endpoint := getEndpointPattern(r)
		source := ww.Header().Get(DataSourceHeader)

		if sys := observability.TelemetrySystem; sys != nil {
			labels := map[string]string{
				"method":   r.Method,
				"endpoint": endpoint,
				"status":   strconv.Itoa(status),
			}
			_ = sys.Counter("http_requests_total", 1, labels)
			_ = sys.Histogram("http_request_duration_ms", duration, labels)
			_ = sys.Gauge("http_response_size_bytes", float64(ww.BytesWritten()), map[string]string{
				"method":   r.Method,
				"endpoint": endpoint,
			})

			if status >= 400 {
				_ = sys.Counter("http_errors_total", 1, map[string]string{
					"method":       r.Method,
					"endpoint":     endpoint,
					"status_class": statusClass(status),
				})
			}
			if source != "" && source != "live" {
				_ = sys.Counter("http_degraded_responses_total", 1, map[string]string{
					"endpoint": endpoint,
					"source":   source,
				})
			}
		}

		logger := observability.ServerLogger
		if logger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.Int("response_size", ww.BytesWritten()),
			zap.String("requestID", GetRequestID(r.Context())),
		}
		if source != "" {
			fields = append(fields, zap.String("data_source", source))
		}
		if isProbeEndpoint(endpoint) {
			logger.Debug("HTTP request completed", fields...)
			return
		}
		logger.Info("HTTP request completed", fields...)
	})
}
