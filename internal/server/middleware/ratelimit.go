package middleware

import (
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/httprate"
)

// RateLimit limits each client IP to requests per window. A non-positive
// requests or window disables limiting. onLimit renders the rejection; nil
// writes a plain RATE_LIMITED envelope.
func RateLimit(requests int, window time.Duration, onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	if requests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	if onLimit == nil {
		onLimit = defaultLimitHandler
	}

	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(onLimit),
	)
}

func defaultLimitHandler(w http.ResponseWriter, r *http.Request) {
	envelope := errors.NewErrorEnvelope("RATE_LIMITED", "Too many requests, please try again later").
		WithCorrelationID(GetRequestID(r.Context()))
	writeErrorResponse(w, envelope, http.StatusTooManyRequests)
}
