package fetcher

import (
	"context"
	"errors"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/parklens/parklens/internal/core"
	"github.com/parklens/parklens/internal/core/engine"
)

// BreakerSettings configures the per-strategy circuit breakers.
type BreakerSettings struct {
	Enabled bool
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long a tripped breaker rejects before probing.
	OpenTimeout time.Duration
	// Interval resets closed-state counts. Zero never resets.
	Interval time.Duration
}

// DefaultBreakerSettings returns the settings used when none are configured.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Enabled:             true,
		ConsecutiveFailures: 5,
		OpenTimeout:         2 * time.Minute,
		Interval:            10 * time.Minute,
	}
}

type breaker struct {
	cb          *gobreaker.CircuitBreaker[core.Snapshot]
	maxRequests uint32
}

func newBreaker(name string, settings BreakerSettings, logger engine.Logger, metrics *engine.Collector) *breaker {
	if !settings.Enabled {
		return nil
	}
	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = DefaultBreakerSettings().ConsecutiveFailures
	}

	metrics.SetBreakerState(name, breakerStateValue(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[core.Snapshot](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		// Breakers are shared by every facility, so only path failures count.
		IsSuccessful: func(err error) bool {
			return !isPathFailure(err)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Info("strategy breaker state change",
					zap.String("strategy", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			}
			metrics.SetBreakerState(name, breakerStateValue(to))
		},
	})
	return &breaker{cb: cb, maxRequests: 1}
}

// isPathFailure reports whether err says the network path is broken rather
// than the facility. Unknown IDs (404) and odd payloads do not count.
func isPathFailure(err error) bool {
	if err == nil {
		return false
	}
	var shape *ShapeError
	if errors.As(err, &shape) {
		return false
	}
	var transport *TransportError
	if errors.As(err, &transport) && transport.StatusCode > 0 {
		switch {
		case transport.StatusCode >= http.StatusInternalServerError:
			return true
		case transport.StatusCode == http.StatusTooManyRequests,
			transport.StatusCode == http.StatusForbidden:
			return true
		default:
			return false
		}
	}
	return true
}

// admits reports whether a call would be let through right now. It is checked
// before a throttle slot is spent; a half-open breaker already running its
// trial call rejects the rest.
func (b *breaker) admits() bool {
	if b == nil {
		return true
	}
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return false
	case gobreaker.StateHalfOpen:
		return b.cb.Counts().Requests < b.maxRequests
	default:
		return true
	}
}

func (b *breaker) execute(fn func() (core.Snapshot, error)) (core.Snapshot, error) {
	if b == nil {
		return fn()
	}
	snap, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return core.Snapshot{}, ErrBreakerOpen
	}
	return snap, err
}

func (b *breaker) state() string {
	if b == nil {
		return "disabled"
	}
	return b.cb.State().String()
}

func breakerStateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
