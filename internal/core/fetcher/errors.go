package fetcher

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBreakerOpen marks a strategy skipped because its circuit breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// TransportError is a failed request on one network path: no response,
// a timeout, or a non-2xx status.
type TransportError struct {
	Strategy   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: upstream status %d", e.Strategy, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ShapeError is a 2xx response whose body is not a recognizable occupancy payload.
type ShapeError struct {
	Strategy string
	Err      error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: unrecognized payload: %v", e.Strategy, e.Err)
}

func (e *ShapeError) Unwrap() error {
	return e.Err
}

// AllStrategiesFailedError is returned when every network path failed.
type AllStrategiesFailedError struct {
	FacilityID string
	Causes     []error
}

func (e *AllStrategiesFailedError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, cause := range e.Causes {
		parts = append(parts, cause.Error())
	}
	return fmt.Sprintf("all strategies failed for facility %s: %s", e.FacilityID, strings.Join(parts, "; "))
}

func (e *AllStrategiesFailedError) Unwrap() []error {
	return e.Causes
}
