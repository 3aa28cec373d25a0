// Package fetcher retrieves live occupancy from the upstream parking API,
// trying the direct path first and then a list of relays.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parklens/parklens/internal/core"
	"github.com/parklens/parklens/internal/core/engine"
)

// Fetcher tries each strategy in order and returns the first recognizable payload.
type Fetcher struct {
	strategies []Strategy
	breakers   []*breaker
	throttle   *engine.Throttle
	metrics    *engine.Collector
	logger     engine.Logger
	clock      func() time.Time
}

// Options configures a Fetcher.
type Options struct {
	Throttle *engine.Throttle
	Breaker  BreakerSettings
	Metrics  *engine.Collector
	Logger   engine.Logger
	Clock    func() time.Time
}

// New creates a fetcher over the given strategies.
func New(strategies []Strategy, opts Options) *Fetcher {
	f := &Fetcher{
		strategies: strategies,
		breakers:   make([]*breaker, len(strategies)),
		throttle:   opts.Throttle,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		clock:      opts.Clock,
	}
	for i, strategy := range strategies {
		f.breakers[i] = newBreaker(strategy.Name(), opts.Breaker, opts.Logger, opts.Metrics)
	}
	return f
}

// Fetch returns a normalized snapshot from the first strategy that yields one.
func (f *Fetcher) Fetch(ctx context.Context, facilityID string) (core.Snapshot, error) {
	if f == nil || len(f.strategies) == 0 {
		return core.Snapshot{}, errors.New("fetcher has no strategies configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id := strings.TrimSpace(facilityID)
	fetchID := uuid.New().String()

	causes := make([]error, 0, len(f.strategies))
	for i, strategy := range f.strategies {
		if err := ctx.Err(); err != nil {
			causes = append(causes, err)
			break
		}

		b := f.breakers[i]
		if !b.admits() {
			f.metrics.RecordAttempt(strategy.Name(), "skipped")
			causes = append(causes, fmt.Errorf("%s: %w", strategy.Name(), ErrBreakerOpen))
			continue
		}

		if err := f.throttle.AcquireSlot(ctx); err != nil {
			causes = append(causes, fmt.Errorf("%s: throttle wait: %w", strategy.Name(), err))
			break
		}

		// A half-open breaker can still reject here if another read took the
		// trial call between admits and execute; that attempt costs its slot.
		started := f.now()
		snap, err := b.execute(func() (core.Snapshot, error) {
			return f.attempt(ctx, strategy, id)
		})
		outcome := attemptOutcome(err)
		f.metrics.RecordAttempt(strategy.Name(), outcome)

		if err != nil {
			f.log().Debug("strategy attempt failed",
				zap.String("fetch_id", fetchID),
				zap.String("facility_id", id),
				zap.String("strategy", strategy.Name()),
				zap.String("outcome", outcome),
				zap.Duration("elapsed", f.now().Sub(started)),
				zap.Error(err))
			var transport *TransportError
			if errors.As(err, &transport) && transport.RetryAfter > 0 {
				f.throttle.Defer(transport.RetryAfter)
			}
			if errors.Is(err, ErrBreakerOpen) {
				err = fmt.Errorf("%s: %w", strategy.Name(), err)
			}
			causes = append(causes, err)
			continue
		}

		snap.GeneratedAt = f.now()
		f.log().Debug("strategy attempt succeeded",
			zap.String("fetch_id", fetchID),
			zap.String("facility_id", id),
			zap.String("strategy", strategy.Name()),
			zap.Duration("elapsed", f.now().Sub(started)))
		return snap, nil
	}

	return core.Snapshot{}, &AllStrategiesFailedError{FacilityID: id, Causes: causes}
}

// Direct returns the raw response body of the first strategy.
func (f *Fetcher) Direct(ctx context.Context, facilityID string) ([]byte, error) {
	if f == nil || len(f.strategies) == 0 {
		return nil, errors.New("fetcher has no strategies configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := f.throttle.AcquireSlot(ctx); err != nil {
		return nil, fmt.Errorf("throttle wait: %w", err)
	}

	strategy := f.strategies[0]
	body, err := strategy.Attempt(ctx, strings.TrimSpace(facilityID))
	f.metrics.RecordAttempt(strategy.Name(), attemptOutcome(err))
	if err != nil {
		var transport *TransportError
		if errors.As(err, &transport) && transport.RetryAfter > 0 {
			f.throttle.Defer(transport.RetryAfter)
		}
		return nil, err
	}
	return body, nil
}

// Strategies returns the configured strategy names in order.
func (f *Fetcher) Strategies() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.strategies))
	for _, s := range f.strategies {
		names = append(names, s.Name())
	}
	return names
}

// BreakerStates maps each strategy name to its breaker state.
func (f *Fetcher) BreakerStates() map[string]string {
	states := make(map[string]string)
	if f == nil {
		return states
	}
	for i, s := range f.strategies {
		states[s.Name()] = f.breakers[i].state()
	}
	return states
}

func (f *Fetcher) attempt(ctx context.Context, strategy Strategy, id string) (core.Snapshot, error) {
	body, err := strategy.Attempt(ctx, id)
	if err != nil {
		return core.Snapshot{}, err
	}
	snap, err := ParseSnapshot(body)
	if err != nil {
		return core.Snapshot{}, &ShapeError{Strategy: strategy.Name(), Err: err}
	}
	return snap, nil
}

func attemptOutcome(err error) string {
	if err == nil {
		return "success"
	}
	var transport *TransportError
	var shape *ShapeError
	switch {
	case errors.Is(err, ErrBreakerOpen):
		return "skipped"
	case errors.As(err, &shape):
		return "shape_error"
	case errors.As(err, &transport) && transport.StatusCode > 0:
		return "http_error"
	default:
		return "transport_error"
	}
}

func (f *Fetcher) log() engine.Logger {
	if f == nil || f.logger == nil {
		return zap.NewNop()
	}
	return f.logger
}

func (f *Fetcher) now() time.Time {
	if f != nil && f.clock != nil {
		return f.clock()
	}
	return time.Now().UTC()
}
