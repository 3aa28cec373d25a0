package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
	DefaultMultiplier   = 2.0
	DefaultRetryBudget  = 2 * time.Minute
)

// ErrRetryBudgetExceeded is returned when the next backoff would overrun the deadline.
var ErrRetryBudgetExceeded = errors.New("retry deadline exceeded")

// Retrier runs an operation up to MaxAttempts times with exponential backoff.
type Retrier struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	// Deadline bounds the whole sequence, attempts and delays included.
	Deadline time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
	Clock    func() time.Time
	OnRetry  func(attempt int, delay time.Duration, err error)
}

// RetryResult reports how a retry sequence ended.
type RetryResult struct {
	Attempts int
	Err      error
}

// Run calls fn until it succeeds or attempts are exhausted.
// fn receives the 1-based attempt number.
func (r *Retrier) Run(ctx context.Context, fn func(ctx context.Context, attempt int) error) RetryResult {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := r.withDefaults()

	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	delay := cfg.InitialDelay
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			return RetryResult{Attempts: attempts}
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if deadline, ok := ctx.Deadline(); ok && cfg.now().Add(delay).After(deadline) {
			lastErr = fmt.Errorf("%w: %w", ErrRetryBudgetExceeded, lastErr)
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}
		if sleepErr := cfg.Sleep(ctx, delay); sleepErr != nil {
			break
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}

	return RetryResult{Attempts: attempts, Err: lastErr}
}

// Delays lists the backoff delays a full sequence would use.
func (r *Retrier) Delays() []time.Duration {
	cfg := r.withDefaults()
	delays := make([]time.Duration, 0, cfg.MaxAttempts-1)
	delay := cfg.InitialDelay
	for i := 1; i < cfg.MaxAttempts; i++ {
		delays = append(delays, delay)
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}
	return delays
}

func (r *Retrier) withDefaults() Retrier {
	var cfg Retrier
	if r != nil {
		cfg = *r
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return cfg
}

func (r *Retrier) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}
