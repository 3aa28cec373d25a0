package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinDelay is the minimum spacing between any two upstream requests.
const DefaultMinDelay = 5 * time.Second

// Throttle spaces upstream requests process-wide, across all facilities.
type Throttle struct {
	limiter *rate.Limiter
	clock   func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	lastRequestAt time.Time
	backoffUntil  time.Time
	minDelay      time.Duration
}

// NewThrottle creates a throttle granting one slot per minDelay.
// A non-positive minDelay disables spacing.
func NewThrottle(minDelay time.Duration) *Throttle {
	limit := rate.Inf
	if minDelay > 0 {
		limit = rate.Every(minDelay)
	}
	return &Throttle{
		limiter:  rate.NewLimiter(limit, 1),
		minDelay: minDelay,
		sleep:    sleepContext,
	}
}

// AcquireSlot blocks until the next request may be sent, then claims the slot.
func (t *Throttle) AcquireSlot(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if wait := t.backoffRemaining(); wait > 0 {
		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	t.mu.Lock()
	t.lastRequestAt = t.now()
	t.mu.Unlock()
	return nil
}

// Defer pushes the next slot out by at least d, as asked by a Retry-After header.
func (t *Throttle) Defer(d time.Duration) {
	if t == nil || d <= 0 {
		return
	}
	until := t.now().Add(d)

	t.mu.Lock()
	if until.After(t.backoffUntil) {
		t.backoffUntil = until
	}
	t.mu.Unlock()
}

// LastRequestAt returns when the most recent slot was granted.
func (t *Throttle) LastRequestAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRequestAt
}

// MinDelay returns the configured spacing.
func (t *Throttle) MinDelay() time.Duration {
	if t == nil {
		return 0
	}
	return t.minDelay
}

func (t *Throttle) backoffRemaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backoffUntil.IsZero() {
		return 0
	}
	return t.backoffUntil.Sub(t.now())
}

func (t *Throttle) now() time.Time {
	if t != nil && t.clock != nil {
		return t.clock()
	}
	return time.Now().UTC()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
