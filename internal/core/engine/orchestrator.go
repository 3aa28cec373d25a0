package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parklens/parklens/internal/core"
	"github.com/parklens/parklens/internal/core/cache"
)

// ReadState names the path a read took through the orchestrator.
type ReadState string

const (
	StateFreshHit                  ReadState = "fresh_hit"
	StateStaleHitBackgroundRefresh ReadState = "stale_hit_background_refresh"
	StateColdMissSynchronous       ReadState = "cold_miss_synchronous"
	StateAlreadyInFlightWait       ReadState = "already_in_flight_wait"
	StateMock                      ReadState = "mock"
)

// DefaultReadConcurrency bounds ReadMany fan-out.
const DefaultReadConcurrency = 8

// ReadOptions adjusts a single read.
type ReadOptions struct {
	// Mock skips the cache and upstream and returns synthetic data.
	Mock bool
	// NoCache treats any cached entry as cold. In-flight coalescing still applies.
	NoCache bool
}

// Fetcher retrieves live occupancy for a facility.
type Fetcher interface {
	Fetch(ctx context.Context, facilityID string) (core.Snapshot, error)
	Direct(ctx context.Context, facilityID string) ([]byte, error)
}

// Submitter accepts background refresh jobs.
type Submitter interface {
	Submit(job RefreshJob) bool
}

// Status is a point-in-time view of orchestrator state.
type Status struct {
	Cache           cache.Stats `json:"cache"`
	InFlight        int         `json:"inFlight"`
	PendingRefresh  int         `json:"pendingRefresh"`
	LastUpstreamAt  *time.Time  `json:"lastUpstreamAt,omitempty"`
	ThrottleSpacing string      `json:"throttleSpacing,omitempty"`
}

// Orchestrator serves occupancy reads from cache, upstream, or fallbacks.
type Orchestrator struct {
	Cache     *cache.Store
	InFlight  *InFlight
	Fetcher   Fetcher
	Retrier   *Retrier
	Degrader  *Degrader
	Refresher Submitter
	Throttle  *Throttle
	Metrics   *Collector
	Logger    Logger
	// ReadConcurrency bounds parallel reads in ReadMany.
	ReadConcurrency int
	// RefreshTimeout bounds detached refreshes when no Refresher is set.
	RefreshTimeout time.Duration
	Clock          func() time.Time

	initOnce sync.Once
}

// Read returns occupancy for a facility. It never fails: every failure is
// folded into the returned reading.
func (o *Orchestrator) Read(ctx context.Context, facilityID string, opts ReadOptions) (reading core.Reading) {
	id := strings.TrimSpace(facilityID)
	if o == nil {
		return core.UnavailableReading(id, "orchestrator not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	o.init()

	defer func() {
		if r := recover(); r != nil {
			o.log().Error("read panicked", zap.String("facility_id", id), zap.String("panic", fmt.Sprint(r)))
			reading = core.UnavailableReading(id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if id == "" {
		return core.UnavailableReading(id, "facility id is required")
	}

	if opts.Mock {
		o.Metrics.RecordRead(StateMock)
		return o.readMock(id)
	}

	entry, freshness := o.Cache.Lookup(id)
	if opts.NoCache {
		freshness = cache.Cold
	}

	switch freshness {
	case cache.Fresh:
		o.Metrics.RecordRead(StateFreshHit)
		return readingFromEntry(id, entry, false)
	case cache.Stale:
		o.Metrics.RecordRead(StateStaleHitBackgroundRefresh)
		o.refreshInBackground(ctx, id)
		return readingFromEntry(id, entry, true)
	default:
		return o.readCold(ctx, id)
	}
}

// ReadMany reads several facilities concurrently, preserving input order.
func (o *Orchestrator) ReadMany(ctx context.Context, facilityIDs []string, opts ReadOptions) []core.Reading {
	if ctx == nil {
		ctx = context.Background()
	}
	readings := make([]core.Reading, len(facilityIDs))
	if len(facilityIDs) == 0 {
		return readings
	}

	limit := DefaultReadConcurrency
	if o != nil && o.ReadConcurrency > 0 {
		limit = o.ReadConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range facilityIDs {
		g.Go(func() error {
			readings[i] = o.Read(ctx, id, opts)
			return nil
		})
	}
	_ = g.Wait()

	return readings
}

// Direct returns the raw upstream body from the primary network path.
func (o *Orchestrator) Direct(ctx context.Context, facilityID string) ([]byte, error) {
	if o == nil || o.Fetcher == nil {
		return nil, fmt.Errorf("fetcher not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return o.Fetcher.Direct(ctx, strings.TrimSpace(facilityID))
}

// Status reports cache and in-flight counters.
func (o *Orchestrator) Status() Status {
	o.init()
	status := Status{
		Cache:    o.Cache.Stats(),
		InFlight: o.InFlight.Len(),
	}
	if pool, ok := o.Refresher.(*RefreshPool); ok {
		status.PendingRefresh = pool.Pending()
	}
	if o.Throttle != nil {
		if last := o.Throttle.LastRequestAt(); !last.IsZero() {
			status.LastUpstreamAt = &last
		}
		status.ThrottleSpacing = o.Throttle.MinDelay().String()
	}
	o.Metrics.SetCacheEntries(status.Cache.Entries)
	return status
}

func (o *Orchestrator) readMock(id string) core.Reading {
	reading, err := o.Degrader.Synthesize(id)
	if err != nil {
		o.Metrics.RecordDegradation(DegradeUnavailable)
		return core.UnavailableReading(id, err.Error())
	}
	return reading
}

func (o *Orchestrator) readCold(ctx context.Context, id string) core.Reading {
	release, ok := o.acquire(id)
	if !ok {
		o.Metrics.RecordRead(StateAlreadyInFlightWait)
		return core.LoadingReading(id)
	}
	o.Metrics.RecordRead(StateColdMissSynchronous)

	// The chain outlives the caller so a cancelled request still fills the cache.
	detached := context.WithoutCancel(ctx)
	done := make(chan core.Reading, 1)
	go func() {
		reading := o.safeFetchWithFallback(detached, id)
		release()
		done <- reading
	}()

	select {
	case reading := <-done:
		return reading
	case <-ctx.Done():
		return core.LoadingReading(id)
	}
}

func (o *Orchestrator) safeFetchWithFallback(ctx context.Context, id string) (reading core.Reading) {
	defer func() {
		if r := recover(); r != nil {
			o.log().Error("fetch chain panicked", zap.String("facility_id", id), zap.String("panic", fmt.Sprint(r)))
			reading = core.UnavailableReading(id, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return o.fetchWithFallback(ctx, id)
}

func (o *Orchestrator) fetchWithFallback(ctx context.Context, id string) core.Reading {
	var snap core.Snapshot
	result := o.Retrier.Run(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			o.Metrics.RecordRetry()
		}
		fetched, err := o.Fetcher.Fetch(ctx, id)
		if err != nil {
			o.log().Warn("upstream fetch failed",
				zap.String("facility_id", id),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		snap = fetched
		return nil
	})

	if result.Err == nil {
		snap.Source = core.SourceUpstream
		snap.DataAvailable = true
		entry := o.Cache.Put(id, snap)
		o.Metrics.SetCacheEntries(o.Cache.Len())
		o.log().Debug("occupancy fetched",
			zap.String("facility_id", id),
			zap.Int("attempts", result.Attempts))
		return readingFromEntry(id, &entry, false)
	}

	reading, level := o.Degrader.Resolve(id, result.Err)
	o.Metrics.RecordDegradation(level)
	return reading
}

func (o *Orchestrator) refreshInBackground(ctx context.Context, id string) {
	release, ok := o.acquire(id)
	if !ok {
		return
	}

	job := RefreshJob{
		FacilityID: id,
		Run: func(ctx context.Context) {
			defer release()
			o.refresh(ctx, id)
		},
		Discard: func() {
			release()
			o.Metrics.RecordRefresh("discarded")
		},
	}

	if o.Refresher != nil {
		if !o.Refresher.Submit(job) {
			release()
			o.Metrics.RecordRefresh("rejected")
			o.log().Warn("background refresh rejected", zap.String("facility_id", id))
		}
		return
	}

	timeout := o.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.log().Error("background refresh panicked", zap.String("facility_id", id), zap.String("panic", fmt.Sprint(r)))
			}
		}()
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		job.Run(refreshCtx)
	}()
}

// refresh is a single fetch with no retries and no degradation.
func (o *Orchestrator) refresh(ctx context.Context, id string) {
	snap, err := o.Fetcher.Fetch(ctx, id)
	if err != nil {
		failures := o.Cache.IncrementFailure(id)
		o.Metrics.RecordRefresh("failure")
		o.log().Warn("background refresh failed",
			zap.String("facility_id", id),
			zap.Int("failed_attempts", failures),
			zap.Error(err))
		return
	}

	snap.Source = core.SourceUpstream
	snap.DataAvailable = true
	o.Cache.Put(id, snap)
	o.Metrics.RecordRefresh("success")
	o.log().Debug("background refresh stored", zap.String("facility_id", id))
}

func (o *Orchestrator) acquire(id string) (func(), bool) {
	release, ok := o.InFlight.Acquire(id)
	if !ok {
		return release, false
	}
	o.Metrics.SetInFlight(o.InFlight.Len())
	return func() {
		release()
		o.Metrics.SetInFlight(o.InFlight.Len())
	}, true
}

func (o *Orchestrator) init() {
	o.initOnce.Do(func() {
		if o.Cache == nil {
			o.Cache = cache.New(cache.Policy{})
		}
		if o.Cache.Clock == nil && o.Clock != nil {
			o.Cache.Clock = o.Clock
		}
		if o.InFlight == nil {
			o.InFlight = NewInFlight()
		}
		if o.Retrier == nil {
			o.Retrier = &Retrier{}
		}
		if o.Degrader == nil {
			o.Degrader = &Degrader{Cache: o.Cache, Clock: o.Clock, Logger: o.Logger}
		}
		if o.Fetcher == nil {
			o.Fetcher = unconfiguredFetcher{}
		}
	})
}

func (o *Orchestrator) log() Logger {
	if o == nil {
		return nopLogger
	}
	return loggerOrNop(o.Logger)
}

func readingFromEntry(id string, entry *cache.Entry, stale bool) core.Reading {
	reading := core.ReadingFromSnapshot(id, entry.Payload)
	fetchedAt := entry.FetchedAt
	reading.FetchedAt = &fetchedAt
	if stale {
		reading.IsStale = true
		reading.Source = core.SourceStale
	}
	return reading
}

type unconfiguredFetcher struct{}

func (unconfiguredFetcher) Fetch(context.Context, string) (core.Snapshot, error) {
	return core.Snapshot{}, fmt.Errorf("fetcher not configured")
}

func (unconfiguredFetcher) Direct(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("fetcher not configured")
}
