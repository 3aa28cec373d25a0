package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/parklens/parklens/internal/core"
	"github.com/parklens/parklens/internal/core/cache"
	"github.com/parklens/parklens/internal/core/synthetic"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	errs  []error
	snap  core.Snapshot
	panic bool

	gate    chan struct{}
	started chan struct{}
}

func (s *stubFetcher) Fetch(ctx context.Context, facilityID string) (core.Snapshot, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.panic {
		panic("fetch exploded")
	}
	if call <= len(s.errs) && s.errs[call-1] != nil {
		return core.Snapshot{}, s.errs[call-1]
	}
	return s.snap, nil
}

func (s *stubFetcher) Direct(ctx context.Context, facilityID string) ([]byte, error) {
	return []byte(`{"raw":true}`), nil
}

func (s *stubFetcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestOrchestrator(fetcher Fetcher, clock *testClock) *Orchestrator {
	store := cache.New(cache.Policy{})
	store.Clock = clock.Now
	return &Orchestrator{
		Cache:   store,
		Fetcher: fetcher,
		Retrier: &Retrier{Sleep: func(context.Context, time.Duration) error { return nil }},
		Degrader: &Degrader{
			Cache:     store,
			Generator: &synthetic.Generator{},
			Clock:     clock.Now,
		},
		Clock: clock.Now,
	}
}

func TestReadColdMissRetriesUntilSuccess(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{
		errs: []error{errors.New("timeout"), errors.New("403")},
		snap: core.Snapshot{TotalSpaces: 93, FreeSpaces: 40},
	}
	orch := newTestOrchestrator(fetcher, clock)

	reading := orch.Read(context.Background(), "25280", ReadOptions{})

	require.Equal(t, 93, reading.TotalSpaces)
	require.Equal(t, 40, reading.FreeSpaces)
	require.True(t, reading.DataAvailable)
	require.Equal(t, core.SourceUpstream, reading.Source)
	require.False(t, reading.IsStale)
	require.Equal(t, 3, fetcher.Calls())

	entry, ok := orch.Cache.Get("25280")
	require.True(t, ok)
	require.Equal(t, clock.Now(), entry.FetchedAt)
	require.Zero(t, orch.InFlight.Len())
}

func TestReadFreshHitSkipsNetwork(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{}
	orch := newTestOrchestrator(fetcher, clock)

	clock.Set(clock.Now().Add(-1800 * time.Second))
	orch.Cache.Put("25280", core.Snapshot{TotalSpaces: 93, FreeSpaces: 12, DataAvailable: true, Source: core.SourceUpstream})
	clock.Set(clock.Now().Add(1800 * time.Second))

	reading := orch.Read(context.Background(), "25280", ReadOptions{})

	require.Equal(t, 12, reading.FreeSpaces)
	require.False(t, reading.IsStale)
	require.Equal(t, core.SourceUpstream, reading.Source)
	require.Zero(t, fetcher.Calls())
}

func TestReadStaleSchedulesOneRefresh(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{
		snap: core.Snapshot{TotalSpaces: 93, FreeSpaces: 55},
		gate: make(chan struct{}),
	}
	orch := newTestOrchestrator(fetcher, clock)

	clock.Set(clock.Now().Add(-200000 * time.Second))
	orch.Cache.Put("25280", core.Snapshot{TotalSpaces: 93, FreeSpaces: 10, DataAvailable: true})
	clock.Set(clock.Now().Add(200000 * time.Second))

	start := time.Now()
	for i := 0; i < 5; i++ {
		reading := orch.Read(context.Background(), "25280", ReadOptions{})
		require.True(t, reading.IsStale)
		require.Equal(t, core.SourceStale, reading.Source)
		require.Equal(t, 10, reading.FreeSpaces)
	}
	require.Less(t, time.Since(start), time.Second)

	close(fetcher.gate)
	require.Eventually(t, func() bool { return orch.InFlight.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, fetcher.Calls())

	reading := orch.Read(context.Background(), "25280", ReadOptions{})
	require.False(t, reading.IsStale)
	require.Equal(t, 55, reading.FreeSpaces)
}

func TestReadStaleRefreshFailureCountsAttempt(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{errs: []error{errors.New("down")}}
	orch := newTestOrchestrator(fetcher, clock)

	clock.Set(clock.Now().Add(-2 * time.Hour))
	orch.Cache.Put("1", core.Snapshot{TotalSpaces: 10, FreeSpaces: 4})
	clock.Set(clock.Now().Add(2 * time.Hour))

	reading := orch.Read(context.Background(), "1", ReadOptions{})
	require.True(t, reading.IsStale)

	require.Eventually(t, func() bool {
		entry, _ := orch.Cache.Get("1")
		return entry.FailedAttempts == 1 && orch.InFlight.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, fetcher.Calls())

	entry, _ := orch.Cache.Get("1")
	require.Equal(t, 4, entry.Payload.FreeSpaces)
}

func TestReadStaleRefreshUsesPool(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{snap: core.Snapshot{TotalSpaces: 10, FreeSpaces: 9}}
	orch := newTestOrchestrator(fetcher, clock)
	pool := NewRefreshPool(1, 1, time.Second)
	orch.Refresher = pool

	clock.Set(clock.Now().Add(-2 * time.Hour))
	orch.Cache.Put("1", core.Snapshot{TotalSpaces: 10, FreeSpaces: 4})
	orch.Cache.Put("2", core.Snapshot{TotalSpaces: 10, FreeSpaces: 4})
	clock.Set(clock.Now().Add(2 * time.Hour))

	orch.Read(context.Background(), "1", ReadOptions{})
	require.Equal(t, 1, pool.Pending())
	require.True(t, orch.InFlight.Contains("1"))

	// Queue is full: the key must not stay held.
	orch.Read(context.Background(), "2", ReadOptions{})
	require.False(t, orch.InFlight.Contains("2"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Serve(ctx) }()

	require.Eventually(t, func() bool { return orch.InFlight.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	entry, _ := orch.Cache.Get("1")
	require.Equal(t, 9, entry.Payload.FreeSpaces)
	require.Equal(t, 1, fetcher.Calls())
}

func TestReadColdFailureFallsBackToSynthetic(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)}
	down := errors.New("all strategies failed")

	first := newTestOrchestrator(&stubFetcher{errs: []error{down, down, down}}, clock)
	reading := first.Read(context.Background(), "25280", ReadOptions{})

	require.Equal(t, core.SourceMock, reading.Source)
	require.True(t, reading.DataAvailable)
	require.Equal(t, 80, reading.TotalSpaces)

	second := newTestOrchestrator(&stubFetcher{errs: []error{down, down, down}}, clock)
	require.Equal(t, reading, second.Read(context.Background(), "25280", ReadOptions{}))

	_, cached := first.Cache.Get("25280")
	require.False(t, cached)
}

func TestReadColdFailureServesOldEntry(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	down := errors.New("down")
	fetcher := &stubFetcher{errs: []error{down, down, down}}
	orch := newTestOrchestrator(fetcher, clock)

	clock.Set(clock.Now().Add(-10 * 24 * time.Hour))
	orch.Cache.Put("1", core.Snapshot{TotalSpaces: 10, FreeSpaces: 2})
	clock.Set(clock.Now().Add(10 * 24 * time.Hour))

	reading := orch.Read(context.Background(), "1", ReadOptions{})
	require.True(t, reading.IsStale)
	require.Equal(t, core.SourceStale, reading.Source)
	require.Equal(t, 2, reading.FreeSpaces)
	require.Equal(t, 3, fetcher.Calls())
}

func TestReadColdAlreadyInFlightReturnsLoading(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{
		snap:    core.Snapshot{TotalSpaces: 10, FreeSpaces: 5},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	orch := newTestOrchestrator(fetcher, clock)

	result := make(chan core.Reading, 1)
	go func() { result <- orch.Read(context.Background(), "1", ReadOptions{}) }()
	<-fetcher.started

	second := orch.Read(context.Background(), "1", ReadOptions{})
	require.True(t, second.IsLoading)
	require.True(t, second.DataAvailable)

	close(fetcher.gate)
	first := <-result
	require.Equal(t, 5, first.FreeSpaces)
	require.Equal(t, 1, fetcher.Calls())
}

func TestReadCallerCancellationDoesNotCancelFetch(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{
		snap:    core.Snapshot{TotalSpaces: 10, FreeSpaces: 6},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	orch := newTestOrchestrator(fetcher, clock)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan core.Reading, 1)
	go func() { result <- orch.Read(ctx, "1", ReadOptions{}) }()
	<-fetcher.started
	cancel()

	reading := <-result
	require.True(t, reading.IsLoading)

	close(fetcher.gate)
	require.Eventually(t, func() bool {
		_, ok := orch.Cache.Get("1")
		return ok && orch.InFlight.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReadNoCacheBypassesFreshEntry(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{snap: core.Snapshot{TotalSpaces: 10, FreeSpaces: 8}}
	orch := newTestOrchestrator(fetcher, clock)
	orch.Cache.Put("1", core.Snapshot{TotalSpaces: 10, FreeSpaces: 1})

	reading := orch.Read(context.Background(), "1", ReadOptions{NoCache: true})
	require.Equal(t, 8, reading.FreeSpaces)
	require.Equal(t, 1, fetcher.Calls())
}

func TestReadMockOption(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{}
	orch := newTestOrchestrator(fetcher, clock)

	reading := orch.Read(context.Background(), "29794", ReadOptions{Mock: true})
	require.Equal(t, core.SourceMock, reading.Source)
	require.Equal(t, 68, reading.TotalSpaces)
	require.Zero(t, fetcher.Calls())
}

func TestReadNeverPanics(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(&stubFetcher{panic: true}, clock)

	reading := orch.Read(context.Background(), "1", ReadOptions{})
	require.False(t, reading.DataAvailable)
	require.NotEmpty(t, reading.Error)
	require.Zero(t, orch.InFlight.Len())

	empty := orch.Read(context.Background(), "  ", ReadOptions{})
	require.False(t, empty.DataAvailable)
}

func TestReadManyPreservesOrder(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(&stubFetcher{}, clock)
	orch.Cache.Put("1", core.Snapshot{TotalSpaces: 10, FreeSpaces: 1})
	orch.Cache.Put("2", core.Snapshot{TotalSpaces: 10, FreeSpaces: 2})
	orch.Cache.Put("3", core.Snapshot{TotalSpaces: 10, FreeSpaces: 3})

	readings := orch.ReadMany(context.Background(), []string{"3", "1", "2"}, ReadOptions{})
	require.Len(t, readings, 3)
	require.Equal(t, []int{3, 1, 2}, []int{readings[0].FreeSpaces, readings[1].FreeSpaces, readings[2].FreeSpaces})
	require.Equal(t, "3", readings[0].FacilityID)
}

func TestOrchestratorMetricsAndStatus(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(&stubFetcher{snap: core.Snapshot{TotalSpaces: 5, FreeSpaces: 1}}, clock)
	collector := NewCollector(prometheus.NewRegistry())
	orch.Metrics = collector

	orch.Read(context.Background(), "1", ReadOptions{})
	orch.Read(context.Background(), "1", ReadOptions{})

	require.Equal(t, 1.0, testutil.ToFloat64(collector.readsTotal.WithLabelValues(string(StateColdMissSynchronous))))
	require.Equal(t, 1.0, testutil.ToFloat64(collector.readsTotal.WithLabelValues(string(StateFreshHit))))

	status := orch.Status()
	require.Equal(t, 1, status.Cache.Entries)
	require.Equal(t, 1, status.Cache.Fresh)
	require.Zero(t, status.InFlight)
	require.Equal(t, 1.0, testutil.ToFloat64(collector.cacheEntries))
}

func TestOrchestratorDirect(t *testing.T) {
	orch := &Orchestrator{Fetcher: &stubFetcher{}}
	body, err := orch.Direct(context.Background(), "1")
	require.NoError(t, err)
	require.JSONEq(t, `{"raw":true}`, string(body))

	_, err = (&Orchestrator{}).Direct(context.Background(), "1")
	require.Error(t, err)
}

func TestReadColdManyConcurrentCallersFetchOnce(t *testing.T) {
	const callers = 16
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	fetcher := &stubFetcher{
		snap:    core.Snapshot{TotalSpaces: 10, FreeSpaces: 5},
		gate:    make(chan struct{}),
		started: make(chan struct{}, callers),
	}
	orch := newTestOrchestrator(fetcher, clock)

	begin := make(chan struct{})
	results := make(chan core.Reading, callers)
	for i := 0; i < callers; i++ {
		go func() {
			<-begin
			results <- orch.Read(context.Background(), "1", ReadOptions{})
		}()
	}
	close(begin)

	var loading int
	for loading < callers-1 {
		reading := <-results
		require.True(t, reading.IsLoading, "only the fetching caller may wait")
		loading++
	}
	require.Equal(t, 1, fetcher.Calls())
	require.Equal(t, 1, orch.InFlight.Len())

	close(fetcher.gate)
	winner := <-results
	require.False(t, winner.IsLoading)
	require.Equal(t, 5, winner.FreeSpaces)
	require.Equal(t, 1, fetcher.Calls())
}

func TestNilOrchestratorReadsUnavailable(t *testing.T) {
	var orch *Orchestrator

	reading := orch.Read(context.Background(), "25280", ReadOptions{})
	require.False(t, reading.DataAvailable)
	require.Equal(t, "25280", reading.FacilityID)
	require.NotEmpty(t, reading.Error)

	readings := orch.ReadMany(context.Background(), []string{"1", "2"}, ReadOptions{})
	require.Len(t, readings, 2)
	for _, r := range readings {
		require.False(t, r.DataAvailable)
	}
}
