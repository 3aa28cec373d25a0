package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/parklens/parklens/internal/core"
	"github.com/parklens/parklens/internal/core/engine"
)

type stubStrategy struct {
	name string
	body string
	err  error

	mu    sync.Mutex
	calls int
}

func (s *stubStrategy) Name() string {
	return s.name
}

func (s *stubStrategy) Attempt(ctx context.Context, facilityID string) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.body), nil
}

func (s *stubStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestFetchFallsThroughToFirstSuccess(t *testing.T) {
	first := &stubStrategy{name: "direct", err: &TransportError{Strategy: "direct", StatusCode: http.StatusForbidden}}
	second := &stubStrategy{name: "relay-1", err: &TransportError{Strategy: "relay-1", Err: context.DeadlineExceeded}}
	third := &stubStrategy{name: "relay-2", body: `{"parking":{"congestion":{"spaces":{"overall":{"total":93,"free":40}}}}}`}
	fourth := &stubStrategy{name: "relay-3", body: structuredBody}

	registry := prometheus.NewRegistry()
	collector := engine.NewCollector(registry)
	f := New([]Strategy{first, second, third, fourth}, Options{Throttle: engine.NewThrottle(0), Metrics: collector})

	snap, err := f.Fetch(context.Background(), "25280")
	require.NoError(t, err)
	require.Equal(t, 93, snap.TotalSpaces)
	require.Equal(t, 40, snap.FreeSpaces)
	require.True(t, snap.DataAvailable)
	require.Equal(t, core.SourceUpstream, snap.Source)

	require.Equal(t, 1, first.Calls())
	require.Equal(t, 3, first.Calls()+second.Calls()+third.Calls())
	require.Zero(t, fourth.Calls())

	require.Equal(t, 1.0, testutil.ToFloat64(collector.UpstreamAttempts("relay-2", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(collector.UpstreamAttempts("direct", "http_error")))
}

func TestFetchShapeErrorFallsThrough(t *testing.T) {
	first := &stubStrategy{name: "direct", body: `<html>captcha</html>`}
	second := &stubStrategy{name: "relay", body: structuredBody}
	f := New([]Strategy{first, second}, Options{})

	snap, err := f.Fetch(context.Background(), "25280")
	require.NoError(t, err)
	require.Equal(t, 93, snap.TotalSpaces)
	require.Equal(t, 1, first.Calls())
}

func TestFetchAllStrategiesFailed(t *testing.T) {
	first := &stubStrategy{name: "direct", err: errors.New("connection refused")}
	second := &stubStrategy{name: "relay", body: `{}`}
	f := New([]Strategy{first, second}, Options{Throttle: engine.NewThrottle(0)})

	_, err := f.Fetch(context.Background(), "25280")
	require.Error(t, err)

	var all *AllStrategiesFailedError
	require.ErrorAs(t, err, &all)
	require.Equal(t, "25280", all.FacilityID)
	require.Len(t, all.Causes, 2)

	var shape *ShapeError
	require.ErrorAs(t, err, &shape)
	require.Equal(t, "relay", shape.Strategy)
}

func TestFetchBreakerSkipsFailingStrategy(t *testing.T) {
	first := &stubStrategy{name: "direct", err: errors.New("geo-blocked")}
	second := &stubStrategy{name: "relay", body: structuredBody}
	f := New([]Strategy{first, second}, Options{
		Breaker: BreakerSettings{Enabled: true, ConsecutiveFailures: 1, OpenTimeout: time.Hour},
	})

	_, err := f.Fetch(context.Background(), "1")
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "1")
	require.NoError(t, err)

	require.Equal(t, 1, first.Calls())
	require.Equal(t, 2, second.Calls())
	require.Equal(t, "open", f.BreakerStates()["direct"])
	require.Equal(t, "closed", f.BreakerStates()["relay"])
}

func TestFetchRespectsThrottle(t *testing.T) {
	first := &stubStrategy{name: "direct", err: errors.New("down")}
	second := &stubStrategy{name: "relay", body: structuredBody}
	throttle := engine.NewThrottle(50 * time.Millisecond)
	f := New([]Strategy{first, second}, Options{Throttle: throttle})

	start := time.Now()
	_, err := f.Fetch(context.Background(), "1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestFetchCancelledContext(t *testing.T) {
	first := &stubStrategy{name: "direct", body: structuredBody}
	f := New([]Strategy{first}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, "1")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, first.Calls())
}

func TestFetchOverHTTP(t *testing.T) {
	var seenUA, seenLang string
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUA = r.Header.Get("User-Agent")
		seenLang = r.Header.Get("Accept-Language")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer direct.Close()

	var relayQuery string
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayQuery = r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"contents":"{\"parking\":{\"congestion\":{\"spaces\":{\"overall\":{\"total\":105,\"free\":30}}}}}","status":{"http_code":200}}`))
	}))
	defer relay.Close()

	strategies := DefaultStrategies(StrategyOptions{
		BaseURL: direct.URL + "/api/3.0/parkings/{id}",
		Relays:  []string{relay.URL + "/get?url={url}"},
		Timeout: 2 * time.Second,
		Headers: &HeaderSet{Pick: func(int) int { return 2 }},
	})
	require.Len(t, strategies, 2)

	f := New(strategies, Options{})
	snap, err := f.Fetch(context.Background(), "25285")
	require.NoError(t, err)
	require.Equal(t, 105, snap.TotalSpaces)
	require.Equal(t, 30, snap.FreeSpaces)

	require.Equal(t, UserAgents[2], seenUA)
	require.True(t, strings.HasPrefix(seenLang, "ru-RU"))
	require.Equal(t, direct.URL+"/api/3.0/parkings/25285", relayQuery)
}

func TestHTTPStrategyReportsStatusAndRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	strategy := &HTTPStrategy{Label: "direct", Template: server.URL + "/{id}"}
	_, err := strategy.Attempt(context.Background(), "1")

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	require.Equal(t, http.StatusTooManyRequests, transport.StatusCode)
	require.Equal(t, 7*time.Second, transport.RetryAfter)
}

func TestHTTPStrategyTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	strategy := &HTTPStrategy{Label: "slow", Template: server.URL + "/{id}", Timeout: 50 * time.Millisecond}
	_, err := strategy.Attempt(context.Background(), "1")

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	require.Contains(t, err.Error(), "timed out")
}

func TestStrategyURLTemplates(t *testing.T) {
	cases := []struct {
		template string
		want     string
	}{
		{DefaultBaseURL, "https://lk.parking.mos.ru/api/3.0/parkings/25280"},
		{"https://api.allorigins.win/raw?url={url}", "https://api.allorigins.win/raw?url=https%3A%2F%2Flk.parking.mos.ru%2Fapi%2F3.0%2Fparkings%2F25280"},
		{"https://cors-anywhere.herokuapp.com/{raw}", "https://cors-anywhere.herokuapp.com/https://lk.parking.mos.ru/api/3.0/parkings/25280"},
	}

	for _, tc := range cases {
		strategy := &HTTPStrategy{Template: tc.template}
		got, err := strategy.URL("25280")
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := (&HTTPStrategy{}).URL("1")
	require.Error(t, err)
}

func TestDefaultStrategiesOrder(t *testing.T) {
	strategies := DefaultStrategies(StrategyOptions{})
	require.Len(t, strategies, 1+len(DefaultRelays))
	require.Equal(t, "direct", strategies[0].Name())
	require.Equal(t, "relay-1-api.allorigins.win", strategies[1].Name())
	require.Equal(t, "relay-3-corsproxy.io", strategies[3].Name())
}

func TestDirectUsesFirstStrategyOnly(t *testing.T) {
	first := &stubStrategy{name: "direct", body: `{"raw":1}`}
	second := &stubStrategy{name: "relay", body: structuredBody}
	f := New([]Strategy{first, second}, Options{})

	body, err := f.Direct(context.Background(), "1")
	require.NoError(t, err)
	require.JSONEq(t, `{"raw":1}`, string(body))
	require.Zero(t, second.Calls())
}

func TestFetchUnknownFacilityDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/999" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(structuredBody))
	}))
	defer server.Close()

	strategy := &HTTPStrategy{Label: "direct", Template: server.URL + "/{id}"}
	f := New([]Strategy{strategy}, Options{Breaker: DefaultBreakerSettings()})

	for i := 0; i < 8; i++ {
		_, err := f.Fetch(context.Background(), "999")
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrBreakerOpen)
	}
	require.Equal(t, "closed", f.BreakerStates()["direct"])

	snap, err := f.Fetch(context.Background(), "25280")
	require.NoError(t, err)
	require.Equal(t, 93, snap.TotalSpaces)
}

func TestFetchShapeErrorsDoNotTripBreaker(t *testing.T) {
	first := &stubStrategy{name: "direct", body: `<html>captcha</html>`}
	f := New([]Strategy{first}, Options{
		Breaker: BreakerSettings{Enabled: true, ConsecutiveFailures: 1, OpenTimeout: time.Hour},
	})

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), "1")
		require.Error(t, err)
	}
	require.Equal(t, 3, first.Calls())
	require.Equal(t, "closed", f.BreakerStates()["direct"])
}

func TestIsPathFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", &TransportError{Strategy: "direct", StatusCode: http.StatusNotFound}, false},
		{"bad request", &TransportError{Strategy: "direct", StatusCode: http.StatusBadRequest}, false},
		{"shape", &ShapeError{Strategy: "direct", Err: errors.New("no spaces")}, false},
		{"server error", &TransportError{Strategy: "direct", StatusCode: http.StatusBadGateway}, true},
		{"rate limited", &TransportError{Strategy: "direct", StatusCode: http.StatusTooManyRequests}, true},
		{"forbidden", &TransportError{Strategy: "direct", StatusCode: http.StatusForbidden}, true},
		{"timeout", &TransportError{Strategy: "direct", Err: context.DeadlineExceeded}, true},
		{"connection", errors.New("connection refused"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isPathFailure(tc.err))
		})
	}
}

type gatedStrategy struct {
	stubStrategy
	gate    chan struct{}
	entered chan struct{}
}

func (s *gatedStrategy) Attempt(ctx context.Context, facilityID string) ([]byte, error) {
	calls := s.Calls()
	body, err := s.stubStrategy.Attempt(ctx, facilityID)
	if calls == 0 {
		return nil, errors.New("connection refused")
	}
	close(s.entered)
	<-s.gate
	return body, err
}

func TestFetchHalfOpenBreakerSkipsBeforeThrottle(t *testing.T) {
	direct := &gatedStrategy{
		stubStrategy: stubStrategy{name: "direct", body: structuredBody},
		gate:         make(chan struct{}),
		entered:      make(chan struct{}),
	}
	relay := &stubStrategy{name: "relay", body: structuredBody}
	registry := prometheus.NewRegistry()
	collector := engine.NewCollector(registry)
	f := New([]Strategy{direct, relay}, Options{
		Throttle: engine.NewThrottle(0),
		Metrics:  collector,
		Breaker:  BreakerSettings{Enabled: true, ConsecutiveFailures: 1, OpenTimeout: 20 * time.Millisecond},
	})

	_, err := f.Fetch(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, "open", f.BreakerStates()["direct"])

	require.Eventually(t, func() bool {
		return f.BreakerStates()["direct"] == "half-open"
	}, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), "1")
		done <- err
	}()
	<-direct.entered

	_, err = f.Fetch(context.Background(), "2")
	require.NoError(t, err)
	require.Equal(t, 2, direct.Calls())
	require.Equal(t, 1.0, testutil.ToFloat64(collector.UpstreamAttempts("direct", "skipped")))

	close(direct.gate)
	require.NoError(t, <-done)
	require.Equal(t, "closed", f.BreakerStates()["direct"])
}
