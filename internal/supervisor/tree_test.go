package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parklens/parklens/internal/core/engine"
)

type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) Warn(msg string, _ ...zap.Field)  { l.record(msg) }
func (l *recordingLogger) Error(msg string, _ ...zap.Field) { l.record(msg) }

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

type flakyService struct {
	runs atomic.Int32
}

func (s *flakyService) Serve(ctx context.Context) error {
	if s.runs.Add(1) == 1 {
		panic("first run fails")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeAppliesDefaults(t *testing.T) {
	tree := NewTree("parklens", nil, TreeConfig{})
	require.NotNil(t, tree.Root())
	assert.Equal(t, DefaultTreeConfig(), tree.config)
}

func TestTreeRunsRefreshPoolAndStops(t *testing.T) {
	tree := NewTree("parklens", nil, TreeConfig{ShutdownTimeout: time.Second})

	pool := engine.NewRefreshPool(1, 4, time.Second)
	tree.AddCoreService(pool)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	ran := make(chan struct{})
	require.Eventually(t, func() bool {
		return pool.Submit(engine.RefreshJob{
			FacilityID: "37709",
			Run:        func(context.Context) { close(ran) },
		})
	}, time.Second, 10*time.Millisecond)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh job did not run under the supervisor")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeRestartsPanickingServiceAndLogs(t *testing.T) {
	logger := &recordingLogger{}
	tree := NewTree("parklens", logger, TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})

	svc := &flakyService{}
	tree.AddAPIService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return svc.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, logger.count())

	cancel()
	<-errCh
}
