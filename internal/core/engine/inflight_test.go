package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInFlightTryAcquireRelease(t *testing.T) {
	tracker := NewInFlight()

	require.True(t, tracker.TryAcquire("25280"))
	require.False(t, tracker.TryAcquire("25280"))
	require.True(t, tracker.TryAcquire("37709"))
	require.Equal(t, 2, tracker.Len())

	tracker.Release("25280")
	tracker.Release("25280")
	require.False(t, tracker.Contains("25280"))
	require.True(t, tracker.TryAcquire("25280"))
}

func TestInFlightSingleHolderUnderContention(t *testing.T) {
	tracker := &InFlight{}
	var winners atomic.Int32

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if tracker.TryAcquire("shared") {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), winners.Load())
}

func TestInFlightAcquireReleaseOnce(t *testing.T) {
	tracker := NewInFlight()

	release, ok := tracker.Acquire("1")
	require.True(t, ok)

	_, ok = tracker.Acquire("1")
	require.False(t, ok)

	release()
	require.True(t, tracker.TryAcquire("1"))

	// A second call must not drop the new holder.
	release()
	require.True(t, tracker.Contains("1"))
}
