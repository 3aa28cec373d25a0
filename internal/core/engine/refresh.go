package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultRefreshWorkers   = 4
	DefaultRefreshQueueSize = 256
	DefaultRefreshTimeout   = 90 * time.Second
)

// RefreshJob is a unit of background work for one facility.
type RefreshJob struct {
	FacilityID string
	// Run performs the refresh. It owns releasing any per-key state.
	Run func(ctx context.Context)
	// Discard is called instead of Run when the job is dropped unrun.
	Discard func()
}

// RefreshPool runs background refreshes on a fixed set of workers fed by a
// bounded queue. It implements suture.Service.
type RefreshPool struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    Logger

	initOnce sync.Once
	queue    chan RefreshJob

	mu      sync.RWMutex
	stopped bool
}

// NewRefreshPool creates a pool with the given sizes; zero values use defaults.
func NewRefreshPool(workers, queueSize int, timeout time.Duration) *RefreshPool {
	return &RefreshPool{Workers: workers, QueueSize: queueSize, Timeout: timeout}
}

// Submit enqueues a job without blocking. It returns false when the queue is
// full or the pool has shut down; the caller keeps ownership of the job then.
func (p *RefreshPool) Submit(job RefreshJob) bool {
	if p == nil || job.Run == nil {
		return false
	}
	p.init()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}

	select {
	case p.queue <- job:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued jobs.
func (p *RefreshPool) Pending() int {
	if p == nil {
		return 0
	}
	p.init()
	return len(p.queue)
}

// Serve runs the workers until ctx is done, then discards queued jobs.
func (p *RefreshPool) Serve(ctx context.Context) error {
	p.init()
	log := loggerOrNop(p.Logger)

	workers := p.Workers
	if workers <= 0 {
		workers = DefaultRefreshWorkers
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.queue:
					p.run(ctx, worker, job)
				}
			}
		}(i)
	}

	log.Debug("refresh pool started", zap.Int("workers", workers), zap.Int("queue_size", cap(p.queue)))
	wg.Wait()

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	dropped := p.drain()
	log.Debug("refresh pool stopped", zap.Int("discarded", dropped))
	return ctx.Err()
}

func (p *RefreshPool) String() string {
	return "refresh-pool"
}

func (p *RefreshPool) run(ctx context.Context, worker int, job RefreshJob) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			loggerOrNop(p.Logger).Error("refresh job panicked",
				zap.Int("worker", worker),
				zap.String("facility_id", job.FacilityID),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	job.Run(jobCtx)
}

func (p *RefreshPool) drain() int {
	dropped := 0
	for {
		select {
		case job := <-p.queue:
			dropped++
			if job.Discard != nil {
				job.Discard()
			}
		default:
			return dropped
		}
	}
}

func (p *RefreshPool) init() {
	p.initOnce.Do(func() {
		size := p.QueueSize
		if size <= 0 {
			size = DefaultRefreshQueueSize
		}
		p.queue = make(chan RefreshJob, size)
	})
}
