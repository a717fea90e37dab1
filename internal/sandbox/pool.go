package sandbox

import (
	"context"
	"time"

	"codelab/internal/sandbox/observer"
	appErr "codelab/pkg/errors"

	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConcurrent = 4
	defaultQueueWait     = 2 * time.Second
)

// Pool bounds the number of concurrent executions.
type Pool struct {
	sem     *semaphore.Weighted
	wait    time.Duration
	metrics observer.MetricsRecorder
}

// NewPool creates a pool with size slots. Acquire gives up after wait.
func NewPool(size int64, wait time.Duration, metrics observer.MetricsRecorder) *Pool {
	if size <= 0 {
		size = defaultMaxConcurrent
	}
	if wait <= 0 {
		wait = defaultQueueWait
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &Pool{sem: semaphore.NewWeighted(size), wait: wait, metrics: metrics}
}

// Acquire takes one slot and returns its release function.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.wait)
	defer cancel()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		p.metrics.ObserveQueueWait(ctx, time.Since(start).Milliseconds(), false)
		if ctx.Err() != nil {
			return nil, appErr.Wrap(ctx.Err(), appErr.ExecutorBusy)
		}
		return nil, appErr.New(appErr.ExecutorBusy).WithMessage("all executors are busy")
	}
	p.metrics.ObserveQueueWait(ctx, time.Since(start).Milliseconds(), true)
	return func() { p.sem.Release(1) }, nil
}
