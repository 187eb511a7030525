package core

// pipeline_limiter.go bounds how many submission pipelines run at once.
//
// Finalize acquires a slot before starting a pipeline goroutine and the
// goroutine releases it when done. When every slot is busy, finalize waits
// up to maxWait and then fails with ErrTooManyPipelines; the submission is
// not created in that case. WaitForDrain lets shutdown wait for running
// pipelines.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyPipelines is returned when no pipeline slot frees up in time.
// Clients should retry finalize after a short delay.
var ErrTooManyPipelines = errors.New("too many submissions processing, please try again later")

const (
	DefaultMaxConcurrentPipelines = 4
	DefaultPipelineWait           = 30 * time.Second
)

// PipelineLimiter is a counting semaphore with drain support.
type PipelineLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewPipelineLimiter creates a limiter with maxConcurrent slots.
func NewPipelineLimiter(maxConcurrent int, maxWait time.Duration) *PipelineLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentPipelines
	}
	if maxWait <= 0 {
		maxWait = DefaultPipelineWait
	}
	return &PipelineLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire blocks until a slot is free, ctx is done, or maxWait passes.
// Every successful Acquire must be paired with Release.
func (l *PipelineLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyPipelines
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *PipelineLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *PipelineLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// ActiveCount returns the number of running pipelines.
func (l *PipelineLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// WaitForDrain blocks until no pipeline is running or ctx is done.
func (l *PipelineLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for l.ActiveCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// PipelineLimiterStatus is a point-in-time view of the limiter.
type PipelineLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

func (l *PipelineLimiter) Status() PipelineLimiterStatus {
	return PipelineLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}
