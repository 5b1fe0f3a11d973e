package muxer

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/semaphore"

	"github.com/jmylchreest/vidmux/internal/metrics"
)

// Limiter bounds the number of transcodes running at once.
type Limiter struct {
	sem  *semaphore.Weighted
	size int
}

// NewLimiter creates a limiter with size slots. A size of zero or less is
// sized from the host CPU count.
func NewLimiter(size int) *Limiter {
	if size <= 0 {
		size = AutoConcurrency()
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// AutoConcurrency returns the physical core count, falling back to the
// logical count, and never less than one.
func AutoConcurrency() int {
	n, err := cpu.Counts(false)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	return max(n, 1)
}

// Size returns the number of slots.
func (l *Limiter) Size() int {
	return l.size
}

// Acquire blocks until a slot is free or ctx is done. The returned func
// releases the slot and must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.TranscodeSlotWait.Observe(time.Since(start).Seconds())
	return func() { l.sem.Release(1) }, nil
}
