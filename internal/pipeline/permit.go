// Package pipeline implements the four phase executors and the batch
// processor that drives one batch of items through them in order. Phase
// concurrency is gated by counting permit pools shared process-wide.
package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/jackzampolin/stacks/internal/metrics"
)

// PermitPool is a counting semaphore with held/peak instrumentation. One
// pool exists per gated phase; acquiring blocks when the pool is exhausted
// and suspends on context cancellation.
type PermitPool struct {
	name  string
	slots chan struct{}
	held  atomic.Int64
	peak  atomic.Int64
}

// NewPermitPool creates a pool with the given number of slots (minimum 1).
func NewPermitPool(name string, slots int) *PermitPool {
	if slots < 1 {
		slots = 1
	}
	return &PermitPool{
		name:  name,
		slots: make(chan struct{}, slots),
	}
}

// Acquire takes a permit, blocking until one is free or ctx is done.
func (p *PermitPool) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	held := p.held.Add(1)
	for {
		peak := p.peak.Load()
		if held <= peak || p.peak.CompareAndSwap(peak, held) {
			break
		}
	}
	metrics.PermitHeld(p.name, 1)
	return nil
}

// Release returns a permit to the pool.
func (p *PermitPool) Release() {
	p.held.Add(-1)
	metrics.PermitHeld(p.name, -1)
	<-p.slots
}

// Cap returns the pool size.
func (p *PermitPool) Cap() int {
	return cap(p.slots)
}

// Held returns the number of permits currently held.
func (p *PermitPool) Held() int64 {
	return p.held.Load()
}

// Peak returns the highest number of simultaneously held permits observed.
func (p *PermitPool) Peak() int64 {
	return p.peak.Load()
}
