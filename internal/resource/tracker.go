package resource

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PeakTracker samples a Monitor on an interval and records peak CPU and
// memory utilization for the lifetime of a session.
type PeakTracker struct {
	monitor  Monitor
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	peakCPU float64
	peakMem float64
	last    Snapshot
	samples int

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPeakTracker creates a tracker. interval zero defaults to one second.
func NewPeakTracker(monitor Monitor, interval time.Duration, logger *slog.Logger) *PeakTracker {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PeakTracker{
		monitor:  monitor,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins sampling in the background until Stop or ctx cancellation.
func (t *PeakTracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.sample(ctx)
			case <-t.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler goroutine to exit.
func (t *PeakTracker) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	t.wg.Wait()
}

func (t *PeakTracker) sample(ctx context.Context) {
	snap, err := t.monitor.Snapshot(ctx)
	if err != nil {
		// Sampling faults are not fatal mid-session; the planning snapshot
		// already succeeded.
		t.logger.Debug("resource sample failed", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if snap.CPUPercent > t.peakCPU {
		t.peakCPU = snap.CPUPercent
	}
	if snap.MemPercent > t.peakMem {
		t.peakMem = snap.MemPercent
	}
	t.last = snap
	t.samples++
}

// Peaks returns the highest CPU and memory utilization observed.
func (t *PeakTracker) Peaks() (cpuPercent, memPercent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakCPU, t.peakMem
}

// Last returns the most recent sample and whether any sample was taken.
func (t *PeakTracker) Last() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.samples > 0
}
