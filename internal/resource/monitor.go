// Package resource samples host CPU and memory utilization. The planner
// consumes one snapshot at session start; a background tracker records peak
// utilization for the session metrics.
package resource

import (
	"context"
	"runtime"
	"time"

	"github.com/jackzampolin/stacks/internal/errdefs"
)

// Snapshot is a point-in-time view of host utilization.
type Snapshot struct {
	CPUPercent   float64   `json:"cpu_percent"`
	MemPercent   float64   `json:"mem_percent"`
	AvailableMem uint64    `json:"available_mem_bytes"`
	TotalMem     uint64    `json:"total_mem_bytes"`
	Cores        int       `json:"cores"`
	At           time.Time `json:"at"`
}

// AvailableMemGB returns available memory in gigabytes.
func (s Snapshot) AvailableMemGB() float64 {
	return float64(s.AvailableMem) / (1 << 30)
}

// Monitor produces utilization snapshots.
type Monitor interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// New returns the best monitor for this host: /proc-backed where available,
// otherwise the runtime-stats fallback.
func New(fallbackTotalMem uint64) Monitor {
	if m, err := NewProcMonitor(); err == nil {
		return m
	}
	return NewRuntimeMonitor(fallbackTotalMem)
}

// RuntimeMonitor approximates utilization from Go runtime statistics when
// /proc is unavailable. CPU utilization is not observable portably this way
// and is reported as zero.
type RuntimeMonitor struct {
	totalMem uint64
}

// NewRuntimeMonitor creates a runtime-stats monitor. totalMem bounds the
// reported memory; zero defaults to 8 GiB.
func NewRuntimeMonitor(totalMem uint64) *RuntimeMonitor {
	if totalMem == 0 {
		totalMem = 8 << 30
	}
	return &RuntimeMonitor{totalMem: totalMem}
}

// Snapshot implements Monitor.
func (m *RuntimeMonitor) Snapshot(_ context.Context) (Snapshot, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	used := ms.Sys
	if used > m.totalMem {
		used = m.totalMem
	}
	return Snapshot{
		CPUPercent:   0,
		MemPercent:   float64(used) / float64(m.totalMem) * 100,
		AvailableMem: m.totalMem - used,
		TotalMem:     m.totalMem,
		Cores:        runtime.NumCPU(),
		At:           time.Now().UTC(),
	}, nil
}

// StaticMonitor returns a fixed snapshot. Used in tests to exercise
// planner bands deterministically.
type StaticMonitor struct {
	Snap Snapshot
	Err  error
}

// Snapshot implements Monitor.
func (m *StaticMonitor) Snapshot(_ context.Context) (Snapshot, error) {
	if m.Err != nil {
		return Snapshot{}, errdefs.WrapInfrastructure(m.Err, "resource snapshot failed")
	}
	snap := m.Snap
	if snap.Cores == 0 {
		snap.Cores = runtime.NumCPU()
	}
	if snap.At.IsZero() {
		snap.At = time.Now().UTC()
	}
	return snap, nil
}
