package resource

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/jackzampolin/stacks/internal/errdefs"
)

// warmupDelay separates the two /proc/stat reads that seed CPU deltas on
// the first snapshot.
const warmupDelay = 100 * time.Millisecond

// ProcMonitor reads utilization from /proc. CPU percent is derived from the
// delta between consecutive /proc/stat samples, so the first snapshot takes
// a short warmup read.
type ProcMonitor struct {
	fs procfs.FS

	mu        sync.Mutex
	lastBusy  float64
	lastTotal float64
	primed    bool
}

// NewProcMonitor creates a /proc-backed monitor. Fails where /proc is not
// mounted (non-Linux hosts).
func NewProcMonitor() (*ProcMonitor, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, errdefs.WrapInfrastructure(err, "proc filesystem unavailable")
	}
	if _, err := fs.Stat(); err != nil {
		return nil, errdefs.WrapInfrastructure(err, "proc stat unreadable")
	}
	return &ProcMonitor{fs: fs}, nil
}

// Snapshot implements Monitor.
func (m *ProcMonitor) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.primed {
		busy, total, err := m.readCPU()
		if err != nil {
			return Snapshot{}, err
		}
		m.lastBusy, m.lastTotal = busy, total
		m.primed = true

		select {
		case <-time.After(warmupDelay):
		case <-ctx.Done():
			return Snapshot{}, errdefs.WrapInfrastructure(ctx.Err(), "resource snapshot interrupted")
		}
	}

	busy, total, err := m.readCPU()
	if err != nil {
		return Snapshot{}, err
	}

	cpuPercent := 0.0
	if dt := total - m.lastTotal; dt > 0 {
		cpuPercent = (busy - m.lastBusy) / dt * 100
	}
	if cpuPercent < 0 {
		cpuPercent = 0
	}
	if cpuPercent > 100 {
		cpuPercent = 100
	}
	m.lastBusy, m.lastTotal = busy, total

	memPercent, available, totalMem, err := m.readMem()
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		CPUPercent:   cpuPercent,
		MemPercent:   memPercent,
		AvailableMem: available,
		TotalMem:     totalMem,
		Cores:        runtime.NumCPU(),
		At:           time.Now().UTC(),
	}, nil
}

func (m *ProcMonitor) readCPU() (busy, total float64, err error) {
	stat, err := m.fs.Stat()
	if err != nil {
		return 0, 0, errdefs.WrapInfrastructure(err, "failed to read /proc/stat")
	}
	c := stat.CPUTotal
	busy = c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	total = busy + c.Idle + c.Iowait
	return busy, total, nil
}

func (m *ProcMonitor) readMem() (percent float64, available, total uint64, err error) {
	mi, err := m.fs.Meminfo()
	if err != nil {
		return 0, 0, 0, errdefs.WrapInfrastructure(err, "failed to read /proc/meminfo")
	}
	if mi.MemTotal == nil || *mi.MemTotal == 0 {
		return 0, 0, 0, errdefs.Infrastructure("meminfo reports no total memory")
	}

	// Meminfo values are in kB.
	total = *mi.MemTotal * 1024
	if mi.MemAvailable != nil {
		available = *mi.MemAvailable * 1024
	} else if mi.MemFree != nil {
		available = *mi.MemFree * 1024
	}
	percent = (1 - float64(available)/float64(total)) * 100
	return percent, available, total, nil
}
