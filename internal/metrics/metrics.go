// Package metrics aggregates per-session processing counters. Counters are
// updated atomically by concurrent batch tasks and frozen into an immutable
// snapshot when the session finalizes.
package metrics

import (
	"math"
	"sync/atomic"
	"time"
)

// SessionMetrics accumulates counters for one session. All methods are safe
// for concurrent use. After Freeze, further updates are ignored.
type SessionMetrics struct {
	submitted  atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
	degraded   atomic.Int64

	extractorCalls atomic.Int64
	analyzerCalls  atomic.Int64
	checkpointHits atomic.Int64
	retries        atomic.Int64

	tokens  atomic.Int64
	costUSD atomic.Uint64 // math.Float64bits encoding

	peakCPU atomic.Uint64
	peakMem atomic.Uint64

	frozen atomic.Bool
	final  atomic.Pointer[Snapshot]
}

// Snapshot is a frozen view of the counters.
type Snapshot struct {
	Submitted  int64 `json:"submitted"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	Degraded   int64 `json:"degraded"`

	ExtractorCalls int64 `json:"extractor_calls"`
	AnalyzerCalls  int64 `json:"analyzer_calls"`
	CheckpointHits int64 `json:"checkpoint_hits"`
	Retries        int64 `json:"retries"`

	Tokens  int64   `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`

	PeakCPUPercent float64 `json:"peak_cpu_percent"`
	PeakMemPercent float64 `json:"peak_mem_percent"`

	// ThroughputPerSec is successful items per elapsed second. Zero for
	// empty sessions.
	ThroughputPerSec float64       `json:"throughput_per_sec"`
	Elapsed          time.Duration `json:"elapsed_ns"`
}

// New creates an empty metrics set.
func New() *SessionMetrics {
	return &SessionMetrics{}
}

// SetSubmitted records the number of items accepted into the session.
func (m *SessionMetrics) SetSubmitted(n int64) {
	if m.frozen.Load() {
		return
	}
	m.submitted.Store(n)
}

// AddSuccessful increments the fully-processed item count.
func (m *SessionMetrics) AddSuccessful(n int64) { m.add(&m.successful, n) }

// AddFailed increments the permanently-failed item count.
func (m *SessionMetrics) AddFailed(n int64) { m.add(&m.failed, n) }

// AddDegraded increments the degraded item count.
func (m *SessionMetrics) AddDegraded(n int64) { m.add(&m.degraded, n) }

// AddExtractorCalls counts external extractor invocations.
func (m *SessionMetrics) AddExtractorCalls(n int64) { m.add(&m.extractorCalls, n) }

// AddAnalyzerCalls counts external analyzer invocations.
func (m *SessionMetrics) AddAnalyzerCalls(n int64) { m.add(&m.analyzerCalls, n) }

// AddCheckpointHits counts phase executions skipped via checkpoint.
func (m *SessionMetrics) AddCheckpointHits(n int64) { m.add(&m.checkpointHits, n) }

// AddRetries counts retry attempts beyond the first invocation.
func (m *SessionMetrics) AddRetries(n int64) { m.add(&m.retries, n) }

// AddUsage accumulates analyzer token and cost usage.
func (m *SessionMetrics) AddUsage(tokens int64, costUSD float64) {
	if m.frozen.Load() {
		return
	}
	m.tokens.Add(tokens)
	if costUSD > 0 {
		for {
			old := m.costUSD.Load()
			next := math.Float64bits(math.Float64frombits(old) + costUSD)
			if m.costUSD.CompareAndSwap(old, next) {
				return
			}
		}
	}
}

// SetPeaks records the peak utilization observed by the resource tracker.
func (m *SessionMetrics) SetPeaks(cpuPercent, memPercent float64) {
	if m.frozen.Load() {
		return
	}
	m.peakCPU.Store(math.Float64bits(cpuPercent))
	m.peakMem.Store(math.Float64bits(memPercent))
}

// Snapshot returns the current counter values. Before Freeze the elapsed and
// throughput fields are zero; after Freeze the frozen snapshot is returned.
func (m *SessionMetrics) Snapshot() Snapshot {
	if final := m.final.Load(); final != nil {
		return *final
	}
	return m.read(0)
}

// Freeze computes throughput for the elapsed session duration and makes the
// metrics immutable. The first call wins.
func (m *SessionMetrics) Freeze(elapsed time.Duration) Snapshot {
	if !m.frozen.CompareAndSwap(false, true) {
		return *m.final.Load()
	}
	snap := m.read(elapsed)
	m.final.Store(&snap)
	return snap
}

func (m *SessionMetrics) add(c *atomic.Int64, n int64) {
	if m.frozen.Load() {
		return
	}
	c.Add(n)
}

func (m *SessionMetrics) read(elapsed time.Duration) Snapshot {
	snap := Snapshot{
		Submitted:      m.submitted.Load(),
		Successful:     m.successful.Load(),
		Failed:         m.failed.Load(),
		Degraded:       m.degraded.Load(),
		ExtractorCalls: m.extractorCalls.Load(),
		AnalyzerCalls:  m.analyzerCalls.Load(),
		CheckpointHits: m.checkpointHits.Load(),
		Retries:        m.retries.Load(),
		Tokens:         m.tokens.Load(),
		CostUSD:        math.Float64frombits(m.costUSD.Load()),
		PeakCPUPercent: math.Float64frombits(m.peakCPU.Load()),
		PeakMemPercent: math.Float64frombits(m.peakMem.Load()),
		Elapsed:        elapsed,
	}
	if elapsed > 0 && snap.Successful > 0 {
		snap.ThroughputPerSec = float64(snap.Successful) / elapsed.Seconds()
	}
	return snap
}

// SuccessRate returns successful / submitted in [0, 1], zero when nothing
// was submitted.
func (s Snapshot) SuccessRate() float64 {
	if s.Submitted == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Submitted)
}

// Accounted reports whether the accounting identity holds:
// successful + failed + degraded == submitted.
func (s Snapshot) Accounted() bool {
	return s.Successful+s.Failed+s.Degraded == s.Submitted
}
