package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// engineMetrics holds the process-wide Prometheus collectors. Sessions feed
// their frozen snapshots into these at finalization; live gauges track
// in-flight sessions and held permits.
type engineMetrics struct {
	once sync.Once

	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsFailed    prometheus.Counter

	itemsSuccessful prometheus.Counter
	itemsFailed     prometheus.Counter
	itemsDegraded   prometheus.Counter

	extractorCalls prometheus.Counter
	analyzerCalls  prometheus.Counter
	checkpointHits prometheus.Counter
	retries        prometheus.Counter

	activeSessions   prometheus.Gauge
	extractionHeld   prometheus.Gauge
	analysisHeld     prometheus.Gauge
	sessionDurations prometheus.Histogram
}

var engMetrics engineMetrics

func (m *engineMetrics) init() {
	m.once.Do(func() {
		m.sessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{Name: "stacks_sessions_started_total", Help: "Sessions started"})
		m.sessionsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "stacks_sessions_completed_total", Help: "Sessions reaching COMPLETED"})
		m.sessionsFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "stacks_sessions_failed_total", Help: "Sessions reaching FAILED"})

		m.itemsSuccessful = prometheus.NewCounter(prometheus.CounterOpts{Name: "stacks_items_successful_total", Help: "Items fully processed"})
		m.itemsFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "stacks_items_failed_total", Help: "Items permanently failed"})
		m.itemsDegraded = prometheus.NewCounter(prometheus.CounterOpts{Name: "stacks_items_degraded_total", Help: "Items completed via degradation"})

		m.extractorCalls = prometheus.NewCounter(prometheus.CounterOpts{Name: "stacks_extractor_calls_total", Help: "External extractor invocations"})
		m.analyzerCalls = prometheus.NewCounter(prometheus.CounterOpts{Name: "stacks_analyzer_calls_total", Help: "External analyzer invocations"})
		m.checkpointHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "stacks_checkpoint_hits_total", Help: "Phase executions skipped via checkpoint"})
		m.retries = prometheus.NewCounter(prometheus.CounterOpts{Name: "stacks_retries_total", Help: "Retry attempts beyond the first invocation"})

		m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{Name: "stacks_active_sessions", Help: "Sessions currently processing"})
		m.extractionHeld = prometheus.NewGauge(prometheus.GaugeOpts{Name: "stacks_extraction_permits_held", Help: "Extraction permits currently held"})
		m.analysisHeld = prometheus.NewGauge(prometheus.GaugeOpts{Name: "stacks_analysis_permits_held", Help: "Analysis permits currently held"})
		m.sessionDurations = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stacks_session_duration_seconds",
			Help:    "End-to-end session duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		})

		prometheus.MustRegister(
			m.sessionsStarted, m.sessionsCompleted, m.sessionsFailed,
			m.itemsSuccessful, m.itemsFailed, m.itemsDegraded,
			m.extractorCalls, m.analyzerCalls, m.checkpointHits, m.retries,
			m.activeSessions, m.extractionHeld, m.analysisHeld,
			m.sessionDurations,
		)
	})
}

// SessionStarted records a session entering processing.
func SessionStarted() {
	engMetrics.init()
	engMetrics.sessionsStarted.Inc()
	engMetrics.activeSessions.Inc()
}

// SessionFinished records a terminal session and folds its frozen snapshot
// into the process counters.
func SessionFinished(snap Snapshot, failed bool) {
	engMetrics.init()
	engMetrics.activeSessions.Dec()
	if failed {
		engMetrics.sessionsFailed.Inc()
	} else {
		engMetrics.sessionsCompleted.Inc()
	}

	engMetrics.itemsSuccessful.Add(float64(snap.Successful))
	engMetrics.itemsFailed.Add(float64(snap.Failed))
	engMetrics.itemsDegraded.Add(float64(snap.Degraded))
	engMetrics.extractorCalls.Add(float64(snap.ExtractorCalls))
	engMetrics.analyzerCalls.Add(float64(snap.AnalyzerCalls))
	engMetrics.checkpointHits.Add(float64(snap.CheckpointHits))
	engMetrics.retries.Add(float64(snap.Retries))
	engMetrics.sessionDurations.Observe(snap.Elapsed.Seconds())
}

// PermitHeld adjusts the held-permit gauge for a pool.
func PermitHeld(pool string, delta float64) {
	engMetrics.init()
	switch pool {
	case "extraction":
		engMetrics.extractionHeld.Add(delta)
	case "analysis":
		engMetrics.analysisHeld.Add(delta)
	}
}
