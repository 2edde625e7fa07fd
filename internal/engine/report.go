package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/pipeline"
	"github.com/jackzampolin/stacks/internal/planner"
	"github.com/jackzampolin/stacks/internal/work"
)

// Report is the final session summary. Recommendations are deterministic
// threshold bands over the frozen metrics, so the same run always yields the
// same report.
type Report struct {
	SessionID   string    `json:"session_id"`
	GeneratedAt time.Time `json:"generated_at"`
	State       State     `json:"state"`

	Plan    planner.Plan     `json:"plan"`
	Metrics metrics.Snapshot `json:"metrics"`

	PhaseStats map[work.Phase]pipeline.PhaseStat `json:"phase_stats,omitempty"`

	Recommendations []string `json:"recommendations"`

	// Outcomes is populated for detailed reports only.
	Outcomes []pipeline.Outcome `json:"outcomes,omitempty"`
}

// buildReport assembles the report from a finished session.
func buildReport(s *session, detailed bool, phaseStats map[work.Phase]pipeline.PhaseStat) *Report {
	snap := s.metrics.Snapshot()
	r := &Report{
		SessionID:       s.id,
		GeneratedAt:     time.Now().UTC(),
		State:           s.getState(),
		Metrics:         snap,
		PhaseStats:      phaseStats,
		Recommendations: recommendations(snap),
	}

	s.mu.RLock()
	r.Plan = s.plan
	s.mu.RUnlock()

	if detailed {
		outcomes := s.outcomes.Snapshot()
		r.Outcomes = make([]pipeline.Outcome, 0, len(outcomes))
		for _, o := range outcomes {
			r.Outcomes = append(r.Outcomes, o)
		}
		sort.Slice(r.Outcomes, func(i, j int) bool {
			return r.Outcomes[i].ItemID < r.Outcomes[j].ItemID
		})
	}
	return r
}

// recommendations maps the frozen metrics onto fixed threshold bands.
func recommendations(snap metrics.Snapshot) []string {
	var recs []string

	rate := snap.SuccessRate()
	switch {
	case snap.Submitted == 0:
		recs = append(recs, "Session processed no items; verify the source manifest.")
	case rate < 0.5:
		recs = append(recs, fmt.Sprintf(
			"Success rate %.0f%% is below 50%%; inspect extractor availability and source quality before rerunning.", rate*100))
	case rate < 0.8:
		recs = append(recs, fmt.Sprintf(
			"Success rate %.0f%% is below 80%%; review the failed-item report for recurring failure kinds.", rate*100))
	default:
		recs = append(recs, fmt.Sprintf("Success rate %.0f%% is healthy.", rate*100))
	}

	if snap.Submitted > 0 {
		degradedShare := float64(snap.Degraded) / float64(snap.Submitted)
		if degradedShare > 0.2 {
			recs = append(recs, fmt.Sprintf(
				"%.0f%% of items completed via degradation; their stored results are reduced-fidelity summaries.", degradedShare*100))
		}
	}

	switch {
	case snap.ThroughputPerSec == 0 && snap.Successful > 0:
		// Frozen before elapsed was known; nothing to say.
	case snap.Successful > 0 && snap.ThroughputPerSec < 0.1:
		recs = append(recs, fmt.Sprintf(
			"Throughput %.3f items/s is low; consider raising concurrency caps or provisioning more memory.", snap.ThroughputPerSec))
	case snap.ThroughputPerSec >= 1.0:
		recs = append(recs, fmt.Sprintf("Throughput %.2f items/s; the configured concurrency is well matched to this host.", snap.ThroughputPerSec))
	}

	if snap.PeakMemPercent > 85 {
		recs = append(recs, fmt.Sprintf(
			"Peak memory utilization reached %.0f%%; lower the per-item memory budget or batch bounds for this host.", snap.PeakMemPercent))
	}
	if snap.PeakCPUPercent > 90 {
		recs = append(recs, fmt.Sprintf(
			"Peak CPU utilization reached %.0f%%; the load factor throttle engaged late, consider lowering the high-CPU threshold.", snap.PeakCPUPercent))
	}

	if snap.Retries > snap.Submitted*2 {
		recs = append(recs, fmt.Sprintf(
			"%d retries for %d items suggests unstable collaborators; check extractor and analyzer health.", snap.Retries, snap.Submitted))
	}
	return recs
}

// Markdown renders the report for terminal or file output.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Processing Report — %s\n\n", r.SessionID)
	fmt.Fprintf(&b, "Generated: %s  \n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "State: **%s**\n\n", r.State)

	m := r.Metrics
	b.WriteString("## Results\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Submitted | %d |\n", m.Submitted)
	fmt.Fprintf(&b, "| Successful | %d |\n", m.Successful)
	fmt.Fprintf(&b, "| Degraded | %d |\n", m.Degraded)
	fmt.Fprintf(&b, "| Failed | %d |\n", m.Failed)
	fmt.Fprintf(&b, "| Success rate | %.1f%% |\n", m.SuccessRate()*100)
	fmt.Fprintf(&b, "| Throughput | %.3f items/s |\n", m.ThroughputPerSec)
	fmt.Fprintf(&b, "| Elapsed | %s |\n", m.Elapsed.Round(time.Second))
	fmt.Fprintf(&b, "| Extractor calls | %d |\n", m.ExtractorCalls)
	fmt.Fprintf(&b, "| Analyzer calls | %d |\n", m.AnalyzerCalls)
	fmt.Fprintf(&b, "| Checkpoint hits | %d |\n", m.CheckpointHits)
	fmt.Fprintf(&b, "| Retries | %d |\n", m.Retries)
	fmt.Fprintf(&b, "| Tokens | %d |\n", m.Tokens)
	if m.CostUSD > 0 {
		fmt.Fprintf(&b, "| Cost | $%.4f |\n", m.CostUSD)
	}
	fmt.Fprintf(&b, "| Peak CPU | %.1f%% |\n", m.PeakCPUPercent)
	fmt.Fprintf(&b, "| Peak memory | %.1f%% |\n", m.PeakMemPercent)

	b.WriteString("\n## Plan\n\n")
	fmt.Fprintf(&b, "- Extraction concurrency: %d\n", r.Plan.ExtractionConcurrency)
	fmt.Fprintf(&b, "- Analysis concurrency: %d\n", r.Plan.AnalysisConcurrency)
	fmt.Fprintf(&b, "- Batch size: %d\n", r.Plan.BatchSize)
	fmt.Fprintf(&b, "- Load factor: %.2f\n", r.Plan.LoadFactor)
	fmt.Fprintf(&b, "- Estimated duration: %s\n", r.Plan.EstimatedDuration.Round(time.Second))

	if len(r.PhaseStats) > 0 {
		b.WriteString("\n## Phases\n\n")
		fmt.Fprintf(&b, "| Phase | Ran | Succeeded | Failed |\n|---|---|---|---|\n")
		for _, ph := range work.Phases() {
			if stat, ok := r.PhaseStats[ph]; ok {
				fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", ph, stat.Ran, stat.Succeeded, stat.Failed)
			}
		}
	}

	b.WriteString("\n## Recommendations\n\n")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "- %s\n", rec)
	}

	if len(r.Outcomes) > 0 {
		b.WriteString("\n## Items\n\n")
		fmt.Fprintf(&b, "| Item | Status | Stopped at | Error |\n|---|---|---|---|\n")
		for _, o := range r.Outcomes {
			msg := ""
			if o.Failure != nil {
				msg = o.Failure.Message
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", o.ItemID, o.Status, o.StoppedAt, msg)
		}
	}
	return b.String()
}
