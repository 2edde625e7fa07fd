package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackzampolin/stacks/internal/fault"
	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/providers"
	"github.com/jackzampolin/stacks/internal/store"
	"github.com/jackzampolin/stacks/internal/work"
)

// Deps collects the collaborators shared by all four phase executors. The
// permit pools are process-wide: batches running concurrently contend for
// the same slots, which keeps the plan's concurrency caps global.
type Deps struct {
	Extractor         providers.Extractor
	Analyzer          providers.Analyzer
	Sink              store.Sink
	Fault             *fault.Manager
	ExtractionPermits *PermitPool
	AnalysisPermits   *PermitPool
	Metrics           *metrics.SessionMetrics
	Logger            *slog.Logger
}

func (d *Deps) normalize() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// phase is one pipeline stage executor.
type phase interface {
	Name() work.Phase
	Run(ctx context.Context, sessionID string, items []work.Item, prior *Tracker[*work.PhaseResult]) *Tracker[*work.PhaseResult]
}

// Batch is one ordered group of items sized by the concurrency plan.
type Batch struct {
	Index int
	Items []work.Item
}

// Outcome is the terminal per-item record of one batch run.
type Outcome struct {
	ItemID   string       `json:"item_id"`
	Status   work.Status  `json:"status"`
	Degraded bool         `json:"degraded,omitempty"`
	StoppedAt work.Phase  `json:"stopped_at,omitempty"`
	Failure  *work.Failure `json:"failure,omitempty"`
}

// PhaseStat aggregates one phase's run over a batch.
type PhaseStat struct {
	Ran       int           `json:"ran"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
}

// BatchResult is everything one batch run produced.
type BatchResult struct {
	Index      int
	Submitted  int
	Outcomes   map[string]Outcome
	PhaseStats map[work.Phase]PhaseStat

	// StillFailed holds the items that permanently failed a phase, for the
	// degradation pass. Persistence failures are included here but are
	// filtered out by the degrader selection.
	StillFailed []work.Item

	// Stopped reports that a stop request ended the batch between phases.
	// Items that never reached a terminal phase have no outcome.
	Stopped bool
}

// Progress boundaries emitted at the start and after each phase.
var progressBoundaries = map[work.Phase]float64{
	work.PhaseExtraction:  40,
	work.PhaseAnalysis:    70,
	work.PhaseStructuring: 90,
	work.PhasePersistence: 100,
}

// BatchProcessor runs the four phases in strict sequence over one batch.
type BatchProcessor struct {
	deps   *Deps
	phases []phase

	// Progress receives batch-local percent at fixed phase boundaries.
	Progress func(percent float64, step string)

	// StopRequested is polled between phases for cooperative cancellation.
	StopRequested func() bool
}

// NewBatchProcessor creates a processor over the shared dependencies.
func NewBatchProcessor(deps *Deps) *BatchProcessor {
	deps.normalize()
	return &BatchProcessor{
		deps: deps,
		phases: []phase{
			&ExtractionPhase{deps: deps},
			&AnalysisPhase{deps: deps},
			&StructuringPhase{deps: deps},
			&PersistencePhase{deps: deps},
		},
	}
}

// Run drives the batch through extraction, analysis, structuring, and
// persistence. Items that fail a phase drop out of subsequent phases and
// land in the still-failed bucket annotated with the stopping phase. Run
// returns partial results rather than an error; only the surrounding
// session decides what a stop means.
func (b *BatchProcessor) Run(ctx context.Context, sessionID string, batch Batch) BatchResult {
	result := BatchResult{
		Index:      batch.Index,
		Submitted:  len(batch.Items),
		Outcomes:   make(map[string]Outcome, len(batch.Items)),
		PhaseStats: make(map[work.Phase]PhaseStat, len(b.phases)),
	}

	logger := b.deps.Logger.With("session_id", sessionID, "batch", batch.Index)
	logger.Info("batch started", "items", len(batch.Items))
	b.emit(10, "batch started")

	survivors := batch.Items
	degradedAt := make(map[string]bool)
	var prior *Tracker[*work.PhaseResult]

	for _, p := range b.phases {
		if b.stopped(ctx) {
			result.Stopped = true
			logger.Info("batch stopped between phases", "phase", p.Name())
			return result
		}
		if len(survivors) == 0 {
			break
		}

		phaseStart := time.Now()
		results := p.Run(ctx, sessionID, survivors, prior)

		var next []work.Item
		stat := PhaseStat{Ran: len(survivors)}
		for _, item := range survivors {
			r, ok := results.Get(item.ID)
			if !ok {
				// An executor always reports every item; a hole means the
				// run was interrupted.
				continue
			}
			if !r.Success {
				stat.Failed++
				item.Status = work.StatusFailed
				item.LastError = r.Failure.Message
				item.Phase = p.Name()
				item.Attempts = r.Attempts
				result.StillFailed = append(result.StillFailed, item)
				result.Outcomes[item.ID] = Outcome{
					ItemID:    item.ID,
					Status:    work.StatusFailed,
					StoppedAt: p.Name(),
					Failure:   r.Failure,
				}
				continue
			}
			stat.Succeeded++
			if r.Degraded {
				degradedAt[item.ID] = true
			}
			next = append(next, item)
		}
		stat.Duration = time.Since(phaseStart)
		result.PhaseStats[p.Name()] = stat

		logger.Debug("phase complete",
			"phase", p.Name(),
			"succeeded", stat.Succeeded,
			"failed", stat.Failed,
			"elapsed", stat.Duration.Round(time.Millisecond),
		)
		b.emit(progressBoundaries[p.Name()], string(p.Name())+" complete")

		survivors = next
		prior = results
	}

	for _, item := range survivors {
		status := work.StatusPersisted
		if degradedAt[item.ID] {
			status = work.StatusDegraded
		}
		result.Outcomes[item.ID] = Outcome{
			ItemID:   item.ID,
			Status:   status,
			Degraded: degradedAt[item.ID],
		}
	}

	logger.Info("batch complete",
		"persisted", len(survivors),
		"failed", len(result.StillFailed),
	)
	return result
}

func (b *BatchProcessor) emit(percent float64, step string) {
	if b.Progress != nil {
		b.Progress(percent, step)
	}
}

func (b *BatchProcessor) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return b.StopRequested != nil && b.StopRequested()
}
