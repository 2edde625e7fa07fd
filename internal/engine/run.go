package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/fault"
	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/pipeline"
	"github.com/jackzampolin/stacks/internal/planner"
	"github.com/jackzampolin/stacks/internal/resource"
	"github.com/jackzampolin/stacks/internal/work"
)

// run drives one session through the state machine. It owns the session
// goroutine: every exit path closes done and persists a terminal record.
func (p *Processor) run(ctx context.Context, sess *session) {
	defer close(sess.done)
	defer sess.cancel()

	logger := p.logger.With("session_id", sess.id)
	logger.Info("session started",
		"items", len(sess.items),
		"target", sess.cfg.TargetCount,
	)

	// PLANNING
	sess.setState(StatePlanning, "computing concurrency plan")
	p.saveRecord(sess)

	snap, err := p.deps.Monitor.Snapshot(ctx)
	if err != nil {
		p.fail(sess, errdefs.WrapInfrastructure(err, "resource snapshot failed"))
		return
	}
	plan := planner.New(sess.cfg.Tuning, logger).Compute(snap, len(sess.items))
	sess.setPlan(plan)

	tracker := resource.NewPeakTracker(p.deps.Monitor, sess.cfg.SampleInterval, logger)
	tracker.Start(ctx)
	defer tracker.Stop()

	deps := &pipeline.Deps{
		Extractor:         p.deps.Extractor,
		Analyzer:          p.deps.Analyzer,
		Sink:              p.deps.Sink,
		Fault:             fault.NewManager(p.deps.Checkpoints, sess.metrics, sess.cfg.Fault, logger),
		ExtractionPermits: pipeline.NewPermitPool("extraction", plan.ExtractionConcurrency),
		AnalysisPermits:   pipeline.NewPermitPool("analysis", plan.AnalysisConcurrency),
		Metrics:           sess.metrics,
		Logger:            logger,
	}

	p.deps.Reporter.Update(sess.id, 5, "plan computed", map[string]any{
		"extraction_concurrency": plan.ExtractionConcurrency,
		"analysis_concurrency":   plan.AnalysisConcurrency,
		"batch_size":             plan.BatchSize,
	})

	// BATCH_PROCESSING
	sess.setState(StateBatchProcessing, "processing batches")
	p.saveRecord(sess)

	batches := partition(sess.items, plan.BatchSize)
	sess.totalBatches = len(batches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sess.cfg.MaxConcurrentBatches)
	for _, batch := range batches {
		if sess.stopRequested.Load() {
			logger.Info("stop observed, not starting further batches",
				"next_batch", batch.Index)
			break
		}
		batch := batch
		g.Go(func() error {
			p.runBatch(gctx, sess, deps, batch)
			return nil
		})
	}
	_ = g.Wait()

	// DEGRADING
	if !sess.stopRequested.Load() {
		if eligible := p.degradable(sess); len(eligible) > 0 {
			sess.setState(StateDegrading, "degrading failed items")
			p.saveRecord(sess)

			degrader := fault.NewDegrader(p.deps.Sink, logger)
			for _, result := range degrader.Degrade(ctx, eligible) {
				sess.outcomes.Set(result.ItemID, pipeline.Outcome{
					ItemID:   result.ItemID,
					Status:   work.StatusDegraded,
					Degraded: true,
				})
			}
		}
	}

	// FINALIZING
	sess.setState(StateFinalizing, "finalizing metrics")
	tracker.Stop()
	p.finalize(sess, tracker)
}

// runBatch executes one batch and merges its results into the session.
func (p *Processor) runBatch(ctx context.Context, sess *session, deps *pipeline.Deps, batch pipeline.Batch) {
	bp := pipeline.NewBatchProcessor(deps)
	bp.StopRequested = sess.stopRequested.Load
	bp.Progress = func(batchPercent float64, step string) {
		completed := float64(sess.completedBatches.Load())
		overall := 5 + 90*(completed+batchPercent/100)/float64(sess.totalBatches)
		p.deps.Reporter.Update(sess.id, overall, step, map[string]any{
			"batch": batch.Index,
		})
		sess.setStep(step)
	}

	result := bp.Run(ctx, sess.id, batch)
	sess.completedBatches.Add(1)

	for id, outcome := range result.Outcomes {
		sess.outcomes.Set(id, outcome)
	}
	sess.mergePhaseStats(result.PhaseStats)
}

// degradable returns the items whose permanent failure is eligible for
// degradation. Persistence failures stay failed: re-writing through the
// same failing sink is what just failed. Infrastructure failures mean the
// item never really ran and is left for a resumed session.
func (p *Processor) degradable(sess *session) []work.Item {
	var eligible []work.Item
	for _, item := range sess.items {
		outcome, ok := sess.outcomes.Get(item.ID)
		if !ok || outcome.Status != work.StatusFailed {
			continue
		}
		if outcome.Failure != nil {
			switch outcome.Failure.Kind {
			case errdefs.KindPersistence, errdefs.KindInfrastructure:
				continue
			}
		}
		eligible = append(eligible, item)
	}
	return eligible
}

// finalize freezes metrics, emits the terminal progress event, builds the
// report, and persists the completed session. COMPLETED is reached even
// with partial failures.
func (p *Processor) finalize(sess *session, tracker *resource.PeakTracker) {
	logger := p.logger.With("session_id", sess.id)

	sess.metrics.SetPeaks(tracker.Peaks())

	var successful, failed, degraded int64
	for _, item := range sess.items {
		outcome, ok := sess.outcomes.Get(item.ID)
		if !ok {
			// Never reached a terminal phase before the stop.
			sess.outcomes.Set(item.ID, pipeline.Outcome{
				ItemID: item.ID,
				Status: work.StatusFailed,
				Failure: &work.Failure{
					Kind:    errdefs.KindInfrastructure,
					Message: "session stopped before item was processed",
				},
			})
			failed++
			continue
		}
		switch {
		case outcome.Degraded:
			degraded++
		case outcome.Status == work.StatusPersisted:
			successful++
		default:
			failed++
		}
	}
	sess.metrics.AddSuccessful(successful)
	sess.metrics.AddFailed(failed)
	sess.metrics.AddDegraded(degraded)

	snap := sess.metrics.Freeze(sess.elapsed())

	if !sess.saveCheckpoint.Load() {
		if err := p.deps.Checkpoints.DeleteSession(context.Background(), sess.id); err != nil {
			logger.Warn("checkpoint wipe failed", "error", err)
		}
	}

	sess.mu.RLock()
	stats := sess.phaseStatsCopy()
	sess.mu.RUnlock()
	report := buildReport(sess, true, stats)

	sess.mu.Lock()
	sess.report = report
	sess.mu.Unlock()

	sess.setState(StateCompleted, "completed")
	report.State = StateCompleted
	p.saveRecord(sess)

	p.deps.Reporter.Update(sess.id, 100, "completed", map[string]any{
		"successful": snap.Successful,
		"failed":     snap.Failed,
		"degraded":   snap.Degraded,
	})
	metrics.SessionFinished(snap, false)

	logger.Info("session completed",
		"successful", snap.Successful,
		"failed", snap.Failed,
		"degraded", snap.Degraded,
		"throughput", snap.ThroughputPerSec,
		"elapsed", snap.Elapsed.Round(time.Millisecond),
	)
}

// fail marks the session FAILED. Reserved for infrastructure errors; item
// failures never land here.
func (p *Processor) fail(sess *session, err error) {
	sess.mu.Lock()
	sess.failure = err
	sess.mu.Unlock()

	snap := sess.metrics.Freeze(sess.elapsed())
	sess.setState(StateFailed, err.Error())
	p.saveRecord(sess)

	p.deps.Reporter.Update(sess.id, 0, "failed: "+err.Error(), nil)
	metrics.SessionFinished(snap, true)

	p.logger.Error("session failed", "session_id", sess.id, "error", err)
}

func (p *Processor) saveRecord(sess *session) {
	if err := p.deps.Records.Save(context.Background(), sess.record()); err != nil {
		p.logger.Warn("session record save failed",
			"session_id", sess.id, "error", err)
	}
}

// partition splits items into consecutive batches of size batchSize.
func partition(items []work.Item, batchSize int) []pipeline.Batch {
	if batchSize < 1 {
		batchSize = 1
	}
	var batches []pipeline.Batch
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, pipeline.Batch{
			Index: len(batches),
			Items: items[start:end],
		})
	}
	return batches
}
