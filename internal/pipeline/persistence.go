package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/stacks/internal/checkpoint"
	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

// PersistencePhase writes each item's segments inside an item-scoped sink
// transaction: replace prior segments, mark the item processed, commit. A
// write failure rolls back and fails only that item.
type PersistencePhase struct {
	deps *Deps
}

// Name returns the phase identifier.
func (p *PersistencePhase) Name() work.Phase {
	return work.PhasePersistence
}

// Run persists every item that structured successfully.
func (p *PersistencePhase) Run(ctx context.Context, sessionID string, items []work.Item, prior *Tracker[*work.PhaseResult]) *Tracker[*work.PhaseResult] {
	results := NewTracker[*work.PhaseResult]()

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		g.Go(func() error {
			key := checkpoint.Key{SessionID: sessionID, ItemID: item.ID, Phase: work.PhasePersistence}
			result := p.deps.Fault.Run(gctx, key, func(opCtx context.Context) (*work.PhaseResult, error) {
				structured, ok := prior.Get(item.ID)
				if !ok || structured.Structuring == nil {
					return nil, errdefs.ContentUnavailable("no structured segments for %s", item.ID)
				}
				segments := structured.Structuring.Segments

				tx, err := p.deps.Sink.Begin(opCtx, item.ID)
				if err != nil {
					return nil, errdefs.Classify(err)
				}
				if err := tx.ReplaceSegments(item.ID, segments); err != nil {
					_ = tx.Rollback()
					return nil, errdefs.Classify(err)
				}
				if err := tx.MarkProcessed(item.ID); err != nil {
					_ = tx.Rollback()
					return nil, errdefs.Classify(err)
				}
				if err := tx.Commit(); err != nil {
					return nil, errdefs.Classify(err)
				}

				r := work.Succeeded(item.ID, work.PhasePersistence)
				r.Persistence = &work.PersistenceResult{SegmentCount: len(segments)}
				return r, nil
			})
			results.Set(item.ID, result)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
