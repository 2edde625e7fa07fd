package pipeline

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/stacks/internal/checkpoint"
	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

// ExtractionPhase pulls document text through the external extractor under
// the extraction permit pool. Items whose source is missing or whose
// extraction permanently fails fall back to their abstract and continue
// degraded; only items with no text at all become phase failures.
type ExtractionPhase struct {
	deps *Deps
}

// Name returns the phase identifier.
func (p *ExtractionPhase) Name() work.Phase {
	return work.PhaseExtraction
}

// Run executes extraction for every item and returns one result per item.
func (p *ExtractionPhase) Run(ctx context.Context, sessionID string, items []work.Item, _ *Tracker[*work.PhaseResult]) *Tracker[*work.PhaseResult] {
	results := NewTracker[*work.PhaseResult]()

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		g.Go(func() error {
			key := checkpoint.Key{SessionID: sessionID, ItemID: item.ID, Phase: work.PhaseExtraction}
			result := p.deps.Fault.Run(gctx, key, func(opCtx context.Context) (*work.PhaseResult, error) {
				if strings.TrimSpace(item.Source) == "" {
					return nil, errdefs.ContentUnavailable("item %s has no source document", item.ID)
				}

				if err := p.deps.ExtractionPermits.Acquire(opCtx); err != nil {
					return nil, err
				}
				defer p.deps.ExtractionPermits.Release()

				if p.deps.Metrics != nil {
					p.deps.Metrics.AddExtractorCalls(1)
				}
				extraction, err := p.deps.Extractor.Extract(opCtx, item)
				if err != nil {
					return nil, err
				}

				r := work.Succeeded(item.ID, work.PhaseExtraction)
				r.Extraction = extraction
				return r, nil
			})

			if !result.Success {
				result = p.fallback(item, result)
			}
			results.Set(item.ID, result)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// fallback substitutes the item's abstract for failed extractions. The item
// continues through the pipeline marked degraded-at-extraction; with no
// abstract either, the failure stands.
func (p *ExtractionPhase) fallback(item work.Item, failed *work.PhaseResult) *work.PhaseResult {
	abstract := strings.TrimSpace(item.Abstract)
	if abstract == "" {
		return failed
	}

	p.deps.Logger.Debug("extraction fell back to abstract",
		"item_id", item.ID,
		"reason", failed.Failure.Message,
	)

	r := work.Succeeded(item.ID, work.PhaseExtraction)
	r.Degraded = true
	r.StartedAt = failed.StartedAt
	r.Duration = failed.Duration
	r.Attempts = failed.Attempts
	r.Extraction = &work.ExtractionResult{
		Text:     abstract,
		Source:   item.Source,
		Degraded: true,
		Metadata: map[string]string{"fallback": "abstract"},
	}
	return r
}
