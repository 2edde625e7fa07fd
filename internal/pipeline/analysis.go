package pipeline

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/stacks/internal/checkpoint"
	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/providers"
	"github.com/jackzampolin/stacks/internal/work"
)

// AnalysisPhase summarizes extracted text through the external analyzer
// under the analysis permit pool. Items with empty content fail the phase
// outright with a content-unavailable record; the analyzer is never invoked
// for them.
type AnalysisPhase struct {
	deps *Deps
}

// Name returns the phase identifier.
func (p *AnalysisPhase) Name() work.Phase {
	return work.PhaseAnalysis
}

// Run executes analysis for every item that extracted successfully.
func (p *AnalysisPhase) Run(ctx context.Context, sessionID string, items []work.Item, prior *Tracker[*work.PhaseResult]) *Tracker[*work.PhaseResult] {
	results := NewTracker[*work.PhaseResult]()

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		g.Go(func() error {
			text := extractedText(prior, item.ID)
			if strings.TrimSpace(text) == "" {
				results.Set(item.ID, work.Failed(item.ID, work.PhaseAnalysis,
					errdefs.ContentUnavailable("no content")))
				return nil
			}

			key := checkpoint.Key{SessionID: sessionID, ItemID: item.ID, Phase: work.PhaseAnalysis}
			result := p.deps.Fault.Run(gctx, key, func(opCtx context.Context) (*work.PhaseResult, error) {
				if err := p.deps.AnalysisPermits.Acquire(opCtx); err != nil {
					return nil, err
				}
				defer p.deps.AnalysisPermits.Release()

				if p.deps.Metrics != nil {
					p.deps.Metrics.AddAnalyzerCalls(1)
				}
				analysis, err := p.deps.Analyzer.Analyze(opCtx, &providers.AnalysisRequest{
					ItemID: item.ID,
					Title:  item.Title,
					Text:   text,
				})
				if err != nil {
					return nil, err
				}

				r := work.Succeeded(item.ID, work.PhaseAnalysis)
				r.Analysis = analysis
				return r, nil
			})

			if result.Success && !result.CheckpointHit && p.deps.Metrics != nil {
				p.deps.Metrics.AddUsage(result.Analysis.Tokens, result.Analysis.CostUSD)
			}
			results.Set(item.ID, result)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func extractedText(prior *Tracker[*work.PhaseResult], itemID string) string {
	result, ok := prior.Get(itemID)
	if !ok || result.Extraction == nil {
		return ""
	}
	return result.Extraction.Text
}
