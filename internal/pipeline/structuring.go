package pipeline

import (
	"context"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/stacks/internal/checkpoint"
	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

// StructuringPhase splits analysis output into classified segments. It is
// CPU-local: no external collaborator and no permit pool, just a worker
// bound so large batches do not monopolize the scheduler.
type StructuringPhase struct {
	deps *Deps
}

// Name returns the phase identifier.
func (p *StructuringPhase) Name() work.Phase {
	return work.PhaseStructuring
}

// Run structures every item that analyzed successfully.
func (p *StructuringPhase) Run(ctx context.Context, sessionID string, items []work.Item, prior *Tracker[*work.PhaseResult]) *Tracker[*work.PhaseResult] {
	results := NewTracker[*work.PhaseResult]()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, item := range items {
		item := item
		g.Go(func() error {
			key := checkpoint.Key{SessionID: sessionID, ItemID: item.ID, Phase: work.PhaseStructuring}
			result := p.deps.Fault.Run(gctx, key, func(context.Context) (*work.PhaseResult, error) {
				analysis, ok := prior.Get(item.ID)
				if !ok || analysis.Analysis == nil {
					return nil, errdefs.ContentUnavailable("no analysis output for %s", item.ID)
				}

				r := work.Succeeded(item.ID, work.PhaseStructuring)
				r.Structuring = &work.StructuringResult{
					Segments: segmentize(analysis.Analysis),
				}
				return r, nil
			})
			results.Set(item.ID, result)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// segmentize turns one analysis result into classified segments. When the
// split yields fewer than two segments, the whole analysis collapses into a
// single summary segment so every successful analysis produces at least one
// persistable unit.
func segmentize(analysis *work.AnalysisResult) []work.Segment {
	parts := analysis.Segments
	if len(parts) == 0 {
		parts = splitParagraphs(analysis.Summary)
	}

	var segments []work.Segment
	for _, part := range parts {
		text := strings.TrimSpace(part)
		if text == "" {
			continue
		}
		segments = append(segments, work.Segment{
			Index: len(segments),
			Kind:  classify(text),
			Text:  text,
		})
	}

	if len(segments) < 2 {
		text := strings.TrimSpace(analysis.Summary)
		if text == "" && len(segments) == 1 {
			text = segments[0].Text
		}
		return []work.Segment{{Index: 0, Kind: work.SegmentSummary, Text: text}}
	}
	return segments
}

func splitParagraphs(text string) []string {
	return strings.Split(text, "\n\n")
}

// classify buckets a segment by keyword heuristics. First match wins, in
// the order methodology, results, introduction, discussion.
func classify(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "method", "procedure", "protocol", "experimental setup", "we applied"):
		return work.SegmentMethodology
	case containsAny(lower, "result", "finding", "outcome", "observed", "measured"):
		return work.SegmentResults
	case containsAny(lower, "introduc", "background", "overview", "prior work", "related work"):
		return work.SegmentIntroduction
	case containsAny(lower, "discuss", "conclusion", "limitation", "implication", "future work"):
		return work.SegmentDiscussion
	default:
		return work.SegmentGeneral
	}
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
