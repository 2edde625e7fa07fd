package fault

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/stacks/internal/store"
	"github.com/jackzampolin/stacks/internal/work"
)

// Degrader synthesizes reduced-fidelity results for permanently failed
// items from locally available metadata, without re-invoking the pipeline.
type Degrader struct {
	sink   store.Sink
	logger *slog.Logger
}

// NewDegrader creates a degrader. sink may be nil, in which case degraded
// results are recorded but not persisted.
func NewDegrader(sink store.Sink, logger *slog.Logger) *Degrader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Degrader{sink: sink, logger: logger}
}

// Degrade produces one degraded record per failed item. The record is built
// from the item's own metadata only: title, abstract, and whatever the
// metadata map carries. Persistence is best-effort; a secondary failure is
// logged and the record is still returned. Degrade never returns an error.
func (d *Degrader) Degrade(ctx context.Context, items []work.Item) []*work.PhaseResult {
	results := make([]*work.PhaseResult, 0, len(items))
	for _, item := range items {
		results = append(results, d.degradeOne(ctx, item))
	}
	return results
}

func (d *Degrader) degradeOne(ctx context.Context, item work.Item) *work.PhaseResult {
	started := time.Now().UTC()
	segment := work.Segment{
		Index: 0,
		Kind:  work.SegmentSummary,
		Text:  degradedText(item),
	}

	if d.sink != nil {
		if err := d.persist(ctx, item.ID, []work.Segment{segment}); err != nil {
			d.logger.Warn("degraded result not persisted",
				"item_id", item.ID, "error", err)
		}
	}

	result := work.Succeeded(item.ID, work.PhasePersistence)
	result.Degraded = true
	result.StartedAt = started
	result.Duration = time.Since(started)
	result.Persistence = &work.PersistenceResult{SegmentCount: 1}
	return result
}

func (d *Degrader) persist(ctx context.Context, itemID string, segments []work.Segment) error {
	tx, err := d.sink.Begin(ctx, itemID)
	if err != nil {
		return err
	}
	if err := tx.ReplaceSegments(itemID, segments); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.MarkProcessed(itemID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// degradedText builds the minimal summary. The title is always present: an
// item with no metadata at all still yields a one-line record.
func degradedText(item work.Item) string {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = fmt.Sprintf("Document %s", item.ID)
	}

	var b strings.Builder
	b.WriteString(title)
	if abstract := strings.TrimSpace(item.Abstract); abstract != "" {
		b.WriteString("\n\n")
		b.WriteString(abstract)
	}
	if len(item.Metadata) > 0 {
		if authors := item.Metadata["authors"]; authors != "" {
			b.WriteString("\n\nAuthors: ")
			b.WriteString(authors)
		}
		if year := item.Metadata["year"]; year != "" {
			b.WriteString("\nYear: ")
			b.WriteString(year)
		}
	}
	return b.String()
}
