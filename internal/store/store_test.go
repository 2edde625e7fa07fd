package store

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

func openTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func segs(texts ...string) []work.Segment {
	out := make([]work.Segment, len(texts))
	for i, text := range texts {
		out[i] = work.Segment{Index: i, Kind: work.SegmentGeneral, Text: text}
	}
	return out
}

func TestBadgerSinkCommitPersists(t *testing.T) {
	ctx := context.Background()
	sink := NewBadgerSink(openTestBadger(t))

	tx, err := sink.Begin(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.ReplaceSegments("doc-1", segs("alpha", "beta")); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	if err := tx.MarkProcessed("doc-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	stored, err := sink.Segments(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("len(segments) = %d, want 2", len(stored))
	}
	if stored[0].Text != "alpha" || stored[1].Text != "beta" {
		t.Errorf("segments out of order: %+v", stored)
	}

	record, err := sink.Processed(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Processed: %v", err)
	}
	if record == nil {
		t.Fatal("processed record missing after commit")
	}
	if record.SegmentCount != 2 {
		t.Errorf("SegmentCount = %d, want 2", record.SegmentCount)
	}
}

func TestBadgerSinkReplaceDropsStaleSegments(t *testing.T) {
	ctx := context.Background()
	sink := NewBadgerSink(openTestBadger(t))

	tx, _ := sink.Begin(ctx, "doc-1")
	if err := tx.ReplaceSegments("doc-1", segs("one", "two", "three")); err != nil {
		t.Fatalf("first ReplaceSegments: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("first Commit: %v", err)
	}

	// A re-run writes fewer segments; the old tail must not survive.
	tx, _ = sink.Begin(ctx, "doc-1")
	if err := tx.ReplaceSegments("doc-1", segs("only")); err != nil {
		t.Fatalf("second ReplaceSegments: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("second Commit: %v", err)
	}

	stored, err := sink.Segments(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(stored) != 1 || stored[0].Text != "only" {
		t.Errorf("segments after replace = %+v, want single \"only\"", stored)
	}
}

func TestBadgerSinkRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	sink := NewBadgerSink(openTestBadger(t))

	tx, _ := sink.Begin(ctx, "doc-1")
	if err := tx.ReplaceSegments("doc-1", segs("ghost")); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	if err := tx.MarkProcessed("doc-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	stored, err := sink.Segments(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("segments after rollback = %+v, want none", stored)
	}
	record, err := sink.Processed(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Processed: %v", err)
	}
	if record != nil {
		t.Errorf("processed record after rollback = %+v, want nil", record)
	}
}

func TestBadgerSinkItemIsolation(t *testing.T) {
	ctx := context.Background()
	sink := NewBadgerSink(openTestBadger(t))

	// Two concurrent item transactions; one rolls back, the other commits.
	tx1, _ := sink.Begin(ctx, "doc-1")
	tx2, _ := sink.Begin(ctx, "doc-2")

	if err := tx1.ReplaceSegments("doc-1", segs("keep")); err != nil {
		t.Fatalf("tx1 ReplaceSegments: %v", err)
	}
	if err := tx2.ReplaceSegments("doc-2", segs("drop")); err != nil {
		t.Fatalf("tx2 ReplaceSegments: %v", err)
	}

	if err := tx1.MarkProcessed("doc-1"); err != nil {
		t.Fatalf("tx1 MarkProcessed: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("tx1 Commit: %v", err)
	}
	if err := tx2.Rollback(); err != nil {
		t.Fatalf("tx2 Rollback: %v", err)
	}

	if got, _ := sink.Segments(ctx, "doc-1"); len(got) != 1 {
		t.Errorf("doc-1 segments = %+v, want 1", got)
	}
	if got, _ := sink.Segments(ctx, "doc-2"); len(got) != 0 {
		t.Errorf("doc-2 segments = %+v, want none", got)
	}
}

func TestMemorySinkInjectedFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("write failure", func(t *testing.T) {
		sink := NewMemorySink()
		sink.FailWrite = map[string]bool{"doc-7": true}

		tx, err := sink.Begin(ctx, "doc-7")
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		err = tx.ReplaceSegments("doc-7", segs("x"))
		if !errdefs.IsPersistence(err) {
			t.Fatalf("kind = %v, want persistence", errdefs.KindOf(err))
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("Rollback: %v", err)
		}
		if sink.IsProcessed("doc-7") {
			t.Error("doc-7 processed despite write failure")
		}
	})

	t.Run("commit failure", func(t *testing.T) {
		sink := NewMemorySink()
		sink.FailCommit = map[string]bool{"doc-7": true}

		tx, _ := sink.Begin(ctx, "doc-7")
		if err := tx.ReplaceSegments("doc-7", segs("x")); err != nil {
			t.Fatalf("ReplaceSegments: %v", err)
		}
		if err := tx.MarkProcessed("doc-7"); err != nil {
			t.Fatalf("MarkProcessed: %v", err)
		}
		if err := tx.Commit(); !errdefs.IsPersistence(err) {
			t.Fatalf("Commit kind = %v, want persistence", errdefs.KindOf(err))
		}
		if sink.IsProcessed("doc-7") {
			t.Error("doc-7 processed despite commit failure")
		}
	})

	t.Run("other items unaffected", func(t *testing.T) {
		sink := NewMemorySink()
		sink.FailCommit = map[string]bool{"doc-7": true}

		for _, id := range []string{"doc-6", "doc-7", "doc-8"} {
			tx, err := sink.Begin(ctx, id)
			if err != nil {
				t.Fatalf("Begin %s: %v", id, err)
			}
			if err := tx.ReplaceSegments(id, segs("body")); err != nil {
				t.Fatalf("ReplaceSegments %s: %v", id, err)
			}
			if err := tx.MarkProcessed(id); err != nil {
				t.Fatalf("MarkProcessed %s: %v", id, err)
			}
			if err := tx.Commit(); err != nil {
				tx.Rollback()
			}
		}

		if sink.ProcessedCount() != 2 {
			t.Errorf("ProcessedCount = %d, want 2", sink.ProcessedCount())
		}
		if sink.IsProcessed("doc-7") {
			t.Error("doc-7 should not be processed")
		}
	})
}
