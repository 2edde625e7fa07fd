package checkpoint

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"

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

// stores returns one of each Store implementation for shared contract tests.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": NewBadgerStore(openTestBadger(t)),
		"cached": NewCachedStore(NewMemoryStore(), 16),
	}
}

func TestKeyString(t *testing.T) {
	key := Key{SessionID: "s1", ItemID: "item-9", Phase: work.PhaseAnalysis}
	got := key.String()
	want := "cp/s1/item-9/analysis"
	if got != want {
		t.Errorf("Key.String() = %q, want %q", got, want)
	}
}

func TestGetAbsentReturnsNil(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			result, err := store.Get(ctx, Key{SessionID: "s", ItemID: "i", Phase: work.PhaseExtraction})
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if result != nil {
				t.Errorf("Get on empty store = %+v, want nil", result)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	key := Key{SessionID: "s", ItemID: "doc-1", Phase: work.PhaseExtraction}
	record := work.Succeeded("doc-1", work.PhaseExtraction)
	record.Attempts = 2
	record.Extraction = &work.ExtractionResult{Text: "full text", Source: "doc-1.pdf", Pages: 12}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(ctx, key, record); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got == nil {
				t.Fatal("Get returned nil after Put")
			}
			if got.ItemID != "doc-1" || got.Phase != work.PhaseExtraction {
				t.Errorf("got identity %s/%s, want doc-1/extraction", got.ItemID, got.Phase)
			}
			if got.Attempts != 2 {
				t.Errorf("Attempts = %d, want 2", got.Attempts)
			}
			if got.Extraction == nil || got.Extraction.Pages != 12 {
				t.Errorf("Extraction payload = %+v, want 12 pages", got.Extraction)
			}
		})
	}
}

func TestPutIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	key := Key{SessionID: "s", ItemID: "doc-1", Phase: work.PhaseAnalysis}

	first := work.Succeeded("doc-1", work.PhaseAnalysis)
	first.Analysis = &work.AnalysisResult{Summary: "first"}
	second := work.Succeeded("doc-1", work.PhaseAnalysis)
	second.Analysis = &work.AnalysisResult{Summary: "second"}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(ctx, key, first); err != nil {
				t.Fatalf("first Put: %v", err)
			}
			if err := store.Put(ctx, key, second); err != nil {
				t.Fatalf("second Put: %v", err)
			}
			got, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got == nil || got.Analysis == nil {
				t.Fatalf("Get = %+v, want analysis record", got)
			}
			if got.Analysis.Summary != "first" {
				t.Errorf("Summary = %q, want %q (first write wins)", got.Analysis.Summary, "first")
			}
		})
	}
}

func TestDeleteSessionIsScoped(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// "s1" is a prefix of "s10"; deletion must not bleed across.
			keys := []Key{
				{SessionID: "s1", ItemID: "a", Phase: work.PhaseExtraction},
				{SessionID: "s1", ItemID: "b", Phase: work.PhaseAnalysis},
				{SessionID: "s10", ItemID: "a", Phase: work.PhaseExtraction},
			}
			for _, k := range keys {
				if err := store.Put(ctx, k, work.Succeeded(k.ItemID, k.Phase)); err != nil {
					t.Fatalf("Put %s: %v", k, err)
				}
			}

			if err := store.DeleteSession(ctx, "s1"); err != nil {
				t.Fatalf("DeleteSession: %v", err)
			}

			for _, k := range keys[:2] {
				got, err := store.Get(ctx, k)
				if err != nil {
					t.Fatalf("Get %s: %v", k, err)
				}
				if got != nil {
					t.Errorf("record %s survived DeleteSession", k)
				}
			}
			got, err := store.Get(ctx, keys[2])
			if err != nil {
				t.Fatalf("Get %s: %v", keys[2], err)
			}
			if got == nil {
				t.Errorf("record %s from another session was deleted", keys[2])
			}
		})
	}
}

// countingStore counts Get calls that reach the wrapped store.
type countingStore struct {
	Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, key Key) (*work.PhaseResult, error) {
	c.gets++
	return c.Store.Get(ctx, key)
}

func TestCachedStoreServesRepeatsFromCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewMemoryStore()}
	cached := NewCachedStore(inner, 16)

	key := Key{SessionID: "s", ItemID: "doc-1", Phase: work.PhaseStructuring}
	record := work.Succeeded("doc-1", work.PhaseStructuring)
	record.Structuring = &work.StructuringResult{Segments: []work.Segment{{Index: 0, Kind: work.SegmentSummary, Text: "t"}}}
	if err := cached.Put(ctx, key, record); err != nil {
		t.Fatalf("Put: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := cached.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
		if got == nil || got.Structuring == nil {
			t.Fatalf("Get %d = %+v, want structuring record", i, got)
		}
	}
	if inner.gets != 1 {
		t.Errorf("inner Get calls = %d, want 1 (repeats served from cache)", inner.gets)
	}

	// Misses are not cached; each absent lookup reaches the inner store.
	absent := Key{SessionID: "s", ItemID: "missing", Phase: work.PhaseAnalysis}
	for i := 0; i < 2; i++ {
		if _, err := cached.Get(ctx, absent); err != nil {
			t.Fatalf("Get absent: %v", err)
		}
	}
	if inner.gets != 3 {
		t.Errorf("inner Get calls = %d, want 3", inner.gets)
	}
}
