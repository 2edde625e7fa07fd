package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackzampolin/stacks/internal/checkpoint"
	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/fault"
	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/providers"
	"github.com/jackzampolin/stacks/internal/store"
	"github.com/jackzampolin/stacks/internal/work"
)

type testEnv struct {
	extractor *providers.MockExtractor
	analyzer  *providers.MockAnalyzer
	sink      *store.MemorySink
	cp        *checkpoint.MemoryStore
	sm        *metrics.SessionMetrics
	deps      *Deps
}

func newTestEnv(t *testing.T, extractionSlots, analysisSlots int) *testEnv {
	t.Helper()
	env := &testEnv{
		extractor: providers.NewMockExtractor(),
		analyzer:  providers.NewMockAnalyzer(),
		sink:      store.NewMemorySink(),
		cp:        checkpoint.NewMemoryStore(),
		sm:        metrics.New(),
	}
	env.deps = &Deps{
		Extractor: env.extractor,
		Analyzer:  env.analyzer,
		Sink:      env.sink,
		Fault: fault.NewManager(env.cp, env.sm, fault.Config{
			MaxRetries: 3,
			Delays:     []time.Duration{time.Millisecond},
		}, nil),
		ExtractionPermits: NewPermitPool("extraction", extractionSlots),
		AnalysisPermits:   NewPermitPool("analysis", analysisSlots),
		Metrics:           env.sm,
	}
	return env
}

func testItems(n int) []work.Item {
	items := make([]work.Item, n)
	for i := range items {
		items[i] = work.Item{
			ID:     fmt.Sprintf("item-%d", i+1),
			Title:  fmt.Sprintf("Paper %d", i+1),
			Source: fmt.Sprintf("/papers/%d.pdf", i+1),
		}
	}
	return items
}

func TestBatchHappyPath(t *testing.T) {
	env := newTestEnv(t, 4, 4)
	bp := NewBatchProcessor(env.deps)

	result := bp.Run(context.Background(), "s1", Batch{Index: 0, Items: testItems(10)})

	if result.Submitted != 10 {
		t.Errorf("submitted = %d, want 10", result.Submitted)
	}
	if len(result.StillFailed) != 0 {
		t.Errorf("still failed = %d items, want 0", len(result.StillFailed))
	}
	persisted := 0
	for _, o := range result.Outcomes {
		if o.Status == work.StatusPersisted {
			persisted++
		}
	}
	if persisted != 10 {
		t.Errorf("persisted = %d, want 10", persisted)
	}
	if got := env.sink.ProcessedCount(); got != 10 {
		t.Errorf("sink processed = %d, want 10", got)
	}

	for _, ph := range work.Phases() {
		stat := result.PhaseStats[ph]
		if stat.Ran != 10 || stat.Succeeded != 10 {
			t.Errorf("phase %s stats = %+v, want 10 ran and succeeded", ph, stat)
		}
	}
}

func TestExtractionPermitBound(t *testing.T) {
	env := newTestEnv(t, 2, 4)
	env.extractor.Latency = 20 * time.Millisecond
	bp := NewBatchProcessor(env.deps)

	result := bp.Run(context.Background(), "s1", Batch{Index: 0, Items: testItems(5)})

	if len(result.StillFailed) != 0 {
		t.Fatalf("still failed = %d, want 0", len(result.StillFailed))
	}
	if peak := env.deps.ExtractionPermits.Peak(); peak > 2 {
		t.Errorf("extraction permit peak = %d, want <= 2", peak)
	}
	if held := env.deps.ExtractionPermits.Held(); held != 0 {
		t.Errorf("permits still held after batch: %d", held)
	}
}

func TestAnalyzerFailuresSeeExactlyFourInvocations(t *testing.T) {
	env := newTestEnv(t, 4, 4)
	env.analyzer.FailFor = map[string]error{
		"item-3": errdefs.Transient("injected analyzer fault"),
		"item-7": errdefs.Transient("injected analyzer fault"),
	}
	bp := NewBatchProcessor(env.deps)

	result := bp.Run(context.Background(), "s1", Batch{Index: 0, Items: testItems(10)})

	for _, id := range []string{"item-3", "item-7"} {
		if got := env.analyzer.Calls(id); got != 4 {
			t.Errorf("analyzer calls for %s = %d, want 4 (1 + 3 retries)", id, got)
		}
		o, ok := result.Outcomes[id]
		if !ok || o.Status != work.StatusFailed || o.StoppedAt != work.PhaseAnalysis {
			t.Errorf("outcome for %s = %+v, want failed at analysis", id, o)
		}
	}
	for i := 1; i <= 10; i++ {
		id := fmt.Sprintf("item-%d", i)
		if id == "item-3" || id == "item-7" {
			continue
		}
		if got := env.analyzer.Calls(id); got != 1 {
			t.Errorf("analyzer calls for %s = %d, want 1", id, got)
		}
	}
	if len(result.StillFailed) != 2 {
		t.Errorf("still failed = %d, want 2", len(result.StillFailed))
	}
}

func TestPersistenceFailureIsolatedToOneItem(t *testing.T) {
	env := newTestEnv(t, 4, 4)
	env.sink.FailWrite = map[string]bool{"item-7": true}
	bp := NewBatchProcessor(env.deps)

	result := bp.Run(context.Background(), "s1", Batch{Index: 0, Items: testItems(10)})

	o := result.Outcomes["item-7"]
	if o.Status != work.StatusFailed || o.StoppedAt != work.PhasePersistence {
		t.Errorf("outcome for item-7 = %+v, want failed at persistence", o)
	}
	if o.Failure == nil || o.Failure.Kind != errdefs.KindPersistence {
		t.Errorf("failure = %+v, want persistence kind", o.Failure)
	}

	if got := env.sink.ProcessedCount(); got != 9 {
		t.Errorf("sink processed = %d, want 9", got)
	}
	// Persistence errors are not retried.
	_, _, rolledBack := env.sink.TxCounts()
	if rolledBack != 1 {
		t.Errorf("rolled back = %d, want 1", rolledBack)
	}
}

func TestExtractionFallsBackToAbstract(t *testing.T) {
	env := newTestEnv(t, 4, 4)
	env.extractor.FailFor = map[string]error{
		"item-2": errdefs.ContentUnavailable("scan missing"),
	}
	items := testItems(3)
	items[1].Abstract = "A known abstract for the second paper."
	bp := NewBatchProcessor(env.deps)

	result := bp.Run(context.Background(), "s1", Batch{Index: 0, Items: items})

	o := result.Outcomes["item-2"]
	if o.Status != work.StatusDegraded || !o.Degraded {
		t.Errorf("outcome for item-2 = %+v, want degraded-at-extraction carried to the end", o)
	}
	if !env.sink.IsProcessed("item-2") {
		t.Error("degraded item not persisted")
	}
}

func TestExtractionWithoutSourceOrAbstractFails(t *testing.T) {
	env := newTestEnv(t, 4, 4)
	items := []work.Item{{ID: "item-1", Title: "No source"}}
	bp := NewBatchProcessor(env.deps)

	result := bp.Run(context.Background(), "s1", Batch{Index: 0, Items: items})

	o := result.Outcomes["item-1"]
	if o.Status != work.StatusFailed || o.StoppedAt != work.PhaseExtraction {
		t.Errorf("outcome = %+v, want failed at extraction", o)
	}
	if got := env.extractor.Calls("item-1"); got != 0 {
		t.Errorf("extractor called %d times for sourceless item, want 0", got)
	}
}

func TestEmptyContentFailsAnalysisWithoutAnalyzerCall(t *testing.T) {
	env := newTestEnv(t, 4, 4)
	analysis := &AnalysisPhase{deps: env.deps}

	prior := NewTracker[*work.PhaseResult]()
	empty := work.Succeeded("only", work.PhaseExtraction)
	empty.Extraction = &work.ExtractionResult{Text: "   "}
	prior.Set("only", empty)

	results := analysis.Run(context.Background(), "s1",
		[]work.Item{{ID: "only", Title: "Empty"}}, prior)

	r, ok := results.Get("only")
	if !ok || r.Success {
		t.Fatalf("result = %+v, want explicit phase failure", r)
	}
	if r.Failure.Kind != errdefs.KindContentUnavailable {
		t.Errorf("failure kind = %s, want content_unavailable", r.Failure.Kind)
	}
	if r.Failure.Message != "no content" {
		t.Errorf("failure message = %q, want %q", r.Failure.Message, "no content")
	}
	if got := env.analyzer.Calls("only"); got != 0 {
		t.Errorf("analyzer called %d times for empty content, want 0", got)
	}
}

func TestBatchStopsBetweenPhases(t *testing.T) {
	env := newTestEnv(t, 4, 4)
	bp := NewBatchProcessor(env.deps)

	phasesSeen := 0
	bp.StopRequested = func() bool {
		phasesSeen++
		return phasesSeen > 1 // allow extraction, stop before analysis
	}

	result := bp.Run(context.Background(), "s1", Batch{Index: 0, Items: testItems(4)})

	if !result.Stopped {
		t.Fatal("batch did not report a stop")
	}
	if env.analyzer.RequestCount() != 0 {
		t.Errorf("analyzer ran %d times after stop, want 0", env.analyzer.RequestCount())
	}
	// Extraction results are checkpointed, so a resumed run skips them.
	if env.cp.Len() != 4 {
		t.Errorf("checkpoints = %d, want 4 extraction records", env.cp.Len())
	}
}

func TestResumeSkipsCheckpointedPhases(t *testing.T) {
	env := newTestEnv(t, 4, 4)
	bp := NewBatchProcessor(env.deps)
	items := testItems(6)

	first := bp.Run(context.Background(), "s1", Batch{Index: 0, Items: items})
	if len(first.StillFailed) != 0 {
		t.Fatalf("first run failed items: %d", len(first.StillFailed))
	}
	extractorCalls := env.extractor.RequestCount()
	analyzerCalls := env.analyzer.RequestCount()

	second := bp.Run(context.Background(), "s1", Batch{Index: 0, Items: items})
	if len(second.StillFailed) != 0 {
		t.Fatalf("second run failed items: %d", len(second.StillFailed))
	}

	if env.extractor.RequestCount() != extractorCalls {
		t.Errorf("extractor re-invoked on resume: %d -> %d", extractorCalls, env.extractor.RequestCount())
	}
	if env.analyzer.RequestCount() != analyzerCalls {
		t.Errorf("analyzer re-invoked on resume: %d -> %d", analyzerCalls, env.analyzer.RequestCount())
	}
}

func TestProgressBoundaries(t *testing.T) {
	env := newTestEnv(t, 4, 4)
	bp := NewBatchProcessor(env.deps)

	var percents []float64
	bp.Progress = func(percent float64, _ string) {
		percents = append(percents, percent)
	}

	bp.Run(context.Background(), "s1", Batch{Index: 0, Items: testItems(2)})

	want := []float64{10, 40, 70, 90, 100}
	if len(percents) != len(want) {
		t.Fatalf("progress events = %v, want %v", percents, want)
	}
	for i := range want {
		if percents[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, percents[i], want[i])
		}
	}
}
