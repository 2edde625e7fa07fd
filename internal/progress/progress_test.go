package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingSink captures pushes and can fail on demand.
type recordingSink struct {
	mu    sync.Mutex
	snaps []Snapshot
	err   error
}

func (s *recordingSink) Push(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func TestReporterStoresLatestSnapshot(t *testing.T) {
	r := NewReporter(ReporterConfig{})
	defer r.Stop()

	r.Update("s1", 10, "extracting", nil)
	r.Update("s1", 40, "analyzing", map[string]any{"completed": 4})

	snap, ok := r.Get("s1")
	if !ok {
		t.Fatal("snapshot missing")
	}
	if snap.Percent != 40 {
		t.Errorf("Percent = %v, want 40", snap.Percent)
	}
	if snap.Message != "analyzing" {
		t.Errorf("Message = %q, want analyzing", snap.Message)
	}

	if _, ok := r.Get("unknown"); ok {
		t.Error("Get(unknown) reported a snapshot")
	}
}

func TestReporterPercentNeverDecreases(t *testing.T) {
	r := NewReporter(ReporterConfig{})
	defer r.Stop()

	r.Update("s1", 70, "batch 2 structuring", nil)
	// A slower batch reports an earlier stage afterward.
	r.Update("s1", 40, "batch 1 analyzing", nil)

	snap, _ := r.Get("s1")
	if snap.Percent != 70 {
		t.Errorf("Percent = %v, want 70 (monotonic)", snap.Percent)
	}
	if snap.Message != "batch 1 analyzing" {
		t.Errorf("Message = %q, want the latest message", snap.Message)
	}
}

func TestReporterPushesToSink(t *testing.T) {
	sink := &recordingSink{}
	r := NewReporter(ReporterConfig{Sink: sink})

	r.Update("s1", 10, "start", nil)
	r.Update("s1", 100, "done", nil)
	r.Stop()

	if got := sink.count(); got != 2 {
		t.Errorf("pushed %d snapshots, want 2", got)
	}
}

func TestReporterSinkFailureDoesNotPropagate(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink offline")}
	r := NewReporter(ReporterConfig{Sink: sink})

	// Must not panic or block.
	r.Update("s1", 50, "halfway", nil)
	r.Stop()

	snap, ok := r.Get("s1")
	if !ok || snap.Percent != 50 {
		t.Errorf("snapshot = %+v, want stored despite sink failure", snap)
	}
}

func TestReporterForget(t *testing.T) {
	r := NewReporter(ReporterConfig{})
	defer r.Stop()

	r.Update("s1", 100, "done", nil)
	r.Forget("s1")

	if _, ok := r.Get("s1"); ok {
		t.Error("snapshot survived Forget")
	}
}

func TestReporterUpdateAfterStopDoesNotPanic(t *testing.T) {
	sink := &recordingSink{}
	r := NewReporter(ReporterConfig{Sink: sink})
	r.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Update("s1", 10, "late", nil)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Update blocked after Stop")
	}
}
