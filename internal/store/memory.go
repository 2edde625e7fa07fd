package store

import (
	"context"
	"sync"
	"time"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

// MemorySink is an in-process Sink for tests. Failures are injected per item
// and fire at the configured point in the transaction.
type MemorySink struct {
	// FailBegin, FailWrite, and FailCommit inject a persistence error for
	// the named item at the corresponding transaction step.
	FailBegin  map[string]bool
	FailWrite  map[string]bool
	FailCommit map[string]bool

	mu        sync.Mutex
	segments  map[string][]work.Segment
	processed map[string]ProcessedRecord
	begun     int
	committed int
	rolledBck int
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		segments:  make(map[string][]work.Segment),
		processed: make(map[string]ProcessedRecord),
	}
}

// Begin implements Sink.
func (s *MemorySink) Begin(_ context.Context, itemID string) (Tx, error) {
	s.mu.Lock()
	s.begun++
	s.mu.Unlock()

	if s.FailBegin[itemID] {
		return nil, errdefs.Persistence("injected begin failure for %s", itemID)
	}
	return &memoryTx{sink: s, itemID: itemID}, nil
}

// SegmentsFor returns the committed segments for an item.
func (s *MemorySink) SegmentsFor(itemID string) []work.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments[itemID]
}

// IsProcessed reports whether an item's processed marker was committed.
func (s *MemorySink) IsProcessed(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[itemID]
	return ok
}

// ProcessedCount reports how many items committed a processed marker.
func (s *MemorySink) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

// TxCounts reports begun, committed, and rolled-back transaction totals.
func (s *MemorySink) TxCounts() (begun, committed, rolledBack int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun, s.committed, s.rolledBck
}

// memoryTx stages writes locally and applies them on Commit, mirroring the
// isolation of the Badger transaction.
type memoryTx struct {
	sink     *MemorySink
	itemID   string
	segments []work.Segment
	marked   bool
	finished bool
}

// ReplaceSegments implements Tx.
func (tx *memoryTx) ReplaceSegments(itemID string, segments []work.Segment) error {
	if tx.sink.FailWrite[itemID] {
		return errdefs.Persistence("injected write failure for %s", itemID)
	}
	tx.segments = append([]work.Segment(nil), segments...)
	return nil
}

// MarkProcessed implements Tx.
func (tx *memoryTx) MarkProcessed(itemID string) error {
	tx.marked = true
	return nil
}

// Commit implements Tx.
func (tx *memoryTx) Commit() error {
	if tx.finished {
		return nil
	}
	tx.finished = true

	if tx.sink.FailCommit[tx.itemID] {
		return errdefs.Persistence("injected commit failure for %s", tx.itemID)
	}

	tx.sink.mu.Lock()
	defer tx.sink.mu.Unlock()
	tx.sink.segments[tx.itemID] = tx.segments
	if tx.marked {
		tx.sink.processed[tx.itemID] = ProcessedRecord{
			ItemID:       tx.itemID,
			SegmentCount: len(tx.segments),
			ProcessedAt:  time.Now().UTC(),
		}
	}
	tx.sink.committed++
	return nil
}

// Rollback implements Tx.
func (tx *memoryTx) Rollback() error {
	if tx.finished {
		return nil
	}
	tx.finished = true

	tx.sink.mu.Lock()
	defer tx.sink.mu.Unlock()
	tx.sink.rolledBck++
	return nil
}

var _ Sink = (*MemorySink)(nil)
