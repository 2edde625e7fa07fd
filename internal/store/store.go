// Package store implements the persistence sink: structured segments are
// written per item inside an item-scoped transaction, so one item's write
// failure never touches the rest of its batch.
package store

import (
	"context"
	"time"

	"github.com/jackzampolin/stacks/internal/work"
)

// Tx is one item-scoped transaction. Either Commit or Rollback must be
// called exactly once; Rollback after a failed Commit is a no-op.
type Tx interface {
	// ReplaceSegments drops the item's previously stored segments and
	// stages the new set.
	ReplaceSegments(itemID string, segments []work.Segment) error

	// MarkProcessed stages the item's processed marker.
	MarkProcessed(itemID string) error

	Commit() error
	Rollback() error
}

// Sink is the persistence contract consumed by the pipeline. Transactions
// for different items are independent; batches run their items' transactions
// concurrently.
type Sink interface {
	Begin(ctx context.Context, itemID string) (Tx, error)
}

// ProcessedRecord is the durable marker for a fully persisted item.
type ProcessedRecord struct {
	ItemID       string    `json:"item_id"`
	SegmentCount int       `json:"segment_count"`
	ProcessedAt  time.Time `json:"processed_at"`
}
