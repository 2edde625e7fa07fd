package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

// Key layout:
//
//	seg/<itemID>/<index>  one segment, JSON
//	item/<itemID>         ProcessedRecord, JSON
func segmentKey(itemID string, index int) []byte {
	return []byte(fmt.Sprintf("seg/%s/%06d", itemID, index))
}

func segmentPrefix(itemID string) []byte {
	return []byte(fmt.Sprintf("seg/%s/", itemID))
}

func processedKey(itemID string) []byte {
	return []byte(fmt.Sprintf("item/%s", itemID))
}

// BadgerSink persists segments in a Badger key-value database. The handle is
// shared with the checkpoint store; callers own its lifecycle.
type BadgerSink struct {
	db *badger.DB
}

// NewBadgerSink wraps an open database.
func NewBadgerSink(db *badger.DB) *BadgerSink {
	return &BadgerSink{db: db}
}

// Begin implements Sink. Items occupy disjoint key ranges, so concurrent
// item transactions do not conflict.
func (s *BadgerSink) Begin(_ context.Context, itemID string) (Tx, error) {
	return &badgerTx{txn: s.db.NewTransaction(true), itemID: itemID}, nil
}

// Segments returns the stored segments for an item in index order.
func (s *BadgerSink) Segments(_ context.Context, itemID string) ([]work.Segment, error) {
	var segments []work.Segment
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = segmentPrefix(itemID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var seg work.Segment
				if err := json.Unmarshal(val, &seg); err != nil {
					return fmt.Errorf("corrupt segment %s: %w", it.Item().Key(), err)
				}
				segments = append(segments, seg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errdefs.WrapPersistence(err, "segment read failed")
	}
	return segments, nil
}

// Processed returns the processed marker for an item, or nil when the item
// was never marked.
func (s *BadgerSink) Processed(_ context.Context, itemID string) (*ProcessedRecord, error) {
	var record *ProcessedRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(processedKey(itemID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r ProcessedRecord
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("corrupt processed record for %s: %w", itemID, err)
			}
			record = &r
			return nil
		})
	})
	if err != nil {
		return nil, errdefs.WrapPersistence(err, "processed-record read failed")
	}
	return record, nil
}

// badgerTx stages one item's writes in a Badger read-write transaction.
type badgerTx struct {
	txn      *badger.Txn
	itemID   string
	staged   int
	finished bool
}

// ReplaceSegments implements Tx.
func (tx *badgerTx) ReplaceSegments(itemID string, segments []work.Segment) error {
	// Collect prior segment keys first; deleting while iterating invalidates
	// the iterator.
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = segmentPrefix(itemID)
	it := tx.txn.NewIterator(opts)
	var stale [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		stale = append(stale, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range stale {
		if err := tx.txn.Delete(key); err != nil {
			return errdefs.WrapPersistence(err, "stale segment delete failed")
		}
	}

	for _, seg := range segments {
		data, err := json.Marshal(seg)
		if err != nil {
			return errdefs.WrapPersistence(err, "segment encode failed")
		}
		if err := tx.txn.Set(segmentKey(itemID, seg.Index), data); err != nil {
			return errdefs.WrapPersistence(err, "segment write failed")
		}
	}
	tx.staged = len(segments)
	return nil
}

// MarkProcessed implements Tx.
func (tx *badgerTx) MarkProcessed(itemID string) error {
	record := ProcessedRecord{
		ItemID:       itemID,
		SegmentCount: tx.staged,
		ProcessedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errdefs.WrapPersistence(err, "processed record encode failed")
	}
	if err := tx.txn.Set(processedKey(itemID), data); err != nil {
		return errdefs.WrapPersistence(err, "processed record write failed")
	}
	return nil
}

// Commit implements Tx.
func (tx *badgerTx) Commit() error {
	if tx.finished {
		return nil
	}
	tx.finished = true
	if err := tx.txn.Commit(); err != nil {
		return errdefs.WrapPersistence(err, fmt.Sprintf("commit failed for item %s", tx.itemID))
	}
	return nil
}

// Rollback implements Tx.
func (tx *badgerTx) Rollback() error {
	if tx.finished {
		return nil
	}
	tx.finished = true
	tx.txn.Discard()
	return nil
}

var _ Sink = (*BadgerSink)(nil)
