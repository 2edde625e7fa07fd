package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/jackzampolin/stacks/internal/errdefs"
)

// ErrSessionNotFound is returned when no live or persisted session matches
// the requested ID.
var ErrSessionNotFound = errors.New("session not found")

// Records stores session records durably. Saved at every state transition.
type Records interface {
	Save(ctx context.Context, record SessionRecord) error
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)
	List(ctx context.Context) ([]SessionRecord, error)
}

func recordKey(sessionID string) []byte {
	return []byte(fmt.Sprintf("sessions/%s", sessionID))
}

// BadgerRecords persists session records in the shared Badger database.
type BadgerRecords struct {
	db *badger.DB
}

// NewBadgerRecords wraps an open database.
func NewBadgerRecords(db *badger.DB) *BadgerRecords {
	return &BadgerRecords{db: db}
}

// Save implements Records.
func (r *BadgerRecords) Save(_ context.Context, record SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errdefs.WrapInfrastructure(err, "session record encode failed")
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(record.ID), data)
	})
	if err != nil {
		return errdefs.WrapInfrastructure(err, "session record write failed")
	}
	return nil
}

// Get implements Records.
func (r *BadgerRecords) Get(_ context.Context, sessionID string) (*SessionRecord, error) {
	var record *SessionRecord
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var rec SessionRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("corrupt session record %s: %w", sessionID, err)
			}
			record = &rec
			return nil
		})
	})
	if err != nil {
		return nil, errdefs.WrapInfrastructure(err, "session record read failed")
	}
	return record, nil
}

// List implements Records.
func (r *BadgerRecords) List(_ context.Context) ([]SessionRecord, error) {
	var records []SessionRecord
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("sessions/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec SessionRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("corrupt session record %s: %w", it.Item().Key(), err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errdefs.WrapInfrastructure(err, "session record list failed")
	}
	return records, nil
}

// MemoryRecords is an in-process Records for tests and record-less runs.
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[string]SessionRecord
}

// NewMemoryRecords creates an empty store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[string]SessionRecord)}
}

// Save implements Records.
func (r *MemoryRecords) Save(_ context.Context, record SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record
	return nil
}

// Get implements Records.
func (r *MemoryRecords) Get(_ context.Context, sessionID string) (*SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[sessionID]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

// List implements Records.
func (r *MemoryRecords) List(_ context.Context) ([]SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

var _ Records = (*BadgerRecords)(nil)
var _ Records = (*MemoryRecords)(nil)
