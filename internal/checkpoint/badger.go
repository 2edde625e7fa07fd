package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

// BadgerStore persists checkpoints in a Badger key-value database. It shares
// the database handle with the persistence sink; callers own the lifecycle.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, key Key) (*work.PhaseResult, error) {
	var result *work.PhaseResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r work.PhaseResult
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("corrupt checkpoint %s: %w", key, err)
			}
			result = &r
			return nil
		})
	})
	if err != nil {
		return nil, errdefs.WrapInfrastructure(err, "checkpoint read failed")
	}
	return result, nil
}

// Put implements Store. Existing records are never overwritten.
func (s *BadgerStore) Put(_ context.Context, key Key, result *work.PhaseResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errdefs.WrapInfrastructure(err, "checkpoint encode failed")
	}
	k := []byte(key.String())

	err = s.db.Update(func(txn *badger.Txn) error {
		_, getErr := txn.Get(k)
		if getErr == nil {
			return nil
		}
		if !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}
		return txn.Set(k, data)
	})
	if err != nil {
		return errdefs.WrapInfrastructure(err, "checkpoint write failed")
	}
	return nil
}

// DeleteSession implements Store.
func (s *BadgerStore) DeleteSession(_ context.Context, sessionID string) error {
	prefix := []byte(fmt.Sprintf("cp/%s/", sessionID))
	if err := s.db.DropPrefix(prefix); err != nil {
		return errdefs.WrapInfrastructure(err, "checkpoint wipe failed")
	}
	return nil
}

var _ Store = (*BadgerStore)(nil)
