// Package checkpoint records completed phase results durably so a stopped
// or crashed session can resume without re-invoking external collaborators
// for already-finished (item, phase) pairs.
//
// Checkpoints are write-once: the first record for a key wins and later
// writes are ignored, which keeps resumed runs idempotent.
package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackzampolin/stacks/internal/work"
)

// Key addresses one phase result.
type Key struct {
	SessionID string
	ItemID    string
	Phase     work.Phase
}

// String renders the storage key.
func (k Key) String() string {
	return fmt.Sprintf("cp/%s/%s/%s", k.SessionID, k.ItemID, k.Phase)
}

// Store is the checkpoint contract. Get returns (nil, nil) when no record
// exists for the key.
type Store interface {
	Get(ctx context.Context, key Key) (*work.PhaseResult, error)
	Put(ctx context.Context, key Key, result *work.PhaseResult) error

	// DeleteSession removes every checkpoint for a session. Used when a
	// stop was requested without saving checkpoints.
	DeleteSession(ctx context.Context, sessionID string) error
}

// MemoryStore is an in-process Store for tests and checkpoint-less runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*work.PhaseResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*work.PhaseResult)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key Key) (*work.PhaseResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[key.String()], nil
}

// Put implements Store. The first record for a key is kept.
func (s *MemoryStore) Put(_ context.Context, key Key, result *work.PhaseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	if _, exists := s.records[k]; exists {
		return nil
	}
	s.records[k] = result
	return nil
}

// DeleteSession implements Store.
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := fmt.Sprintf("cp/%s/", sessionID)
	for k := range s.records {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.records, k)
		}
	}
	return nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
