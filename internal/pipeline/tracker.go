package pipeline

import "sync"

// Tracker provides generic per-item tracking with built-in synchronization.
// T is the value tracked per item: phase executors collect results in one,
// the batch processor collects outcomes in another.
type Tracker[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewTracker creates a tracker with an initialized map.
func NewTracker[T any]() *Tracker[T] {
	return &Tracker[T]{items: make(map[string]T)}
}

// Set records the value for an item.
func (t *Tracker[T]) Set(itemID string, value T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[itemID] = value
}

// Get returns the value for an item.
func (t *Tracker[T]) Get(itemID string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	value, ok := t.items[itemID]
	return value, ok
}

// Count returns the number of tracked items.
func (t *Tracker[T]) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Snapshot copies the tracked map.
func (t *Tracker[T]) Snapshot() map[string]T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]T, len(t.items))
	for k, v := range t.items {
		out[k] = v
	}
	return out
}
