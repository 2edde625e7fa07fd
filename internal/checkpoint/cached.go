package checkpoint

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jackzampolin/stacks/internal/work"
)

// DefaultCacheSize bounds the in-memory checkpoint cache. Resume-heavy runs
// read the same keys once per phase, so a few thousand entries cover a
// session comfortably.
const DefaultCacheSize = 4096

// CachedStore layers an LRU read cache over another Store. Write-once
// semantics make the cache trivially coherent: a cached record can never
// go stale.
type CachedStore struct {
	inner Store
	cache *lru.Cache[string, *work.PhaseResult]
}

// NewCachedStore wraps inner with a cache of the given size (0 uses
// DefaultCacheSize).
func NewCachedStore(inner Store, size int) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only errors on a non-positive size.
	cache, _ := lru.New[string, *work.PhaseResult](size)
	return &CachedStore{inner: inner, cache: cache}
}

// Get implements Store.
func (s *CachedStore) Get(ctx context.Context, key Key) (*work.PhaseResult, error) {
	if result, ok := s.cache.Get(key.String()); ok {
		return result, nil
	}
	result, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if result != nil {
		s.cache.Add(key.String(), result)
	}
	return result, nil
}

// Put implements Store.
func (s *CachedStore) Put(ctx context.Context, key Key, result *work.PhaseResult) error {
	if err := s.inner.Put(ctx, key, result); err != nil {
		return err
	}
	// The inner store keeps the first record written for a key. Leave the
	// cache alone and let the next Get read back whichever record won.
	return nil
}

// DeleteSession implements Store.
func (s *CachedStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.inner.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.cache.Purge()
	return nil
}

var _ Store = (*CachedStore)(nil)
