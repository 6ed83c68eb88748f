// Package cache holds the client-side copy of the item partitions that views read from.
package cache

import (
	"context"
	"sync"

	"github.com/cchalm/gtd-copilot/internal/items"
)

// Store is a keyed cache of item collections. Implementations copy on the way in and out, so callers may keep and
// compare the values they get without them changing underneath.
type Store interface {
	// Get returns the collection at key. The boolean is false when nothing is cached there.
	Get(ctx context.Context, key string) (items.Collection, bool, error)
	Set(ctx context.Context, key string, value items.Collection) error
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]items.Collection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]items.Collection{}}
}

func (ms *MemoryStore) Get(_ context.Context, key string) (items.Collection, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	v, ok := ms.values[key]
	if !ok {
		return nil, false, nil
	}
	return v.Clone(), true, nil
}

func (ms *MemoryStore) Set(_ context.Context, key string, value items.Collection) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.values[key] = value.Clone()
	return nil
}
