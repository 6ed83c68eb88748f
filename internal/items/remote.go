package items

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Remote is the authoritative item store, usually the backend API
type Remote interface {
	// List returns the authoritative content of a partition
	List(ctx context.Context, partition Partition) (Collection, error)
	// Create persists a new item and returns it with its server-issued id
	Create(ctx context.Context, draft Draft) (Item, error)
	// Patch applies a partial update and returns the updated record
	Patch(ctx context.Context, id string, patch Patch) (Item, error)
	// Archive removes an item from every partition
	Archive(ctx context.Context, id string) error
}

// ErrNoSuchItem is returned by MemoryRemote for unknown ids
var ErrNoSuchItem = fmt.Errorf("no such item")

// MemoryRemote is an in-process Remote. The CLI uses it in offline mode and tests use it as a fake backend.
type MemoryRemote struct {
	mu     sync.Mutex
	items  []Item
	nextID int
	now    func() time.Time
}

// NewMemoryRemote creates a MemoryRemote seeded with the given items
func NewMemoryRemote(seed ...Item) *MemoryRemote {
	return &MemoryRemote{
		items:  append([]Item(nil), seed...),
		nextID: len(seed) + 1,
		now:    time.Now,
	}
}

func (mr *MemoryRemote) List(_ context.Context, partition Partition) (Collection, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	out := Collection{}
	for _, it := range mr.items {
		if it.Partition() == partition {
			out = append(out, it)
		}
	}
	return out, nil
}

func (mr *MemoryRemote) Create(_ context.Context, draft Draft) (Item, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	id := "item-" + strconv.Itoa(mr.nextID)
	mr.nextID++
	it := draft.Item(id, mr.now())
	mr.items = append(mr.items, it)
	return it, nil
}

func (mr *MemoryRemote) Patch(_ context.Context, id string, patch Patch) (Item, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	for i, it := range mr.items {
		if it.ID == id {
			updated := patch.ApplyTo(it, mr.now())
			updated.UpdatedAt = mr.now()
			mr.items[i] = updated
			return updated, nil
		}
	}
	return Item{}, fmt.Errorf("failed to patch %s: %w", id, ErrNoSuchItem)
}

func (mr *MemoryRemote) Archive(_ context.Context, id string) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	for i, it := range mr.items {
		if it.ID == id {
			mr.items = append(mr.items[:i], mr.items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("failed to archive %s: %w", id, ErrNoSuchItem)
}
