// Package mutation applies changes to the cached item partitions optimistically: the predicted result is visible
// immediately, the remote call runs afterwards, and a failure takes the prediction back out.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cchalm/gtd-copilot/internal/cache"
	"github.com/cchalm/gtd-copilot/internal/items"
	"github.com/cchalm/gtd-copilot/internal/telemetry"
)

// ErrNotFound matches every NotFoundError
var ErrNotFound error = fmt.Errorf("item not found")

// ErrPromotionFailed is returned by a mutation that waited for a temporary item whose creation failed
var ErrPromotionFailed error = fmt.Errorf("item was never created")

// NotFoundError reports a mutation target missing from every cached partition. It is terminal for the mutation.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ID)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Mutation describes one change to one item
type Mutation struct {
	// Name labels logs and spans, e.g. "toggle-focus"
	Name string
	// ID is the item to change. For a create it is the temporary id of the new item.
	ID string
	// Predict computes the item after the change from its current cached value. keep is false when the change removes
	// the item. For a create, current is the zero Item.
	Predict func(current items.Item) (next items.Item, keep bool)
	// Remote performs the change on the server. It returns the authoritative record, or nil when the item no longer
	// exists.
	Remote func(ctx context.Context, current items.Item, predicted items.Item) (*items.Item, error)

	create bool
}

// pending is an in-flight mutation. apply re-creates its field-level change on any later value of the item, so a
// refresh never computes the prediction a second time.
type pending struct {
	seq    int
	id     string
	apply  func(items.Item) items.Item
	keep   bool
	create bool
}

type promotion struct {
	done chan struct{}
	id   string
	err  error
}

// Engine is the only writer of the cached partitions
type Engine struct {
	store  cache.Store
	remote items.Remote
	now    func() time.Time

	mu         sync.Mutex
	seq        int
	pending    []pending
	promotions map[string]*promotion
	resolved   []string // Settled temporary ids, oldest first
}

// maxResolvedPromotions bounds how many settled temporary ids can still be translated to their server ids
const maxResolvedPromotions = 128

func NewEngine(store cache.Store, remote items.Remote) *Engine {
	return &Engine{
		store:      store,
		remote:     remote,
		now:        time.Now,
		promotions: map[string]*promotion{},
	}
}

// Items returns the cached content of a partition, empty when nothing is cached yet
func (e *Engine) Items(ctx context.Context, partition items.Partition) (items.Collection, error) {
	c, _, err := e.store.Get(ctx, partition.Key())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", partition, err)
	}
	return c, nil
}

// Find resolves an item from the cache, searching every partition
func (e *Engine) Find(ctx context.Context, id string) (items.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	parts, err := e.load(ctx)
	if err != nil {
		return items.Item{}, err
	}
	it, _, ok := locate(parts, id)
	if !ok {
		return items.Item{}, NotFoundError{ID: id}
	}
	return it, nil
}

// Run applies m optimistically and settles it against the server. It returns the authoritative record, or the zero
// Item when the mutation removed the item.
func (e *Engine) Run(ctx context.Context, m Mutation) (result items.Item, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "mutation."+m.Name, trace.WithAttributes(
		attribute.String("item.id", m.ID),
	))
	defer func() { telemetry.EndSpan(span, err) }()
	if m.create {
		// Mutations waiting on the temporary id are released on every path out of Run
		defer func() { e.resolvePromotion(m.ID, result, err) }()
	}

	if !m.create && items.IsTempID(m.ID) {
		realID, err := e.awaitPromotion(ctx, m.ID)
		if err != nil {
			return items.Item{}, err
		}
		span.SetAttributes(attribute.String("item.promoted_id", realID))
		m.ID = realID
	}

	// Locate, snapshot and apply
	e.mu.Lock()
	parts, err := e.load(ctx)
	if err != nil {
		e.mu.Unlock()
		return items.Item{}, err
	}
	current, _, found := locate(parts, m.ID)
	if !found && !m.create {
		e.mu.Unlock()
		return items.Item{}, NotFoundError{ID: m.ID}
	}
	snapshot := clonePartitions(parts)
	predicted, keep := m.Predict(current)
	optimistic := layer(parts, m.ID, predicted, keep)
	affected := changedPartitions(snapshot, optimistic)
	if err := e.write(ctx, optimistic, affected); err != nil {
		e.mu.Unlock()
		return items.Item{}, err
	}
	e.seq++
	seq := e.seq
	e.pending = append(e.pending, pending{
		seq:    seq,
		id:     m.ID,
		apply:  delta(current, predicted),
		keep:   keep,
		create: m.create,
	})
	e.mu.Unlock()

	authoritative, remoteErr := m.Remote(ctx, current, predicted)

	e.mu.Lock()
	e.dropPending(seq)
	settled := affected
	if remoteErr != nil {
		e.rollback(ctx, m, current, found, snapshot, optimistic, affected)
	} else {
		settled = e.reconcile(ctx, m, authoritative, affected)
	}
	e.mu.Unlock()

	if remoteErr != nil {
		log.Printf("Mutation %s of %s failed, rolled back: %v", m.Name, m.ID, remoteErr)
	}

	e.refresh(ctx, settled)

	if remoteErr != nil {
		return items.Item{}, fmt.Errorf("failed to %s %s: %w", m.Name, m.ID, remoteErr)
	}
	if authoritative == nil {
		return items.Item{}, nil
	}
	return *authoritative, nil
}

// rollback takes the failed mutation's delta back out. When no other write touched a partition since the optimistic
// write, the partition is restored from the snapshot as is. Otherwise only the target item is put back, so sibling
// mutations keep their effect.
func (e *Engine) rollback(ctx context.Context, m Mutation, before items.Item, existed bool,
	snapshot, optimistic map[items.Partition]items.Collection, affected []items.Partition) {
	parts, err := e.load(ctx)
	if err != nil {
		log.Printf("Failed to load cache for rollback of %s: %v", m.ID, err)
		return
	}

	restored := clonePartitions(parts)
	for _, p := range affected {
		if parts[p].Equal(optimistic[p]) {
			restored[p] = snapshot[p]
			continue
		}
		c := parts[p].Remove(m.ID)
		if existed && before.Partition() == p {
			c = insertAt(c, before, snapshot[p].Index(m.ID))
		}
		restored[p] = c
	}
	if err := e.write(ctx, restored, affected); err != nil {
		log.Printf("Failed to roll back %s: %v", m.ID, err)
	}
}

// reconcile replaces the predicted item with the server's record. It returns the partitions it wrote, which include the
// partition the server put the record in.
func (e *Engine) reconcile(ctx context.Context, m Mutation, authoritative *items.Item, affected []items.Partition) []items.Partition {
	parts, err := e.load(ctx)
	if err != nil {
		log.Printf("Failed to load cache to reconcile %s: %v", m.ID, err)
		return affected
	}
	touched := affected
	next := removeEverywhere(parts, m.ID)
	if authoritative != nil {
		p := authoritative.Partition()
		// A refresh may already have brought in the record under its server id
		next = removeEverywhere(next, authoritative.ID)
		next[p] = insertAt(next[p], *authoritative, parts[p].Index(m.ID))
		touched = appendPartition(touched, p)
	}
	if err := e.write(ctx, next, touched); err != nil {
		log.Printf("Failed to reconcile %s: %v", m.ID, err)
	}
	return touched
}

// Refresh replaces partitions with server truth and layers the deltas of still-pending mutations on top, in the order
// those mutations started
func (e *Engine) Refresh(ctx context.Context, partitions ...items.Partition) error {
	if len(partitions) == 0 {
		partitions = items.Partitions
	}

	fresh := map[items.Partition]items.Collection{}
	for _, p := range partitions {
		c, err := e.remote.List(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to list %s items: %w", p, err)
		}
		if c == nil {
			c = items.Collection{}
		}
		fresh[p] = c
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	parts, err := e.load(ctx)
	if err != nil {
		return err
	}
	for p, c := range fresh {
		parts[p] = c
	}
	for _, pm := range e.pending {
		current, _, found := locate(parts, pm.id)
		if !found && !pm.create {
			continue
		}
		parts = layer(parts, pm.id, pm.apply(current), pm.keep)
	}
	return e.write(ctx, parts, items.Partitions)
}

// RefreshAll refreshes every partition and logs failures. It matches the shape of the assistant's items-changed hook.
func (e *Engine) RefreshAll(ctx context.Context) {
	if err := e.Refresh(ctx); err != nil {
		log.Printf("Failed to refresh items: %v", err)
	}
}

func (e *Engine) refresh(ctx context.Context, partitions []items.Partition) {
	if len(partitions) == 0 {
		return
	}
	if err := e.Refresh(ctx, partitions...); err != nil {
		log.Printf("Failed to refresh after mutation: %v", err)
	}
}

func (e *Engine) dropPending(seq int) {
	for i, pm := range e.pending {
		if pm.seq == seq {
			e.pending = append(e.pending[:i:i], e.pending[i+1:]...)
			return
		}
	}
}

// registerPromotion must be called before the temporary item becomes visible in the cache
func (e *Engine) registerPromotion(tempID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.promotions[tempID] = &promotion{done: make(chan struct{})}
}

// resolvePromotion settles the promotion of tempID. Only the most recent settled promotions are remembered.
func (e *Engine) resolvePromotion(tempID string, created items.Item, err error) {
	e.mu.Lock()
	p, ok := e.promotions[tempID]
	if ok {
		e.resolved = append(e.resolved, tempID)
		if len(e.resolved) > maxResolvedPromotions {
			delete(e.promotions, e.resolved[0])
			e.resolved = e.resolved[1:]
		}
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	switch {
	case err != nil:
		p.err = err
	case created.ID == "":
		p.err = fmt.Errorf("server returned no record")
	default:
		p.id = created.ID
	}
	close(p.done)
}

// awaitPromotion blocks until the create that issued tempID settles and returns the server-issued id
func (e *Engine) awaitPromotion(ctx context.Context, tempID string) (string, error) {
	e.mu.Lock()
	p, ok := e.promotions[tempID]
	e.mu.Unlock()
	if !ok {
		return "", NotFoundError{ID: tempID}
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if p.err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrPromotionFailed, tempID, p.err)
	}
	return p.id, nil
}

// PromotedID returns the server-issued id for a temporary id once its create has succeeded
func (e *Engine) PromotedID(tempID string) (string, bool) {
	e.mu.Lock()
	p, ok := e.promotions[tempID]
	e.mu.Unlock()
	if !ok {
		return "", false
	}
	select {
	case <-p.done:
		return p.id, p.err == nil
	default:
		return "", false
	}
}

// load reads every partition. Must be called with e.mu held.
func (e *Engine) load(ctx context.Context) (map[items.Partition]items.Collection, error) {
	parts := make(map[items.Partition]items.Collection, len(items.Partitions))
	for _, p := range items.Partitions {
		c, ok, err := e.store.Get(ctx, p.Key())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from cache: %w", p, err)
		}
		if !ok {
			c = items.Collection{}
		}
		parts[p] = c
	}
	return parts, nil
}

// write stores the given partitions. Must be called with e.mu held.
func (e *Engine) write(ctx context.Context, parts map[items.Partition]items.Collection, which []items.Partition) error {
	for _, p := range which {
		if err := e.store.Set(ctx, p.Key(), parts[p]); err != nil {
			return fmt.Errorf("failed to write %s to cache: %w", p, err)
		}
	}
	return nil
}

// delta returns a function that sets on an item every field that differs between before and after
func delta(before, after items.Item) func(items.Item) items.Item {
	return func(it items.Item) items.Item {
		if after.ID != before.ID {
			it.ID = after.ID
		}
		if after.Name != before.Name {
			it.Name = after.Name
		}
		if after.Type != before.Type {
			it.Type = after.Type
		}
		if after.Bucket != before.Bucket {
			it.Bucket = after.Bucket
		}
		if after.IsFocused != before.IsFocused {
			it.IsFocused = after.IsFocused
		}
		if after.Completed != before.Completed {
			it.Completed = after.Completed
		}
		if !after.CompletedAt.Equal(before.CompletedAt) {
			it.CompletedAt = after.CompletedAt
		}
		if after.ProjectID != before.ProjectID {
			it.ProjectID = after.ProjectID
		}
		if after.Description != before.Description {
			it.Description = after.Description
		}
		if after.URL != before.URL {
			it.URL = after.URL
		}
		if !after.UpdatedAt.Equal(before.UpdatedAt) {
			it.UpdatedAt = after.UpdatedAt
		}
		return it
	}
}

func locate(parts map[items.Partition]items.Collection, id string) (items.Item, items.Partition, bool) {
	for _, p := range items.Partitions {
		if it, ok := parts[p].Find(id); ok {
			return it, p, true
		}
	}
	return items.Item{}, "", false
}

// layer returns parts with the item carrying id replaced by next, moved to the partition next belongs in. The item
// keeps its position when it stays in the same partition.
func layer(parts map[items.Partition]items.Collection, id string, next items.Item, keep bool) map[items.Partition]items.Collection {
	out := clonePartitions(parts)
	_, from, found := locate(parts, id)
	if !keep {
		return removeEverywhere(out, id)
	}
	to := next.Partition()
	if found && from == to {
		out[to] = out[to].Replace(id, next)
		return out
	}
	if found {
		out[from] = out[from].Remove(id)
	}
	out[to] = out[to].Upsert(next)
	return out
}

func removeEverywhere(parts map[items.Partition]items.Collection, id string) map[items.Partition]items.Collection {
	out := clonePartitions(parts)
	for p, c := range out {
		out[p] = c.Remove(id)
	}
	return out
}

func insertAt(c items.Collection, it items.Item, i int) items.Collection {
	if i < 0 || i > len(c) {
		i = len(c)
	}
	out := make(items.Collection, 0, len(c)+1)
	out = append(out, c[:i]...)
	out = append(out, it)
	return append(out, c[i:]...)
}

func clonePartitions(parts map[items.Partition]items.Collection) map[items.Partition]items.Collection {
	out := make(map[items.Partition]items.Collection, len(parts))
	for p, c := range parts {
		out[p] = c
	}
	return out
}

func changedPartitions(before, after map[items.Partition]items.Collection) []items.Partition {
	var out []items.Partition
	for _, p := range items.Partitions {
		if !before[p].Equal(after[p]) {
			out = append(out, p)
		}
	}
	return out
}

func appendPartition(ps []items.Partition, p items.Partition) []items.Partition {
	for _, existing := range ps {
		if existing == p {
			return ps
		}
	}
	return append(append([]items.Partition(nil), ps...), p)
}

// IsNotFound reports whether err means the mutation target could not be resolved
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
