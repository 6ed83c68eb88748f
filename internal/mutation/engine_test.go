package mutation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cchalm/gtd-copilot/internal/cache"
	"github.com/cchalm/gtd-copilot/internal/items"
)

// fakeRemote is a MemoryRemote whose calls can be held back or failed per item
type fakeRemote struct {
	*items.MemoryRemote

	mu        sync.Mutex
	listErr   error
	createErr error
	failAt    int // 1-based Create call that fails with createErr, 0 fails every call
	creates   int
	patchErr  map[string]error
	gates     map[string]chan struct{}
	started   chan string
	patches   []items.Patch
}

func newFakeRemote(seed ...items.Item) *fakeRemote {
	return &fakeRemote{
		MemoryRemote: items.NewMemoryRemote(seed...),
		patchErr:     map[string]error{},
		gates:        map[string]chan struct{}{},
		started:      make(chan string, 16),
	}
}

// hold makes calls for key wait until the returned function is called
func (fr *fakeRemote) hold(key string) func() {
	gate := make(chan struct{})
	fr.mu.Lock()
	fr.gates[key] = gate
	fr.mu.Unlock()
	return func() { close(gate) }
}

func (fr *fakeRemote) wait(key string) {
	fr.mu.Lock()
	gate := fr.gates[key]
	fr.mu.Unlock()
	if gate != nil {
		fr.started <- key
		<-gate
	}
}

func (fr *fakeRemote) setListErr(err error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.listErr = err
}

func (fr *fakeRemote) List(ctx context.Context, p items.Partition) (items.Collection, error) {
	fr.mu.Lock()
	err := fr.listErr
	fr.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return fr.MemoryRemote.List(ctx, p)
}

func (fr *fakeRemote) Create(ctx context.Context, draft items.Draft) (items.Item, error) {
	fr.wait("create")
	fr.mu.Lock()
	fr.creates++
	err := fr.createErr
	if fr.failAt != 0 && fr.creates != fr.failAt {
		err = nil
	}
	fr.mu.Unlock()
	if err != nil {
		return items.Item{}, err
	}
	return fr.MemoryRemote.Create(ctx, draft)
}

func (fr *fakeRemote) Patch(ctx context.Context, id string, patch items.Patch) (items.Item, error) {
	fr.wait(id)
	fr.mu.Lock()
	fr.patches = append(fr.patches, patch)
	err := fr.patchErr[id]
	fr.mu.Unlock()
	if err != nil {
		return items.Item{}, err
	}
	return fr.MemoryRemote.Patch(ctx, id, patch)
}

func seedItems() []items.Item {
	return []items.Item{
		{ID: "1", Name: "Kartons kaufen", Type: items.TypeAction, Bucket: items.BucketNext},
		{ID: "2", Name: "Umzug", Type: items.TypeProject, Bucket: items.BucketProject},
		{ID: "3", Name: "Idee", Type: items.TypeThing, Bucket: items.BucketInbox},
		{
			ID:          "4",
			Name:        "Steuer",
			Type:        items.TypeAction,
			Bucket:      items.BucketNext,
			Completed:   true,
			CompletedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func setupEngine(t *testing.T) (*Engine, *fakeRemote, cache.Store) {
	t.Helper()
	remote := newFakeRemote(seedItems()...)
	store := cache.NewMemoryStore()
	engine := NewEngine(store, remote)
	require.NoError(t, engine.Refresh(context.Background()))
	return engine, remote, store
}

func cached(t *testing.T, engine *Engine) map[items.Partition]items.Collection {
	t.Helper()
	out := map[items.Partition]items.Collection{}
	for _, p := range items.Partitions {
		c, err := engine.Items(context.Background(), p)
		require.NoError(t, err)
		out[p] = c
	}
	return out
}

func find(t *testing.T, engine *Engine, id string) items.Item {
	t.Helper()
	it, err := engine.Find(context.Background(), id)
	require.NoError(t, err)
	return it
}

func TestRun_NotFoundLeavesCacheUnchanged(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	before := cached(t, engine)

	_, err := engine.ToggleFocus(context.Background(), "missing")

	require.ErrorIs(t, err, ErrNotFound)
	var nf NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, before, cached(t, engine))
	assert.Empty(t, remote.patches)
}

func TestRun_FailureRestoresSnapshot(t *testing.T) {
	for _, listFails := range []bool{false, true} {
		engine, remote, _ := setupEngine(t)
		before := cached(t, engine)

		boom := errors.New("backend unavailable")
		remote.patchErr["1"] = boom
		if listFails {
			remote.setListErr(errors.New("backend unavailable"))
		}

		_, err := engine.Complete(context.Background(), "1")

		require.ErrorIs(t, err, boom)
		assert.Equal(t, before, cached(t, engine), "list fails: %v", listFails)
	}
}

func TestRun_OptimisticValueIsVisibleBeforeServerAnswers(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	release := remote.hold("1")

	done := make(chan error)
	go func() {
		_, err := engine.ToggleFocus(context.Background(), "1")
		done <- err
	}()
	<-remote.started

	assert.True(t, find(t, engine, "1").IsFocused)
	release()
	require.NoError(t, <-done)
	assert.True(t, find(t, engine, "1").IsFocused)
}

func TestToggleFocus_TwiceRestoresOriginal(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	first, err := engine.ToggleFocus(ctx, "1")
	require.NoError(t, err)
	assert.True(t, first.IsFocused)

	second, err := engine.ToggleFocus(ctx, "1")
	require.NoError(t, err)
	assert.False(t, second.IsFocused)
	assert.False(t, find(t, engine, "1").IsFocused)
}

func TestMove_PromotesTypeOnlyWhenRequired(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		bucket   items.Bucket
		wantType items.Type
		promoted bool
	}{
		{name: "thing to next becomes action", id: "3", bucket: items.BucketNext, wantType: items.TypeAction, promoted: true},
		{name: "thing to reference becomes reference", id: "3", bucket: items.BucketReference, wantType: items.TypeReference, promoted: true},
		{name: "action to waiting stays action", id: "1", bucket: items.BucketWaiting, wantType: items.TypeAction},
		{name: "project to someday stays project", id: "2", bucket: items.BucketSomeday, wantType: items.TypeProject},
		{name: "back to inbox keeps type", id: "1", bucket: items.BucketInbox, wantType: items.TypeAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, remote, _ := setupEngine(t)

			moved, err := engine.Move(context.Background(), tt.id, tt.bucket)
			require.NoError(t, err)

			assert.Equal(t, tt.bucket, moved.Bucket)
			assert.Equal(t, tt.wantType, moved.Type)
			assert.Equal(t, tt.wantType, find(t, engine, tt.id).Type)
			require.Len(t, remote.patches, 1)
			assert.Equal(t, tt.promoted, remote.patches[0].Type != nil)
		})
	}
}

func TestMove_UnknownBucket(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	_, err := engine.Move(context.Background(), "1", items.Bucket("nowhere"))
	assert.Error(t, err)
	assert.Empty(t, remote.patches)
}

func TestTriage_FilesUnderProject(t *testing.T) {
	engine, remote, _ := setupEngine(t)

	triaged, err := engine.Triage(context.Background(), "3", TriageDecision{Bucket: items.BucketNext, ProjectID: "2"})
	require.NoError(t, err)

	assert.Equal(t, items.TypeAction, triaged.Type)
	assert.Equal(t, "2", triaged.ProjectID)
	require.Len(t, remote.patches, 1)
	require.NotNil(t, remote.patches[0].ProjectID)
	assert.Equal(t, "2", *remote.patches[0].ProjectID)
}

func TestCompleteAndUncomplete_MoveBetweenPartitions(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.Complete(ctx, "1")
	require.NoError(t, err)
	parts := cached(t, engine)
	_, inActive := parts[items.PartitionActive].Find("1")
	done, inCompleted := parts[items.PartitionCompleted].Find("1")
	assert.False(t, inActive)
	require.True(t, inCompleted)
	assert.False(t, done.CompletedAt.IsZero())

	reopened, err := engine.Uncomplete(ctx, "4")
	require.NoError(t, err)
	assert.False(t, reopened.Completed)
	assert.True(t, reopened.CompletedAt.IsZero())
	_, ok := cached(t, engine)[items.PartitionActive].Find("4")
	assert.True(t, ok)
}

func TestUpdate(t *testing.T) {
	engine, _, _ := setupEngine(t)
	name := "Kartons besorgen"

	updated, err := engine.Update(context.Background(), "1", items.Patch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, name, find(t, engine, "1").Name)
}

func TestArchive(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Archive(ctx, "1"))
	_, err := engine.Find(ctx, "1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = engine.Archive(ctx, "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_FailureRestoresItem(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	before := cached(t, engine)
	remote.setListErr(errors.New("offline"))

	// MemoryRemote rejects unknown ids, so archive an item the server has already forgotten
	require.NoError(t, remote.MemoryRemote.Archive(context.Background(), "2"))

	err := engine.Archive(context.Background(), "2")
	require.ErrorIs(t, err, items.ErrNoSuchItem)
	assert.Equal(t, before, cached(t, engine))
}

func TestCreate_PromotesTemporaryID(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	release := remote.hold("create")

	created := make(chan items.Item)
	go func() {
		it, err := engine.Create(context.Background(), items.Draft{Name: "Neu", Type: items.TypeAction, Bucket: items.BucketNext})
		assert.NoError(t, err)
		created <- it
	}()
	<-remote.started

	var tempID string
	for _, it := range cached(t, engine)[items.PartitionActive] {
		if items.IsTempID(it.ID) {
			tempID = it.ID
		}
	}
	require.NotEmpty(t, tempID, "the new item is visible under a temporary id")
	_, promoted := engine.PromotedID(tempID)
	assert.False(t, promoted)

	// A mutation against the temporary id waits for the server id
	toggled := make(chan items.Item)
	go func() {
		it, err := engine.ToggleFocus(context.Background(), tempID)
		assert.NoError(t, err)
		toggled <- it
	}()

	release()
	it := <-created
	assert.Equal(t, "item-5", it.ID)
	focused := <-toggled
	assert.Equal(t, "item-5", focused.ID)
	assert.True(t, focused.IsFocused)

	realID, promoted := engine.PromotedID(tempID)
	assert.True(t, promoted)
	assert.Equal(t, "item-5", realID)
	for _, c := range cached(t, engine) {
		for _, it := range c {
			assert.False(t, items.IsTempID(it.ID))
		}
	}
}

func TestCreate_FailedPromotion(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	before := cached(t, engine)
	remote.createErr = errors.New("quota exceeded")
	release := remote.hold("create")

	createErr := make(chan error)
	go func() {
		_, err := engine.Create(context.Background(), items.Draft{Name: "Neu"})
		createErr <- err
	}()
	<-remote.started

	var tempID string
	for _, it := range cached(t, engine)[items.PartitionActive] {
		if items.IsTempID(it.ID) {
			tempID = it.ID
		}
	}
	require.NotEmpty(t, tempID)

	waitErr := make(chan error)
	go func() {
		_, err := engine.ToggleFocus(context.Background(), tempID)
		waitErr <- err
	}()

	release()
	assert.Error(t, <-createErr)
	assert.ErrorIs(t, <-waitErr, ErrPromotionFailed)
	assert.Equal(t, before, cached(t, engine))
}

func TestRun_UnknownTemporaryID(t *testing.T) {
	engine, _, _ := setupEngine(t)
	_, err := engine.ToggleFocus(context.Background(), items.NewTempID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRun_RollbackKeepsSiblingMutation(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	// Keep refreshes from repairing the cache so only the rollback itself is observed
	remote.setListErr(errors.New("offline"))
	remote.patchErr["1"] = errors.New("conflict")
	release := remote.hold("1")

	failed := make(chan error)
	go func() {
		name := "wird scheitern"
		_, err := engine.Update(context.Background(), "1", items.Patch{Name: &name})
		failed <- err
	}()
	<-remote.started
	assert.Equal(t, "wird scheitern", find(t, engine, "1").Name)

	// A sibling in the same partition settles while the first mutation is still pending
	_, err := engine.ToggleFocus(context.Background(), "3")
	require.NoError(t, err)

	release()
	require.Error(t, <-failed)

	assert.Equal(t, "Kartons kaufen", find(t, engine, "1").Name)
	assert.True(t, find(t, engine, "3").IsFocused, "the sibling's change survives the rollback")

	active := cached(t, engine)[items.PartitionActive]
	assert.Equal(t, []string{"1", "2", "3"}, ids(active), "the rolled back item keeps its position")
}

func TestRefresh_KeepsPendingDeltas(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	release := remote.hold("1")

	done := make(chan error)
	go func() {
		_, err := engine.ToggleFocus(context.Background(), "1")
		done <- err
	}()
	<-remote.started

	// The server does not know about the toggle yet, the cache must still show it
	require.NoError(t, engine.Refresh(context.Background()))
	assert.True(t, find(t, engine, "1").IsFocused)

	release()
	require.NoError(t, <-done)
	require.NoError(t, engine.Refresh(context.Background()))
	assert.True(t, find(t, engine, "1").IsFocused)
}

func TestRefresh_ReplacesWithServerTruth(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	_, err := remote.MemoryRemote.Create(context.Background(), items.Draft{Name: "Vom Server"})
	require.NoError(t, err)

	engine.RefreshAll(context.Background())

	it := find(t, engine, "item-5")
	assert.Equal(t, "Vom Server", it.Name)
}

func TestRefresh_DuringToggleKeepsPredictedValue(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	ctx := context.Background()
	release := remote.hold("1")

	done := make(chan items.Item)
	go func() {
		it, err := engine.ToggleFocus(ctx, "1")
		assert.NoError(t, err)
		done <- it
	}()
	<-remote.started

	// The server has already applied the toggle, together with an unrelated rename
	focused := true
	name := "Kartons besorgen"
	_, err := remote.MemoryRemote.Patch(ctx, "1", items.Patch{IsFocused: &focused, Name: &name})
	require.NoError(t, err)

	require.NoError(t, engine.Refresh(ctx))
	it := find(t, engine, "1")
	assert.True(t, it.IsFocused, "a refresh must not toggle the pending change a second time")
	assert.Equal(t, "Kartons besorgen", it.Name)

	release()
	assert.True(t, (<-done).IsFocused)
	assert.True(t, find(t, engine, "1").IsFocused)
}

// failingStore fails writes once setErr is set
type failingStore struct {
	cache.Store

	mu     sync.Mutex
	setErr error
}

func (fs *failingStore) fail(err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.setErr = err
}

func (fs *failingStore) Set(ctx context.Context, key string, value items.Collection) error {
	fs.mu.Lock()
	err := fs.setErr
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	return fs.Store.Set(ctx, key, value)
}

func TestCreate_CacheFailureReleasesWaiters(t *testing.T) {
	store := &failingStore{Store: cache.NewMemoryStore()}
	engine := NewEngine(store, newFakeRemote(seedItems()...))
	require.NoError(t, engine.Refresh(context.Background()))
	store.fail(errors.New("disk full"))

	_, err := engine.Create(context.Background(), items.Draft{Name: "Neu"})
	require.Error(t, err)

	engine.mu.Lock()
	var tempIDs []string
	for id := range engine.promotions {
		tempIDs = append(tempIDs, id)
	}
	engine.mu.Unlock()
	require.Len(t, tempIDs, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = engine.awaitPromotion(ctx, tempIDs[0])
	assert.ErrorIs(t, err, ErrPromotionFailed)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreate_SettledPromotionsAreBounded(t *testing.T) {
	engine, _, _ := setupEngine(t)
	for i := 0; i < maxResolvedPromotions+10; i++ {
		_, err := engine.Create(context.Background(), items.Draft{Name: "Neu"})
		require.NoError(t, err)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Len(t, engine.promotions, maxResolvedPromotions)
	assert.Len(t, engine.resolved, maxResolvedPromotions)
}

func TestRun_RefreshesPartitionTheServerChose(t *testing.T) {
	engine, remote, _ := setupEngine(t)
	ctx := context.Background()

	// Another client completes item 3; the cache has not seen it yet
	done := true
	_, err := remote.MemoryRemote.Patch(ctx, "3", items.Patch{Completed: &done})
	require.NoError(t, err)

	// A rename that the server also takes as a completion
	_, err = engine.Run(ctx, Mutation{
		Name: "rename",
		ID:   "1",
		Predict: func(current items.Item) (items.Item, bool) {
			current.Name = "Kartons gekauft"
			return current, true
		},
		Remote: func(ctx context.Context, current, _ items.Item) (*items.Item, error) {
			name := "Kartons gekauft"
			it, err := remote.MemoryRemote.Patch(ctx, current.ID, items.Patch{Name: &name, Completed: &done})
			if err != nil {
				return nil, err
			}
			return &it, nil
		},
	})
	require.NoError(t, err)

	parts := cached(t, engine)
	assert.ElementsMatch(t, []string{"1", "3", "4"}, ids(parts[items.PartitionCompleted]))
	assert.ElementsMatch(t, []string{"2"}, ids(parts[items.PartitionActive]))
}

func ids(c items.Collection) []string {
	out := make([]string, 0, len(c))
	for _, it := range c {
		out = append(out, it.ID)
	}
	return out
}
