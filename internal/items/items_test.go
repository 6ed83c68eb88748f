package items

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketRequiredType(t *testing.T) {
	tests := []struct {
		name        string
		bucket      Bucket
		current     Type
		want        Type
		wantPromote bool
	}{
		{"inbox thing to next", BucketNext, TypeThing, TypeAction, true},
		{"action stays action", BucketWaiting, TypeAction, TypeAction, false},
		{"thing to reference", BucketReference, TypeThing, TypeReference, true},
		{"project to someday keeps project", BucketSomeday, TypeProject, TypeProject, false},
		{"thing to someday", BucketSomeday, TypeThing, TypeAction, true},
		{"back to inbox never promotes", BucketInbox, TypeAction, TypeAction, false},
		{"reference to project bucket", BucketProject, TypeReference, TypeProject, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, promote := tt.bucket.RequiredType(tt.current)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantPromote, promote)
		})
	}
}

func TestTempID(t *testing.T) {
	id := NewTempID()
	assert.True(t, IsTempID(id))
	assert.NotEqual(t, id, NewTempID())
	assert.False(t, IsTempID("item-1"))
}

func TestCollection_CopyOnWrite(t *testing.T) {
	orig := Collection{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}

	replaced := orig.Replace("a", Item{ID: "a", Name: "changed"})
	removed := orig.Remove("b")
	upserted := orig.Upsert(Item{ID: "c", Name: "C"})

	require.Equal(t, "A", orig[0].Name)
	require.Len(t, orig, 2)
	assert.Equal(t, "changed", replaced[0].Name)
	assert.Len(t, removed, 1)
	assert.Len(t, upserted, 3)
	assert.True(t, orig.Equal(orig.Clone()))
	assert.False(t, orig.Equal(replaced))
}

func TestPatch_ApplyToCompletion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := true
	undone := false

	it := Item{ID: "a", Name: "A"}
	completed := Patch{Completed: &done}.ApplyTo(it, now)
	require.True(t, completed.Completed)
	require.True(t, completed.CompletedAt.Equal(now))
	require.Equal(t, PartitionCompleted, completed.Partition())

	reopened := Patch{Completed: &undone}.ApplyTo(completed, now.Add(time.Hour))
	assert.False(t, reopened.Completed)
	assert.True(t, reopened.CompletedAt.IsZero())
	assert.Equal(t, PartitionActive, reopened.Partition())
}

func TestMemoryRemote_Lifecycle(t *testing.T) {
	ctx := context.Background()
	mr := NewMemoryRemote(Item{ID: "item-1", Name: "existing", Type: TypeThing, Bucket: BucketInbox})

	created, err := mr.Create(ctx, Draft{Name: "new", Type: TypeAction, Bucket: BucketNext})
	require.NoError(t, err)
	require.Equal(t, "item-2", created.ID)

	done := true
	_, err = mr.Patch(ctx, created.ID, Patch{Completed: &done})
	require.NoError(t, err)

	active, err := mr.List(ctx, PartitionActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	completed, err := mr.List(ctx, PartitionCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	require.NoError(t, mr.Archive(ctx, "item-1"))
	err = mr.Archive(ctx, "item-1")
	require.ErrorIs(t, err, ErrNoSuchItem)
}
