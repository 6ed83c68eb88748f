// Package items defines the task/reference records mirrored in the client cache.
package items

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the discriminant of an item. A freshly captured item is a Thing until it is triaged into something more
// specific.
type Type string

const (
	TypeThing     Type = "thing"
	TypeAction    Type = "action"
	TypeProject   Type = "project"
	TypeReference Type = "reference"
)

// Bucket is the GTD list an item lives in
type Bucket string

const (
	BucketInbox     Bucket = "inbox"
	BucketNext      Bucket = "next"
	BucketWaiting   Bucket = "waiting"
	BucketCalendar  Bucket = "calendar"
	BucketSomeday   Bucket = "someday"
	BucketReference Bucket = "reference"
	BucketProject   Bucket = "project"
)

// Valid reports whether b is one of the known buckets
func (b Bucket) Valid() bool {
	switch b {
	case BucketInbox, BucketNext, BucketWaiting, BucketCalendar, BucketSomeday, BucketReference, BucketProject:
		return true
	}
	return false
}

// RequiredType returns the type an item must carry to live in bucket b given its current type. The second return value
// is false when the bucket accepts the current type as is.
func (b Bucket) RequiredType(current Type) (Type, bool) {
	var want Type
	switch b {
	case BucketNext, BucketWaiting, BucketCalendar:
		want = TypeAction
	case BucketSomeday:
		// Projects can be deferred without losing their structure
		if current == TypeProject {
			return current, false
		}
		want = TypeAction
	case BucketReference:
		want = TypeReference
	case BucketProject:
		want = TypeProject
	default:
		return current, false
	}
	if want == current {
		return current, false
	}
	return want, true
}

// Partition is a coarse split of the item list. Each partition is cached under its own key.
type Partition string

const (
	PartitionActive    Partition = "active"
	PartitionCompleted Partition = "completed"
)

// Partitions lists every partition in lookup order
var Partitions = []Partition{PartitionActive, PartitionCompleted}

// Key returns the cache key of the partition
func (p Partition) Key() string {
	return "items:" + string(p)
}

// Item is a single task, project or reference
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        Type      `json:"type"`
	Bucket      Bucket    `json:"bucket"`
	IsFocused   bool      `json:"isFocused,omitempty"`
	Completed   bool      `json:"completed,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
	ProjectID   string    `json:"projectId,omitempty"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// Equal reports whether two items hold the same values. Times are compared with time.Time.Equal so that values
// survive a serialization round trip.
func (it Item) Equal(other Item) bool {
	return it.ID == other.ID &&
		it.Name == other.Name &&
		it.Type == other.Type &&
		it.Bucket == other.Bucket &&
		it.IsFocused == other.IsFocused &&
		it.Completed == other.Completed &&
		it.CompletedAt.Equal(other.CompletedAt) &&
		it.ProjectID == other.ProjectID &&
		it.Description == other.Description &&
		it.URL == other.URL &&
		it.UpdatedAt.Equal(other.UpdatedAt)
}

// Partition returns the partition the item belongs in
func (it Item) Partition() Partition {
	if it.Completed {
		return PartitionCompleted
	}
	return PartitionActive
}

// Ref returns a lightweight reference to the item
func (it Item) Ref() CreatedItemRef {
	return CreatedItemRef{
		ID:   it.ID,
		Name: it.Name,
		Type: it.Type.RefType(),
	}
}

// RefType maps an item type to the coarse type used in created-item references
func (t Type) RefType() RefType {
	switch t {
	case TypeProject:
		return RefProject
	case TypeReference:
		return RefReference
	default:
		return RefAction
	}
}

// RefType is the coarse type tag of a CreatedItemRef
type RefType string

const (
	RefProject   RefType = "project"
	RefAction    RefType = "action"
	RefReference RefType = "reference"
)

// CreatedItemRef points at an entity that a mutation or suggestion execution created
type CreatedItemRef struct {
	ID   string  `json:"canonical_id"`
	Name string  `json:"name"`
	Type RefType `json:"type"`
}

// Collection is the cached value of one partition
type Collection []Item

// Clone returns a copy that shares no backing array with c
func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	copy(out, c)
	return out
}

// Equal reports whether two collections hold equal items in the same order
func (c Collection) Equal(other Collection) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if !c[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Index returns the position of the item with the given id, or -1
func (c Collection) Index(id string) int {
	for i, it := range c {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// Find returns the item with the given id
func (c Collection) Find(id string) (Item, bool) {
	i := c.Index(id)
	if i < 0 {
		return Item{}, false
	}
	return c[i], true
}

// Replace returns a copy of c with the item carrying id replaced by it. If no item carries id, c is returned unchanged.
func (c Collection) Replace(id string, it Item) Collection {
	i := c.Index(id)
	if i < 0 {
		return c
	}
	out := c.Clone()
	out[i] = it
	return out
}

// Remove returns a copy of c without the item carrying id
func (c Collection) Remove(id string) Collection {
	i := c.Index(id)
	if i < 0 {
		return c
	}
	out := make(Collection, 0, len(c)-1)
	out = append(out, c[:i]...)
	return append(out, c[i+1:]...)
}

// Upsert returns a copy of c with it replacing the item of the same id, or appended when absent
func (c Collection) Upsert(it Item) Collection {
	if c.Index(it.ID) >= 0 {
		return c.Replace(it.ID, it)
	}
	out := make(Collection, 0, len(c)+1)
	out = append(out, c...)
	return append(out, it)
}

const tempIDPrefix = "temp-"

// NewTempID returns an identifier for an optimistically created item that the server has not acknowledged yet. It can
// never collide with a server-issued id.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
