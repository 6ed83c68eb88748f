package mutation

import (
	"context"
	"fmt"

	"github.com/cchalm/gtd-copilot/internal/items"
)

// Create adds an item. The item is visible in the cache under a temporary id until the server has issued the real one;
// mutations started against the temporary id in the meantime wait for that promotion.
func (e *Engine) Create(ctx context.Context, draft items.Draft) (items.Item, error) {
	if draft.Bucket != "" && !draft.Bucket.Valid() {
		return items.Item{}, fmt.Errorf("unknown bucket %q", draft.Bucket)
	}
	tempID := items.NewTempID()
	e.registerPromotion(tempID)

	return e.Run(ctx, Mutation{
		Name: "create",
		ID:   tempID,
		Predict: func(items.Item) (items.Item, bool) {
			return draft.Item(tempID, e.now()), true
		},
		Remote: func(ctx context.Context, _, _ items.Item) (*items.Item, error) {
			created, err := e.remote.Create(ctx, draft)
			if err != nil {
				return nil, err
			}
			return &created, nil
		},
		create: true,
	})
}

// Update applies a partial change to an item
func (e *Engine) Update(ctx context.Context, id string, patch items.Patch) (items.Item, error) {
	if patch.Empty() {
		return e.Find(ctx, id)
	}
	if patch.Bucket != nil && !patch.Bucket.Valid() {
		return items.Item{}, fmt.Errorf("unknown bucket %q", *patch.Bucket)
	}
	return e.Run(ctx, Mutation{
		Name: "update",
		ID:   id,
		Predict: func(current items.Item) (items.Item, bool) {
			return patch.ApplyTo(current, e.now()), true
		},
		Remote: e.patchRemote(func(_, _ items.Item) items.Patch { return patch }),
	})
}

// Move puts an item into another bucket, promoting its type when the bucket requires a different one
func (e *Engine) Move(ctx context.Context, id string, bucket items.Bucket) (items.Item, error) {
	return e.Triage(ctx, id, TriageDecision{Bucket: bucket})
}

// TriageDecision is where an inbox item goes
type TriageDecision struct {
	Bucket items.Bucket
	// ProjectID files the item under a project when set
	ProjectID string
}

// Triage files an item into a bucket, optionally under a project
func (e *Engine) Triage(ctx context.Context, id string, decision TriageDecision) (items.Item, error) {
	if !decision.Bucket.Valid() {
		return items.Item{}, fmt.Errorf("unknown bucket %q", decision.Bucket)
	}
	name := "triage"
	if decision.ProjectID == "" {
		name = "move"
	}
	return e.Run(ctx, Mutation{
		Name: name,
		ID:   id,
		Predict: func(current items.Item) (items.Item, bool) {
			next := current
			next.Bucket = decision.Bucket
			if typ, promote := decision.Bucket.RequiredType(current.Type); promote {
				next.Type = typ
			}
			if decision.ProjectID != "" {
				next.ProjectID = decision.ProjectID
			}
			return next, true
		},
		Remote: e.patchRemote(func(current, predicted items.Item) items.Patch {
			patch := items.Patch{Bucket: &predicted.Bucket}
			if predicted.Type != current.Type {
				patch.Type = &predicted.Type
			}
			if decision.ProjectID != "" {
				patch.ProjectID = &predicted.ProjectID
			}
			return patch
		}),
	})
}

// ToggleFocus flips the focus flag. The new value is computed from the cached value at the moment the mutation runs.
func (e *Engine) ToggleFocus(ctx context.Context, id string) (items.Item, error) {
	return e.Run(ctx, Mutation{
		Name: "toggle-focus",
		ID:   id,
		Predict: func(current items.Item) (items.Item, bool) {
			next := current
			next.IsFocused = !current.IsFocused
			return next, true
		},
		Remote: e.patchRemote(func(_, predicted items.Item) items.Patch {
			return items.Patch{IsFocused: &predicted.IsFocused}
		}),
	})
}

// Complete marks an item done, moving it to the completed partition
func (e *Engine) Complete(ctx context.Context, id string) (items.Item, error) {
	return e.setCompleted(ctx, "complete", id, true)
}

// Uncomplete reopens a completed item
func (e *Engine) Uncomplete(ctx context.Context, id string) (items.Item, error) {
	return e.setCompleted(ctx, "uncomplete", id, false)
}

func (e *Engine) setCompleted(ctx context.Context, name string, id string, completed bool) (items.Item, error) {
	patch := items.Patch{Completed: &completed}
	return e.Run(ctx, Mutation{
		Name: name,
		ID:   id,
		Predict: func(current items.Item) (items.Item, bool) {
			return patch.ApplyTo(current, e.now()), true
		},
		Remote: e.patchRemote(func(_, _ items.Item) items.Patch { return patch }),
	})
}

// Archive removes an item from every partition
func (e *Engine) Archive(ctx context.Context, id string) error {
	_, err := e.Run(ctx, Mutation{
		Name: "archive",
		ID:   id,
		Predict: func(current items.Item) (items.Item, bool) {
			return current, false
		},
		Remote: func(ctx context.Context, current, _ items.Item) (*items.Item, error) {
			return nil, e.remote.Archive(ctx, current.ID)
		},
	})
	return err
}

func (e *Engine) patchRemote(build func(current, predicted items.Item) items.Patch) func(context.Context, items.Item, items.Item) (*items.Item, error) {
	return func(ctx context.Context, current, predicted items.Item) (*items.Item, error) {
		updated, err := e.remote.Patch(ctx, current.ID, build(current, predicted))
		if err != nil {
			return nil, err
		}
		return &updated, nil
	}
}
