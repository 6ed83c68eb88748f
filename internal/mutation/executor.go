package mutation

import (
	"context"
	"fmt"
	"log"

	"github.com/cchalm/gtd-copilot/internal/items"
	"github.com/cchalm/gtd-copilot/internal/suggestion"
)

// Executor carries out suggestions by creating items through the engine. Created items are reported parents first: a
// project, then its actions, then its documents.
type Executor struct {
	engine *Engine
}

func NewExecutor(engine *Engine) *Executor {
	return &Executor{engine: engine}
}

func (ex *Executor) Execute(ctx context.Context, s suggestion.Suggestion, conversationID string) ([]items.CreatedItemRef, error) {
	log.Printf("Executing %s suggestion from conversation %s", s.Kind, conversationID)
	if _, err := s.ToolCall(); err != nil {
		return nil, fmt.Errorf("invalid suggestion: %w", err)
	}

	switch s.Kind {
	case suggestion.KindCreateProject:
		return ex.createProject(ctx, *s.Project)
	case suggestion.KindCreateAction:
		a := s.Action
		return ex.create(ctx, nil, items.Draft{
			Name:      a.Name,
			Type:      items.TypeAction,
			Bucket:    bucketOr(a.Bucket, items.BucketNext),
			ProjectID: a.ProjectID,
		})
	case suggestion.KindCreateReference:
		return ex.create(ctx, nil, referenceDraft(*s.Reference, ""))
	case suggestion.KindRenderArtifact:
		a := s.Artifact
		return ex.create(ctx, nil, items.Draft{
			Name:        a.Name,
			Type:        items.TypeReference,
			Bucket:      items.BucketReference,
			Description: a.Content,
		})
	default:
		return nil, fmt.Errorf("%s suggestions can only be executed by the assistant backend", s.Kind)
	}
}

func (ex *Executor) createProject(ctx context.Context, p suggestion.ProjectProposal) ([]items.CreatedItemRef, error) {
	refs, err := ex.create(ctx, nil, items.Draft{
		Name:        p.Name,
		Type:        items.TypeProject,
		Bucket:      items.BucketProject,
		Description: p.DesiredOutcome,
	})
	if err != nil {
		return nil, err
	}
	projectID := refs[0].ID

	for _, a := range p.Actions {
		refs, err = ex.create(ctx, refs, items.Draft{
			Name:      a.Name,
			Type:      items.TypeAction,
			Bucket:    bucketOr(a.Bucket, items.BucketNext),
			ProjectID: projectID,
		})
		if err != nil {
			ex.undo(ctx, refs)
			return nil, err
		}
	}
	for _, d := range p.Documents {
		refs, err = ex.create(ctx, refs, referenceDraft(d, projectID))
		if err != nil {
			ex.undo(ctx, refs)
			return nil, err
		}
	}
	return refs, nil
}

// undo archives the items of a partially executed suggestion, children before their project
func (ex *Executor) undo(ctx context.Context, refs []items.CreatedItemRef) {
	ctx = context.WithoutCancel(ctx)
	for i := len(refs) - 1; i >= 0; i-- {
		if err := ex.engine.Archive(ctx, refs[i].ID); err != nil {
			log.Printf("Failed to archive %s %s of a failed suggestion: %v", refs[i].Type, refs[i].ID, err)
		}
	}
}

// create appends the ref of the created item to refs. On failure refs is returned unchanged.
func (ex *Executor) create(ctx context.Context, refs []items.CreatedItemRef, draft items.Draft) ([]items.CreatedItemRef, error) {
	created, err := ex.engine.Create(ctx, draft)
	if err != nil {
		return refs, fmt.Errorf("failed to create %s %q: %w", draft.Type, draft.Name, err)
	}
	return append(refs, created.Ref()), nil
}

func referenceDraft(r suggestion.ReferenceProposal, projectID string) items.Draft {
	return items.Draft{
		Name:        r.Name,
		Type:        items.TypeReference,
		Bucket:      items.BucketReference,
		ProjectID:   projectID,
		Description: r.Description,
		URL:         r.URL,
	}
}

func bucketOr(b, fallback items.Bucket) items.Bucket {
	if b == "" {
		return fallback
	}
	return b
}
