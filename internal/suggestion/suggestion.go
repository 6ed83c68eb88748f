// Package suggestion models the changes the assistant proposes and how they are executed.
package suggestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cchalm/gtd-copilot/internal/items"
	"github.com/cchalm/gtd-copilot/internal/stream"
)

// Kind discriminates suggestion variants. The values double as the tool names the assistant calls.
type Kind string

const (
	KindCreateProject   Kind = "create_project_with_actions"
	KindCreateAction    Kind = "create_action"
	KindCreateReference Kind = "create_reference"
	KindRenderArtifact  Kind = "render_artifact"
	KindCommand         Kind = "run_command"
)

// ProjectProposal creates a project, its actions, and documents filed under it
type ProjectProposal struct {
	Name           string              `json:"name"`
	DesiredOutcome string              `json:"desiredOutcome,omitempty"`
	Actions        []ActionDraft       `json:"actions,omitempty"`
	Documents      []ReferenceProposal `json:"documents,omitempty"`
}

// ActionDraft is an action nested in a project proposal
type ActionDraft struct {
	Name   string       `json:"name"`
	Bucket items.Bucket `json:"bucket,omitempty"`
}

// ActionProposal creates a single action
type ActionProposal struct {
	Name      string       `json:"name"`
	Bucket    items.Bucket `json:"bucket,omitempty"`
	ProjectID string       `json:"projectId,omitempty"`
}

// ReferenceProposal creates a reference document
type ReferenceProposal struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ArtifactProposal renders content into a document
type ArtifactProposal struct {
	Name    string `json:"name"`
	Format  string `json:"format,omitempty"`
	Content string `json:"content"`
}

// CommandProposal is a raw command string for the backend's command interpreter
type CommandProposal struct {
	Command string `json:"command"`
}

// Suggestion is a tagged variant. Exactly the field matching Kind is set.
type Suggestion struct {
	Kind      Kind
	Project   *ProjectProposal
	Action    *ActionProposal
	Reference *ReferenceProposal
	Artifact  *ArtifactProposal
	Command   *CommandProposal
}

// payload returns the variant struct matching Kind
func (s Suggestion) payload() (any, error) {
	switch s.Kind {
	case KindCreateProject:
		if s.Project != nil {
			return s.Project, nil
		}
	case KindCreateAction:
		if s.Action != nil {
			return s.Action, nil
		}
	case KindCreateReference:
		if s.Reference != nil {
			return s.Reference, nil
		}
	case KindRenderArtifact:
		if s.Artifact != nil {
			return s.Artifact, nil
		}
	case KindCommand:
		if s.Command != nil {
			return s.Command, nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, s.Kind)
	}
	return nil, fmt.Errorf("suggestion of kind %s has no payload", s.Kind)
}

// ToolCall converts the suggestion back into the tool call it came from, for remote execution
func (s Suggestion) ToolCall() (stream.ToolCall, error) {
	p, err := s.payload()
	if err != nil {
		return stream.ToolCall{}, err
	}
	args, err := json.Marshal(p)
	if err != nil {
		return stream.ToolCall{}, fmt.Errorf("failed to marshal suggestion arguments: %w", err)
	}
	return stream.ToolCall{Name: string(s.Kind), Arguments: args}, nil
}

// Title is a short human-readable description of the proposed change
func (s Suggestion) Title() string {
	switch {
	case s.Project != nil:
		return s.Project.Name
	case s.Action != nil:
		return s.Action.Name
	case s.Reference != nil:
		return s.Reference.Name
	case s.Artifact != nil:
		return s.Artifact.Name
	case s.Command != nil:
		return s.Command.Command
	}
	return string(s.Kind)
}

func (s Suggestion) MarshalJSON() ([]byte, error) {
	call, err := s.ToolCall()
	if err != nil {
		return nil, err
	}
	return json.Marshal(call)
}

func (s *Suggestion) UnmarshalJSON(b []byte) error {
	var call stream.ToolCall
	if err := json.Unmarshal(b, &call); err != nil {
		return err
	}
	parsed, err := FromToolCall(call)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Executor performs the side effect a suggestion describes and returns the created items, parents first
type Executor interface {
	Execute(ctx context.Context, s Suggestion, conversationID string) ([]items.CreatedItemRef, error)
}

// RefreshingExecutor refreshes the read-side item cache after every successful execution
type RefreshingExecutor struct {
	Executor Executor
	Refresh  func(ctx context.Context)
}

func (re RefreshingExecutor) Execute(ctx context.Context, s Suggestion, conversationID string) ([]items.CreatedItemRef, error) {
	refs, err := re.Executor.Execute(ctx, s, conversationID)
	if err != nil {
		return nil, err
	}
	if re.Refresh != nil {
		re.Refresh(ctx)
	}
	return refs, nil
}
