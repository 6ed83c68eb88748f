package suggestion

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cchalm/gtd-copilot/internal/stream"
)

// ErrUnknownTool is returned for tool calls that map to no suggestion kind
var ErrUnknownTool error = fmt.Errorf("unknown tool")

// ToolSpec describes a proposal tool to the model: its name, what it does, and a JSON schema of its arguments
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

type tool struct {
	spec   ToolSpec
	decode func(args json.RawMessage) (Suggestion, error)
}

// registry maps tool names to their spec and argument decoder
var registry = map[Kind]tool{}

func register(kind Kind, spec ToolSpec, decode func(args json.RawMessage) (Suggestion, error)) {
	spec.Name = string(kind)
	registry[kind] = tool{spec: spec, decode: decode}
}

// Tools returns the specs of every proposal tool, sorted by name
func Tools() []ToolSpec {
	specs := make([]ToolSpec, 0, len(registry))
	for _, t := range registry {
		specs = append(specs, t.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// FromToolCall converts a tool call into a suggestion. Calls to unknown tools fail with ErrUnknownTool.
func FromToolCall(call stream.ToolCall) (Suggestion, error) {
	t, ok := registry[Kind(call.Name)]
	if !ok {
		return Suggestion{}, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	s, err := t.decode(args)
	if err != nil {
		return Suggestion{}, fmt.Errorf("failed to parse arguments of %s: %w", call.Name, err)
	}
	return s, nil
}

func decodeInto[T any](args json.RawMessage, validate func(*T) error) (*T, error) {
	var v T
	if err := json.Unmarshal(args, &v); err != nil {
		return nil, err
	}
	if err := validate(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

var nameProperty = map[string]any{
	"type":        "string",
	"description": "Short title as it should appear in the list",
}

func init() {
	register(KindCreateProject, ToolSpec{
		Description: "Propose a new project together with its first actions and any supporting documents",
		Properties: map[string]any{
			"name": nameProperty,
			"desiredOutcome": map[string]any{
				"type":        "string",
				"description": "What done looks like for this project",
			},
			"actions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":   nameProperty,
						"bucket": map[string]any{"type": "string", "enum": []string{"next", "waiting", "calendar", "someday"}},
					},
					"required": []string{"name"},
				},
			},
			"documents": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        nameProperty,
						"description": map[string]any{"type": "string"},
						"url":         map[string]any{"type": "string"},
					},
					"required": []string{"name"},
				},
			},
		},
		Required: []string{"name"},
	}, func(args json.RawMessage) (Suggestion, error) {
		p, err := decodeInto(args, func(p *ProjectProposal) error {
			if err := requireName(p.Name); err != nil {
				return err
			}
			for i, a := range p.Actions {
				if err := requireName(a.Name); err != nil {
					return fmt.Errorf("action %d: %w", i, err)
				}
			}
			for i, d := range p.Documents {
				if err := requireName(d.Name); err != nil {
					return fmt.Errorf("document %d: %w", i, err)
				}
			}
			return nil
		})
		if err != nil {
			return Suggestion{}, err
		}
		return Suggestion{Kind: KindCreateProject, Project: p}, nil
	})

	register(KindCreateAction, ToolSpec{
		Description: "Propose a single next action",
		Properties: map[string]any{
			"name":      nameProperty,
			"bucket":    map[string]any{"type": "string", "enum": []string{"next", "waiting", "calendar", "someday"}},
			"projectId": map[string]any{"type": "string", "description": "Id of the project the action belongs to"},
		},
		Required: []string{"name"},
	}, func(args json.RawMessage) (Suggestion, error) {
		a, err := decodeInto(args, func(a *ActionProposal) error { return requireName(a.Name) })
		if err != nil {
			return Suggestion{}, err
		}
		return Suggestion{Kind: KindCreateAction, Action: a}, nil
	})

	register(KindCreateReference, ToolSpec{
		Description: "Propose filing a piece of reference material",
		Properties: map[string]any{
			"name":        nameProperty,
			"description": map[string]any{"type": "string"},
			"url":         map[string]any{"type": "string"},
		},
		Required: []string{"name"},
	}, func(args json.RawMessage) (Suggestion, error) {
		r, err := decodeInto(args, func(r *ReferenceProposal) error { return requireName(r.Name) })
		if err != nil {
			return Suggestion{}, err
		}
		return Suggestion{Kind: KindCreateReference, Reference: r}, nil
	})

	register(KindRenderArtifact, ToolSpec{
		Description: "Propose rendering generated content into a document",
		Properties: map[string]any{
			"name":    nameProperty,
			"format":  map[string]any{"type": "string", "enum": []string{"markdown", "pdf"}},
			"content": map[string]any{"type": "string"},
		},
		Required: []string{"name", "content"},
	}, func(args json.RawMessage) (Suggestion, error) {
		a, err := decodeInto(args, func(a *ArtifactProposal) error { return requireName(a.Name) })
		if err != nil {
			return Suggestion{}, err
		}
		return Suggestion{Kind: KindRenderArtifact, Artifact: a}, nil
	})

	register(KindCommand, ToolSpec{
		Description: "Propose a raw command for the item command interpreter",
		Properties: map[string]any{
			"command": map[string]any{"type": "string"},
		},
		Required: []string{"command"},
	}, func(args json.RawMessage) (Suggestion, error) {
		c, err := decodeInto(args, func(c *CommandProposal) error {
			if strings.TrimSpace(c.Command) == "" {
				return fmt.Errorf("command is required")
			}
			return nil
		})
		if err != nil {
			return Suggestion{}, err
		}
		return Suggestion{Kind: KindCommand, Command: c}, nil
	})
}
