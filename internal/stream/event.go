// Package stream decodes the assistant's newline-delimited JSON event stream.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cchalm/gtd-copilot/internal/items"
)

// EventType discriminates stream events
type EventType string

const (
	EventTextDelta    EventType = "text_delta"
	EventToolCalls    EventType = "tool_calls"
	EventAutoExecuted EventType = "auto_executed"
	EventItemsChanged EventType = "items_changed"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// Terminal reports whether an event of this type ends an exchange
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventError
}

// ToolCall is a change the assistant proposes. Arguments is always a JSON object, even when the wire carried it as a
// JSON-encoded string.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Event is one decoded line of the stream. Only the fields of the event's type are set.
type Event struct {
	Type         EventType              `json:"type"`
	Content      string                 `json:"content,omitempty"`
	ToolCalls    []ToolCall             `json:"toolCalls,omitempty"`
	CreatedItems []items.CreatedItemRef `json:"createdItems,omitempty"`
	Text         string                 `json:"text,omitempty"`
	Detail       string                 `json:"detail,omitempty"`
}

// ParseEvent parses a single line. Blank lines, invalid JSON, and objects without a type are errors.
func ParseEvent(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, fmt.Errorf("empty line")
	}

	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("event has no type")
	}

	for i, call := range ev.ToolCalls {
		args, err := normalizeArguments(call.Arguments)
		if err != nil {
			return Event{}, fmt.Errorf("failed to read arguments of tool call %q: %w", call.Name, err)
		}
		ev.ToolCalls[i].Arguments = args
	}

	return ev, nil
}

// normalizeArguments unwraps arguments that were sent as a JSON string containing an object
func normalizeArguments(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("arguments string is not valid JSON")
	}
	return json.RawMessage(s), nil
}

// Encode renders an event as one stream line, including the trailing newline
func Encode(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return append(b, '\n'), nil
}
