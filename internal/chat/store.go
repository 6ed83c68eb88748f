package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
)

// History is the persisted form of a thread
type History struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// Snapshot returns the persistable state of the thread. Thinking placeholders are transient and left out, and
// half-streamed text is stored as final.
func (t *Thread) Snapshot() History {
	msgs := t.Messages()
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Kind == KindThinking {
			continue
		}
		m.Streaming = false
		out = append(out, m)
	}
	return History{ConversationID: t.conversationID, Messages: out}
}

// RestoreThread creates a thread from persisted history
func RestoreThread(h History) *Thread {
	return NewThread(h.ConversationID, h.Messages...)
}

// FileHistoryStore keeps one JSON file per conversation in a directory
type FileHistoryStore struct {
	dir string // The directory keys will be relative to
}

func NewFileHistoryStore(dir string) (FileHistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FileHistoryStore{}, fmt.Errorf("failed to create history directory: %w", err)
	}
	return FileHistoryStore{dir: dir}, nil
}

func (fhs FileHistoryStore) path(conversationID string) string {
	return path.Join(fhs.dir, conversationID+".json")
}

// Get returns the history stored for a conversation, or nil if there is none
func (fhs FileHistoryStore) Get(conversationID string) (*History, error) {
	b, err := os.ReadFile(fhs.path(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var value History
	if err := json.Unmarshal(b, &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return &value, nil
}

func (fhs FileHistoryStore) Set(value History) error {
	if value.ConversationID == "" {
		return fmt.Errorf("conversation history has no conversation id")
	}
	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := os.WriteFile(fhs.path(value.ConversationID), b, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (fhs FileHistoryStore) Delete(conversationID string) error {
	err := os.Remove(fhs.path(conversationID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
