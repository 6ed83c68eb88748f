package chat

import "sync"

// Thread is the ordered message list of one conversation. The list is copy-on-write: every change builds a new slice,
// so a slice returned by Messages never changes afterwards and can be rendered without holding a lock.
type Thread struct {
	mu             sync.Mutex
	conversationID string
	messages       []Message
	loading        int
	subscribers    []func([]Message)
}

// NewThread creates a thread, optionally seeded with earlier messages
func NewThread(conversationID string, messages ...Message) *Thread {
	return &Thread{
		conversationID: conversationID,
		messages:       append([]Message(nil), messages...),
	}
}

// ConversationID returns the id of the conversation the thread belongs to
func (t *Thread) ConversationID() string {
	return t.conversationID
}

// Messages returns the current message list
func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messages
}

// Message returns the message with the given id
func (t *Thread) Message(id string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := indexOf(t.messages, id)
	if i < 0 {
		return Message{}, false
	}
	return t.messages[i], true
}

// Loading reports whether any exchange is still waiting for its terminal event
func (t *Thread) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading > 0
}

// Subscribe registers fn to be called with the new message list after every change
func (t *Thread) Subscribe(fn func([]Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, fn)
}

// mutate runs fn under the lock with the current list. If fn reports a change, its returned list is installed and
// subscribers are notified outside the lock.
func (t *Thread) mutate(fn func(msgs []Message) ([]Message, bool)) bool {
	t.mu.Lock()
	next, changed := fn(t.messages)
	if changed {
		t.messages = next
	}
	subscribers := t.subscribers
	t.mu.Unlock()

	if changed {
		for _, s := range subscribers {
			s(next)
		}
	}
	return changed
}

func (t *Thread) append(msgs ...Message) {
	t.mutate(func(cur []Message) ([]Message, bool) {
		next := make([]Message, 0, len(cur)+len(msgs))
		next = append(next, cur...)
		return append(next, msgs...), true
	})
}

// remove drops the message with the given id. It is a no-op when the message is already gone.
func (t *Thread) remove(id string) bool {
	if id == "" {
		return false
	}
	return t.mutate(func(cur []Message) ([]Message, bool) {
		i := indexOf(cur, id)
		if i < 0 {
			return cur, false
		}
		next := make([]Message, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		return append(next, cur[i+1:]...), true
	})
}

// replaceThenAppend atomically drops the message with removeID (if present) and appends msgs
func (t *Thread) replaceThenAppend(removeID string, msgs ...Message) {
	t.mutate(func(cur []Message) ([]Message, bool) {
		next := make([]Message, 0, len(cur)+len(msgs))
		for _, m := range cur {
			if removeID != "" && m.ID == removeID {
				continue
			}
			next = append(next, m)
		}
		return append(next, msgs...), true
	})
}

// update replaces the message with the given id by the copy fn returns. fn reports whether it changed anything; the
// return value of update is false when the message is absent or fn declined.
func (t *Thread) update(id string, fn func(Message) (Message, bool)) bool {
	return t.mutate(func(cur []Message) ([]Message, bool) {
		i := indexOf(cur, id)
		if i < 0 {
			return cur, false
		}
		updated, ok := fn(cur[i])
		if !ok {
			return cur, false
		}
		next := make([]Message, len(cur))
		copy(next, cur)
		next[i] = updated
		return next, true
	})
}

func (t *Thread) beginLoading() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading++
}

func (t *Thread) endLoading() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loading > 0 {
		t.loading--
	}
}

func indexOf(msgs []Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}
