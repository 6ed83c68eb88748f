// Package chat assembles the assistant conversation: the message list, the per-exchange state machine that folds
// stream events into it, and the lifecycle of proposed changes.
package chat

import (
	"time"

	"github.com/cchalm/gtd-copilot/internal/items"
	"github.com/cchalm/gtd-copilot/internal/suggestion"
)

// Kind discriminates messages
type Kind string

const (
	KindUserText      Kind = "user-text"
	KindAssistantText Kind = "assistant-text"
	KindThinking      Kind = "thinking"
	KindProposal      Kind = "proposal"
	KindConfirmation  Kind = "confirmation"
	KindErrorNotice   Kind = "error-notice"
)

// ProposalStatus is the decision state of a proposal message
type ProposalStatus string

const (
	StatusPending   ProposalStatus = "pending"
	StatusAccepted  ProposalStatus = "accepted"
	StatusDismissed ProposalStatus = "dismissed"
)

// Message is one entry of the conversation. Which fields are meaningful depends on Kind:
//   - user-text, assistant-text, error-notice: Text
//   - assistant-text: Streaming while deltas are still being appended
//   - proposal: Suggestion and Status
//   - confirmation: Text (the derived summary) and Items
//
// Messages are values. A change to a message replaces it in the thread with an updated copy.
type Message struct {
	ID         string                 `json:"id"`
	ExchangeID string                 `json:"exchangeId,omitempty"`
	Kind       Kind                   `json:"kind"`
	Text       string                 `json:"text,omitempty"`
	Streaming  bool                   `json:"streaming,omitempty"`
	Suggestion *suggestion.Suggestion `json:"suggestion,omitempty"`
	Status     ProposalStatus         `json:"status,omitempty"`
	Items      []items.CreatedItemRef `json:"items,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}
