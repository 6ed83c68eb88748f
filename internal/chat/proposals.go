package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cchalm/gtd-copilot/internal/i18n"
	"github.com/cchalm/gtd-copilot/internal/suggestion"
	"github.com/cchalm/gtd-copilot/internal/telemetry"
)

// Proposals moves proposal messages from pending to accepted or dismissed
type Proposals struct {
	thread   *Thread
	executor suggestion.Executor
	catalog  i18n.Catalog
	now      func() time.Time
	newID    func() string
}

// NewProposals creates a lifecycle manager for the proposals in thread
func NewProposals(thread *Thread, executor suggestion.Executor, cat i18n.Catalog) *Proposals {
	return &Proposals{
		thread:   thread,
		executor: executor,
		catalog:  cat,
		now:      time.Now,
		newID:    telemetry.NewMessageID,
	}
}

// Pending returns the proposal messages still awaiting a decision, in thread order
func (p *Proposals) Pending() []Message {
	var out []Message
	for _, m := range p.thread.Messages() {
		if m.Kind == KindProposal && m.Status == StatusPending {
			out = append(out, m)
		}
	}
	return out
}

// Accept executes the proposal with the given id. The proposal is marked accepted before execution starts, so a second
// Accept of the same proposal is a no-op instead of executing twice. Accepting a missing or already decided proposal
// is a no-op as well. On success a confirmation message is appended; on failure the proposal returns to pending and
// the error is returned.
func (p *Proposals) Accept(ctx context.Context, id string) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "chat.accept", trace.WithAttributes(
		attribute.String("message.id", id),
	))
	defer func() { telemetry.EndSpan(span, err) }()

	var claimed Message
	ok := p.thread.update(id, func(m Message) (Message, bool) {
		if m.Kind != KindProposal || m.Status != StatusPending || m.Suggestion == nil {
			return m, false
		}
		claimed = m
		m.Status = StatusAccepted
		return m, true
	})
	if !ok {
		log.Printf("Not accepting %s because it is not a pending proposal", id)
		return nil
	}
	span.SetAttributes(attribute.String("suggestion.kind", string(claimed.Suggestion.Kind)))

	refs, err := p.executor.Execute(ctx, *claimed.Suggestion, p.thread.ConversationID())
	if err != nil {
		log.Printf("Failed to execute %s proposal %s: %v", claimed.Suggestion.Kind, id, err)
		p.thread.update(id, func(m Message) (Message, bool) {
			if m.Status != StatusAccepted {
				return m, false
			}
			m.Status = StatusPending
			return m, true
		})
		return fmt.Errorf("failed to execute proposal: %w", err)
	}

	p.thread.append(Message{
		ID:         p.newID(),
		ExchangeID: claimed.ExchangeID,
		Kind:       KindConfirmation,
		Text:       suggestion.Summarize(refs, p.catalog),
		Items:      refs,
		CreatedAt:  p.now(),
	})
	return nil
}

// Dismiss marks a pending proposal dismissed without executing anything. It reports whether the proposal changed.
func (p *Proposals) Dismiss(id string) bool {
	return p.thread.update(id, func(m Message) (Message, bool) {
		if m.Kind != KindProposal || m.Status != StatusPending {
			return m, false
		}
		m.Status = StatusDismissed
		return m, true
	})
}
