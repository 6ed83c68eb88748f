package chat

import (
	"context"
	"io"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cchalm/gtd-copilot/internal/i18n"
	"github.com/cchalm/gtd-copilot/internal/stream"
	"github.com/cchalm/gtd-copilot/internal/suggestion"
	"github.com/cchalm/gtd-copilot/internal/telemetry"
)

// SubmitRequest is one user utterance sent to the assistant
type SubmitRequest struct {
	Text           string            `json:"message"`
	ConversationID string            `json:"conversationId"`
	Context        map[string]string `json:"context,omitempty"`
}

// Submitter sends an utterance to the assistant and returns its event stream. It fails before returning a stream when
// the request can't be delivered.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (io.ReadCloser, error)
}

// State is the position of an exchange in its lifecycle
type State string

const (
	StateOpened    State = "opened"
	StateThinking  State = "thinking"
	StateStreaming State = "streaming"
	StateClosed    State = "closed"
)

// Outcome is how a closed exchange ended
type Outcome string

const (
	OutcomeFinalized     Outcome = "finalized"
	OutcomeProposalOnly  Outcome = "proposal-only"
	OutcomeAutoConfirmed Outcome = "auto-confirmed"
	OutcomeErrored       Outcome = "errored"
	OutcomeEmpty         Outcome = "empty"
)

// Exchange is one user utterance and the assistant's response to it. Its fields are owned by the goroutine running
// Assembler.Send and must only be read after Send returns.
type Exchange struct {
	ID             string
	ConversationID string
	State          State
	Outcome        Outcome

	messageIDs  []string
	thinkingID  string
	streamingID string
	events      int
	proposals   int
	confirmed   bool
	terminal    bool
}

// MessageIDs returns the ids of the messages the exchange produced, in order. The thinking placeholder is not included
// once it has been removed.
func (ex *Exchange) MessageIDs() []string {
	return append([]string(nil), ex.messageIDs...)
}

// Assembler folds assistant event streams into a thread
type Assembler struct {
	thread         *Thread
	submitter      Submitter
	catalog        i18n.Catalog
	onItemsChanged func(ctx context.Context)
	now            func() time.Time
	newID          func() string
}

// Option configures an Assembler
type Option func(*Assembler)

// WithCatalog sets the locale used for error notices and confirmations
func WithCatalog(cat i18n.Catalog) Option {
	return func(a *Assembler) { a.catalog = cat }
}

// WithItemsChangedHook sets a function called whenever the assistant reports that items changed on the server
func WithItemsChangedHook(fn func(ctx context.Context)) Option {
	return func(a *Assembler) { a.onItemsChanged = fn }
}

// NewAssembler creates an assembler that appends to thread and submits through submitter
func NewAssembler(thread *Thread, submitter Submitter, opts ...Option) *Assembler {
	a := &Assembler{
		thread:    thread,
		submitter: submitter,
		catalog:   i18n.German,
		now:       time.Now,
		newID:     telemetry.NewMessageID,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Thread returns the thread the assembler writes to
func (a *Assembler) Thread() *Thread {
	return a.thread
}

// Send runs one exchange to completion: it appends the user's text and a thinking placeholder, submits the text,
// folds every event of the response into the thread, and closes the exchange. Failures end up as an error notice in
// the thread rather than as a return value. Sends may overlap; each exchange only ever touches its own messages.
func (a *Assembler) Send(ctx context.Context, text string, requestContext map[string]string) *Exchange {
	ex := a.open(text)

	ctx, span := telemetry.Tracer().Start(ctx, "chat.exchange", trace.WithAttributes(
		attribute.String("exchange.id", ex.ID),
		attribute.String("conversation.id", ex.ConversationID),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("exchange.outcome", string(ex.Outcome)),
			attribute.Int("exchange.events", ex.events),
		)
		span.End()
	}()
	// Loading must be cleared on every path out of Send
	defer a.close(ex)

	body, err := a.submitter.Submit(ctx, SubmitRequest{
		Text:           text,
		ConversationID: ex.ConversationID,
		Context:        requestContext,
	})
	if err != nil {
		log.Printf("Failed to submit exchange %s: %v", ex.ID, err)
		a.fail(ex, a.catalog.ConnectionError)
		return ex
	}

	err = stream.Decode(ctx, body, func(ev stream.Event) { a.apply(ctx, ex, ev) })
	switch {
	case err != nil && !ex.terminal:
		log.Printf("Event stream of exchange %s failed: %v", ex.ID, err)
		a.fail(ex, a.catalog.ConnectionError)
	case err != nil:
		log.Printf("Event stream of exchange %s failed after its terminal event: %v", ex.ID, err)
	case !ex.terminal:
		// The stream ended cleanly without done or error. Treat it as done with no final text.
		a.finish(ex, "")
	}
	return ex
}

func (a *Assembler) open(text string) *Exchange {
	ex := &Exchange{
		ID:             telemetry.NewExchangeID(),
		ConversationID: a.thread.ConversationID(),
		State:          StateOpened,
	}

	user := a.message(ex, KindUserText)
	user.Text = text
	thinking := a.message(ex, KindThinking)
	ex.thinkingID = thinking.ID
	ex.messageIDs = append(ex.messageIDs, user.ID)

	a.thread.beginLoading()
	a.thread.append(user, thinking)
	ex.State = StateThinking
	return ex
}

func (a *Assembler) close(ex *Exchange) {
	a.thread.remove(ex.thinkingID)
	if ex.Outcome == "" {
		switch {
		case ex.streamingID != "":
			ex.Outcome = OutcomeFinalized
		case ex.confirmed:
			ex.Outcome = OutcomeAutoConfirmed
		case ex.proposals > 0:
			ex.Outcome = OutcomeProposalOnly
		default:
			ex.Outcome = OutcomeEmpty
			log.Printf("Exchange %s ended after %d events without any visible response", ex.ID, ex.events)
		}
	}
	ex.State = StateClosed
	a.thread.endLoading()
}

func (a *Assembler) message(ex *Exchange, kind Kind) Message {
	return Message{
		ID:         a.newID(),
		ExchangeID: ex.ID,
		Kind:       kind,
		CreatedAt:  a.now(),
	}
}

// push appends msgs, removing the thinking placeholder in the same step when dropThinking is set
func (a *Assembler) push(ex *Exchange, dropThinking bool, msgs ...Message) {
	removeID := ""
	if dropThinking {
		removeID = ex.thinkingID
	}
	a.thread.replaceThenAppend(removeID, msgs...)
	for _, m := range msgs {
		ex.messageIDs = append(ex.messageIDs, m.ID)
	}
}

func (a *Assembler) apply(ctx context.Context, ex *Exchange, ev stream.Event) {
	if ex.terminal {
		log.Printf("Ignoring %s event after the end of exchange %s", ev.Type, ex.ID)
		return
	}
	ex.events++

	switch ev.Type {
	case stream.EventTextDelta:
		a.appendDelta(ex, ev.Content)

	case stream.EventToolCalls:
		var proposals []Message
		for _, call := range ev.ToolCalls {
			s, err := suggestion.FromToolCall(call)
			if err != nil {
				log.Printf("Skipping tool call in exchange %s: %v", ex.ID, err)
				continue
			}
			m := a.message(ex, KindProposal)
			m.Suggestion = &s
			m.Status = StatusPending
			proposals = append(proposals, m)
		}
		ex.proposals += len(proposals)
		if len(proposals) > 0 {
			a.push(ex, false, proposals...)
		}

	case stream.EventAutoExecuted:
		m := a.message(ex, KindConfirmation)
		m.Items = ev.CreatedItems
		m.Text = suggestion.Summarize(ev.CreatedItems, a.catalog)
		a.push(ex, true, m)
		ex.confirmed = true
		a.itemsChanged(ctx)

	case stream.EventItemsChanged:
		a.itemsChanged(ctx)

	case stream.EventDone:
		a.finish(ex, ev.Text)

	case stream.EventError:
		log.Printf("Assistant reported an error in exchange %s: %s", ex.ID, ev.Detail)
		a.fail(ex, userFacingError(ev.Detail, a.catalog))

	default:
		log.Printf("Ignoring unknown event type %q in exchange %s", ev.Type, ex.ID)
	}
}

func (a *Assembler) appendDelta(ex *Exchange, content string) {
	if content == "" {
		return
	}
	if ex.streamingID == "" {
		m := a.message(ex, KindAssistantText)
		m.Text = content
		m.Streaming = true
		ex.streamingID = m.ID
		ex.State = StateStreaming
		a.push(ex, true, m)
		return
	}
	a.thread.update(ex.streamingID, func(m Message) (Message, bool) {
		m.Text += content
		return m, true
	})
}

func (a *Assembler) stopStreaming(ex *Exchange) {
	if ex.streamingID == "" {
		return
	}
	a.thread.update(ex.streamingID, func(m Message) (Message, bool) {
		if !m.Streaming {
			return m, false
		}
		m.Streaming = false
		return m, true
	})
}

// finish handles a done event, or a stream that ended cleanly without one
func (a *Assembler) finish(ex *Exchange, finalText string) {
	ex.terminal = true
	if ex.streamingID != "" {
		a.stopStreaming(ex)
		return
	}
	if finalText != "" {
		m := a.message(ex, KindAssistantText)
		m.Text = finalText
		a.push(ex, true, m)
		ex.streamingID = m.ID
		return
	}
	a.thread.remove(ex.thinkingID)
}

func (a *Assembler) fail(ex *Exchange, text string) {
	ex.terminal = true
	ex.Outcome = OutcomeErrored
	a.stopStreaming(ex)
	m := a.message(ex, KindErrorNotice)
	m.Text = text
	a.push(ex, true, m)
}

func (a *Assembler) itemsChanged(ctx context.Context) {
	if a.onItemsChanged != nil {
		a.onItemsChanged(ctx)
	}
}
