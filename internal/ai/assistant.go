package ai

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cchalm/gtd-copilot/internal/chat"
	"github.com/cchalm/gtd-copilot/internal/stream"
	"github.com/cchalm/gtd-copilot/internal/suggestion"
	"github.com/cchalm/gtd-copilot/internal/transport"
)

const defaultMaxOutputTokens = 4096

// DefaultModel is used when no model is configured
const DefaultModel = anthropic.ModelClaudeSonnet4_0

// Assistant answers chat submissions with Claude. It keeps one model-side conversation per conversation id.
type Assistant struct {
	client          anthropic.Client
	model           anthropic.Model
	maxOutputTokens int64
	locale          string
	now             func() time.Time

	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewAnthropicClient creates a client that retries rate limited requests
func NewAnthropicClient(apiKey string) anthropic.Client {
	retryingHTTPClient := &http.Client{
		Transport: transport.WithRetries(nil),
	}
	return anthropic.NewClient(
		option.WithHTTPClient(retryingHTTPClient),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(5),
	)
}

func NewAssistant(client anthropic.Client, model anthropic.Model, locale string) *Assistant {
	if model == "" {
		model = DefaultModel
	}
	return &Assistant{
		client:          client,
		model:           model,
		maxOutputTokens: defaultMaxOutputTokens,
		locale:          locale,
		now:             time.Now,
		conversations:   map[string]*Conversation{},
	}
}

func (a *Assistant) conversation(id string) (*Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if conv, ok := a.conversations[id]; ok {
		return conv, nil
	}
	prompt, err := SystemPrompt(a.locale, a.now())
	if err != nil {
		return nil, err
	}
	conv := NewConversation(a.client, a.model, a.maxOutputTokens, ToolParams(), prompt)
	a.conversations[id] = conv
	return conv, nil
}

// Submit streams the model's answer to req as assistant events. Text is forwarded as it is generated; tool calls
// follow once the response is complete, then done. A failure of the model call fails the returned stream.
func (a *Assistant) Submit(ctx context.Context, req chat.SubmitRequest) (io.ReadCloser, error) {
	conv, err := a.conversation(req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to start conversation: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		conv.mu.Lock()
		defer conv.mu.Unlock()

		response, err := conv.stream(ctx, func(text string) error {
			return writeEvent(pw, stream.Event{Type: stream.EventTextDelta, Content: text})
		}, anthropic.NewTextBlock(userText(req)))
		if err != nil {
			log.Printf("Assistant response for conversation %s failed: %v", req.ConversationID, err)
			pw.CloseWithError(err)
			return
		}

		for _, ev := range responseEvents(*response) {
			if err := writeEvent(pw, ev); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()
	return pr, nil
}

func writeEvent(w io.Writer, ev stream.Event) error {
	b, err := stream.Encode(ev)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// responseEvents returns the events that follow the streamed text of a complete response
func responseEvents(response anthropic.Message) []stream.Event {
	var calls []stream.ToolCall
	for _, block := range response.Content {
		if toolUse, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			calls = append(calls, stream.ToolCall{Name: toolUse.Name, Arguments: toolUse.Input})
		}
	}

	var events []stream.Event
	if len(calls) > 0 {
		events = append(events, stream.Event{Type: stream.EventToolCalls, ToolCalls: calls})
	}
	return append(events, stream.Event{Type: stream.EventDone})
}

// userText prefixes the user's message with the client context it was sent from
func userText(req chat.SubmitRequest) string {
	if len(req.Context) == 0 {
		return req.Text
	}
	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("<context>\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, req.Context[k])
	}
	sb.WriteString("</context>\n\n")
	sb.WriteString(req.Text)
	return sb.String()
}

// ToolParams describes every proposal tool to the model
func ToolParams() []anthropic.ToolParam {
	specs := suggestion.Tools()
	params := make([]anthropic.ToolParam, 0, len(specs))
	for _, spec := range specs {
		params = append(params, anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: spec.Properties,
				Required:   spec.Required,
			},
		})
	}
	return params
}
