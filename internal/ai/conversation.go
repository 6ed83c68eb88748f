// Package ai runs the assistant on Anthropic's API and translates its output into the assistant event stream.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
)

// Conversation is the model-side history of one chat conversation
type Conversation struct {
	client anthropic.Client

	model        anthropic.Model
	systemPrompt string
	tools        []anthropic.ToolParam
	Messages     []conversationTurn

	maxOutputTokens int64 // Maximum number of output tokens per response
	tokenLimit      int64 // When to start dropping old turns

	// Turns must alternate, so exchanges in the same conversation take turns
	mu sync.Mutex
}

// conversationTurn is a pair of messages: a user message, and an optional assistant response
type conversationTurn struct {
	UserMessage anthropic.MessageParam
	Response    *anthropic.Message // May be nil
}

func NewConversation(
	anthropicClient anthropic.Client,
	model anthropic.Model,
	maxOutputTokens int64,
	tools []anthropic.ToolParam,
	systemPrompt string,
) *Conversation {
	return &Conversation{
		client: anthropicClient,

		model:        model,
		systemPrompt: systemPrompt,
		tools:        tools,

		maxOutputTokens: maxOutputTokens,
		tokenLimit:      100000, // 100k token limit
	}
}

// stream sends a user message and streams the response. onText is called with every text delta as it arrives; an
// error from onText aborts the stream.
func (cc *Conversation) stream(ctx context.Context, onText func(string) error, messageContent ...anthropic.ContentBlockParamUnion) (*anthropic.Message, error) {
	if cc.NeedsTrimming() {
		cc.Trim()
	}

	cc.Messages = append(cc.Messages, conversationTurn{
		UserMessage: anthropic.NewUserMessage(messageContent...),
	})

	params := anthropic.MessageNewParams{
		Model:     cc.model,
		MaxTokens: cc.maxOutputTokens,
		System: []anthropic.TextBlockParam{
			{Text: cc.systemPrompt},
		},
		Messages: cc.messageParams(),
	}

	toolParams := []anthropic.ToolUnionParam{}
	for _, tool := range cc.tools {
		toolParams = append(toolParams, anthropic.ToolUnionParam{
			OfTool: &tool,
		})
	}
	params.Tools = toolParams

	stream := cc.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()
	response := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		err := response.Accumulate(event)
		if err != nil {
			cc.dropLastTurn()
			return nil, fmt.Errorf("failed to accumulate response content stream: %w", err)
		}
		if text, ok := textDelta(event); ok {
			if err := onText(text); err != nil {
				cc.dropLastTurn()
				return nil, fmt.Errorf("failed to forward text delta: %w", err)
			}
		}
	}
	if stream.Err() != nil {
		cc.dropLastTurn()
		return nil, fmt.Errorf("failed to stream response: %w", stream.Err())
	}
	if response.StopReason == "" {
		cc.dropLastTurn()
		b, err := json.Marshal(response)
		if err != nil {
			log.Printf("error while marshalling corrupt message for inspection: %v", err)
		}
		return nil, fmt.Errorf("malformed message: %v", string(b))
	}

	log.Printf("Token usage - Input: %d, Cache create: %d, Cache read: %d, Output: %d",
		response.Usage.InputTokens,
		response.Usage.CacheCreationInputTokens,
		response.Usage.CacheReadInputTokens,
		response.Usage.OutputTokens,
	)

	// Record the response
	cc.Messages[len(cc.Messages)-1].Response = &response
	return &response, nil
}

func (cc *Conversation) messageParams() []anthropic.MessageParam {
	params := []anthropic.MessageParam{}
	for _, turn := range cc.Messages {
		params = append(params, turn.UserMessage)
		if turn.Response != nil {
			params = append(params, historyParam(*turn.Response))
		}
	}
	return params
}

// dropLastTurn forgets a user message whose response failed, so that the history keeps alternating
func (cc *Conversation) dropLastTurn() {
	if n := len(cc.Messages); n > 0 && cc.Messages[n-1].Response == nil {
		cc.Messages = cc.Messages[:n-1]
	}
}

// NeedsTrimming checks if the conversation has grown past its token limit
func (cc *Conversation) NeedsTrimming() bool {
	if len(cc.Messages) == 0 {
		return false
	}

	// Get the most recent response
	lastMessage := cc.Messages[len(cc.Messages)-1]
	if lastMessage.Response == nil {
		return false
	}

	// Check token usage from the most recent turn (which includes cumulative history)
	// Include cache create tokens as they contribute to context size
	totalTokens := lastMessage.Response.Usage.InputTokens +
		lastMessage.Response.Usage.CacheReadInputTokens +
		lastMessage.Response.Usage.CacheCreationInputTokens
	return totalTokens > cc.tokenLimit
}

// Trim drops the older half of the conversation. Proposals are recorded in the history as text, so any turn can start
// the conversation.
func (cc *Conversation) Trim() {
	if len(cc.Messages) < 2 {
		return
	}
	keep := len(cc.Messages) / 2
	log.Printf("Conversation exceeds %d tokens, dropping %d of %d turns", cc.tokenLimit, len(cc.Messages)-keep, len(cc.Messages))
	cc.Messages = append([]conversationTurn(nil), cc.Messages[len(cc.Messages)-keep:]...)
}

// historyParam converts a response into the assistant message sent back with later requests. Tool calls become text
// notes: they were proposals shown to the user, not calls the model waits on.
func historyParam(response anthropic.Message) anthropic.MessageParam {
	var parts []string
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case anthropic.ToolUseBlock:
			parts = append(parts, fmt.Sprintf("[Proposed %s %s]", b.Name, string(b.Input)))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "[No response]")
	}
	return anthropic.NewAssistantMessage(anthropic.NewTextBlock(strings.Join(parts, "\n")))
}

func textDelta(event anthropic.MessageStreamEventUnion) (string, bool) {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return delta.Text, delta.Text != ""
		}
	}
	return "", false
}
