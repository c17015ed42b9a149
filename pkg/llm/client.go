// Package llm abstracts the chat-completion provider behind a small client
// interface. The agent loop talks to Client; the OpenAI adapter in this
// package is the production implementation.
package llm

import (
	"context"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/tools"
)

// Request is one chat-completion call.
type Request struct {
	Model       string
	Messages    []models.Message
	Tools       []tools.Definition
	Temperature float32
	MaxTokens   int
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the assistant turn a completion produced. Parts preserves the
// interleaving of text, reasoning, and tool calls as the provider emitted
// them; Content and Reasoning are the concatenated conveniences.
type Response struct {
	Content      string
	Reasoning    string
	ToolCalls    []models.ToolCallRef
	Parts        []models.MessagePart
	FinishReason string
	Usage        Usage
}

// AssistantMessage renders the response as the persisted assistant message.
func (r *Response) AssistantMessage() models.Message {
	return models.Message{
		Role:      models.RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
		Parts:     r.Parts,
	}
}

// StreamEvent kinds.
const (
	StreamText          = "text"
	StreamReasoning     = "reasoning"
	StreamToolCallStart = "tool_call_start"
)

// StreamEvent is one incremental delta from a streaming completion. Text and
// reasoning events carry the delta fragment; tool_call_start fires once per
// tool call as soon as its name is known.
type StreamEvent struct {
	Kind       string
	Delta      string
	ToolCallID string
	ToolName   string
}

// Client is the provider contract. Stream invokes the callback for each
// delta in emission order and returns the fully accumulated response; the
// callback runs on the streaming goroutine and must not block.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error)
}
