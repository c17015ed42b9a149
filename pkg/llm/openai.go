package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomworks/loom/pkg/models"
)

// ChatClient captures the subset of the go-openai client used by the
// adapter. Narrowing the dependency keeps tests free of HTTP.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (
		*openai.ChatCompletionStream, error)
}

// OpenAIClient implements Client via the OpenAI Chat Completions API.
type OpenAIClient struct {
	chat  ChatClient
	model string
}

// NewOpenAIClient builds an adapter over an existing chat client.
func NewOpenAIClient(chat ChatClient, defaultModel string) (*OpenAIClient, error) {
	if chat == nil {
		return nil, errors.New("chat client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &OpenAIClient{chat: chat, model: defaultModel}, nil
}

// NewOpenAIClientFromConfig constructs a client from an API key and optional
// base URL (for OpenAI-compatible providers).
func NewOpenAIClientFromConfig(apiKey, baseURL, defaultModel string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewOpenAIClient(openai.NewClientWithConfig(cfg), defaultModel)
}

// Complete renders one non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	request, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("openai chat completion: no choices returned")
	}

	choice := response.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
			TotalTokens:  response.Usage.TotalTokens,
		},
	}
	if out.Reasoning != "" {
		out.Parts = append(out.Parts, models.MessagePart{Kind: models.PartReasoning, Content: out.Reasoning})
	}
	if out.Content != "" {
		out.Parts = append(out.Parts, models.MessagePart{Kind: models.PartText, Content: out.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		ref := models.ToolCallRef{
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
			Arguments:  json.RawMessage(call.Function.Arguments),
		}
		out.ToolCalls = append(out.ToolCalls, ref)
		out.Parts = append(out.Parts, models.MessagePart{Kind: models.PartToolCall, ToolCallID: call.ID})
	}
	return out, nil
}

// Stream renders one streaming chat completion, invoking onEvent per delta
// and returning the accumulated response.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error) {
	request, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	request.Stream = true

	stream, err := c.chat.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion stream: %w", err)
	}
	defer stream.Close()

	acc := newStreamAccumulator(onEvent)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai stream recv: %w", err)
		}
		acc.apply(chunk)
	}
	return acc.response(), nil
}

func (c *OpenAIClient) encodeRequest(req Request) (openai.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionRequest{}, errors.New("messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ToolCallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.ToolName,
					Arguments: string(call.Arguments),
				},
			})
		}
		messages = append(messages, msg)
	}

	var toolDefs []openai.Tool
	for _, def := range req.Tools {
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			return openai.ChatCompletionRequest{}, fmt.Errorf("marshal tool %s schema: %w", def.Name, err)
		}
		toolDefs = append(toolDefs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}

	return openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       toolDefs,
	}, nil
}

// streamAccumulator folds stream chunks into a Response while emitting
// delta events and recording the part interleaving.
type streamAccumulator struct {
	onEvent      func(StreamEvent)
	content      strings.Builder
	reasoning    strings.Builder
	parts        []models.MessagePart
	calls        []models.ToolCallRef
	callArgs     []*strings.Builder
	finishReason string
	usage        Usage
}

func newStreamAccumulator(onEvent func(StreamEvent)) *streamAccumulator {
	if onEvent == nil {
		onEvent = func(StreamEvent) {}
	}
	return &streamAccumulator{onEvent: onEvent}
}

func (a *streamAccumulator) apply(chunk openai.ChatCompletionStreamResponse) {
	if chunk.Usage != nil {
		a.usage = Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.TotalTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		a.finishReason = string(choice.FinishReason)
	}
	delta := choice.Delta

	if delta.ReasoningContent != "" {
		a.reasoning.WriteString(delta.ReasoningContent)
		a.appendPartDelta(models.PartReasoning, delta.ReasoningContent)
		a.onEvent(StreamEvent{Kind: StreamReasoning, Delta: delta.ReasoningContent})
	}
	if delta.Content != "" {
		a.content.WriteString(delta.Content)
		a.appendPartDelta(models.PartText, delta.Content)
		a.onEvent(StreamEvent{Kind: StreamText, Delta: delta.Content})
	}
	for _, call := range delta.ToolCalls {
		a.applyToolCallDelta(call)
	}
}

// appendPartDelta extends the trailing part when the kind matches, keeping
// the true interleaving without one part per network chunk.
func (a *streamAccumulator) appendPartDelta(kind, delta string) {
	if n := len(a.parts); n > 0 && a.parts[n-1].Kind == kind {
		a.parts[n-1].Content += delta
		return
	}
	a.parts = append(a.parts, models.MessagePart{Kind: kind, Content: delta})
}

func (a *streamAccumulator) applyToolCallDelta(call openai.ToolCall) {
	idx := len(a.calls) - 1
	if call.Index != nil {
		idx = *call.Index
	}
	for len(a.calls) <= idx {
		a.calls = append(a.calls, models.ToolCallRef{})
		a.callArgs = append(a.callArgs, &strings.Builder{})
	}
	if idx < 0 {
		return
	}

	if call.ID != "" {
		a.calls[idx].ToolCallID = call.ID
	}
	if call.Function.Name != "" && a.calls[idx].ToolName == "" {
		a.calls[idx].ToolName = call.Function.Name
		a.parts = append(a.parts, models.MessagePart{Kind: models.PartToolCall, ToolCallID: a.calls[idx].ToolCallID})
		a.onEvent(StreamEvent{
			Kind:       StreamToolCallStart,
			ToolCallID: a.calls[idx].ToolCallID,
			ToolName:   call.Function.Name,
		})
	}
	if call.Function.Arguments != "" {
		a.callArgs[idx].WriteString(call.Function.Arguments)
	}
}

func (a *streamAccumulator) response() *Response {
	calls := make([]models.ToolCallRef, len(a.calls))
	for i, call := range a.calls {
		call.Arguments = json.RawMessage(a.callArgs[i].String())
		calls[i] = call
	}
	resp := &Response{
		Content:      a.content.String(),
		Reasoning:    a.reasoning.String(),
		Parts:        a.parts,
		FinishReason: a.finishReason,
		Usage:        a.usage,
	}
	if len(calls) > 0 {
		resp.ToolCalls = calls
	}
	return resp
}
