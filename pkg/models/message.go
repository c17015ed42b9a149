package models

import (
	"encoding/json"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Part kinds inside a streamed assistant message.
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartToolCall  = "tool_call"
)

// ToolCallRef is a tool invocation requested by an assistant message.
type ToolCallRef struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// MessagePart captures one segment of the true interleaved sub-sequence a
// streaming assistant turn produced (text, reasoning, tool_call markers).
type MessagePart struct {
	Kind       string `json:"kind"`
	Content    string `json:"content,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

// Message is one conversation entry. For role=tool, ToolCallID links the
// result back to the assistant tool call it closes. For streamed assistant
// turns, Parts preserves the interleaving of text, reasoning, and tool calls.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCallID string        `json:"toolCallId,omitempty"`
	ToolName   string        `json:"toolName,omitempty"`
	ToolCalls  []ToolCallRef `json:"toolCalls,omitempty"`
	Parts      []MessagePart `json:"parts,omitempty"`
}

// StoredMessage is one row of the append-only conversation log. Index is
// monotonic and dense per task, starting at 1.
type StoredMessage struct {
	ID        uint64    `json:"id"`
	TaskID    string    `json:"taskId"`
	Index     uint32    `json:"index"`
	Message   Message   `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
