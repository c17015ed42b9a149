// Package tools defines the tool interface, the registry with its static
// and dynamic layers, and the audit-logged executor that gates risky tools
// behind user confirmations.
package tools

import (
	"context"
	"encoding/json"
)

// RiskLevel classifies whether a tool invocation needs user confirmation.
type RiskLevel string

// Risk levels.
const (
	RiskSafe  RiskLevel = "safe"
	RiskRisky RiskLevel = "risky"
)

// PolicyMode selects the risk policy applied when classifying calls.
// Policy is consulted at every evaluation, including when rejection
// processing revisits an old call.
type PolicyMode string

// Policy modes.
const (
	// PolicyDefault treats writes and shell execution as risky.
	PolicyDefault PolicyMode = "default"
	// PolicyYolo treats every tool as safe. No confirmations are requested.
	PolicyYolo PolicyMode = "yolo"
)

// Call is one tool invocation requested by the LLM.
type Call struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// Result is the outcome of a tool invocation. Failed invocations are
// results, not errors: the conversation carries them back to the LLM, which
// is the re-planner.
type Result struct {
	Content string `json:"content,omitempty"`
	IsError bool   `json:"isError,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ConversationContent renders the result as the content of a role=tool
// message. Errors use a small JSON envelope so the LLM can distinguish them
// from tool output that happens to mention errors.
func (r *Result) ConversationContent() string {
	if !r.IsError {
		return r.Content
	}
	raw, err := json.Marshal(map[string]any{"isError": true, "error": r.Error})
	if err != nil {
		return `{"isError":true}`
	}
	return string(raw)
}

// ErrorResult builds an error result with the given message.
func ErrorResult(msg string) *Result {
	return &Result{IsError: true, Error: msg}
}

// Context carries the per-task execution environment into tool calls.
// ConfirmedInteractionID/ConfirmedToolCallID bind one user approval to
// exactly one tool invocation (action-binding).
type Context struct {
	TaskID                 string
	AgentID                string
	BaseDir                string
	ActorID                string
	Policy                 PolicyMode
	ConfirmedInteractionID string
	ConfirmedToolCallID    string
}

// Tool is the capability contract. Parameters returns a JSON-Schema object
// describing the argument shape; RiskLevel is evaluated against the current
// policy mode on every call.
type Tool interface {
	Name() string
	Description() string
	Group() string
	Parameters() map[string]any
	RiskLevel(args json.RawMessage, tc *Context) RiskLevel
	Execute(ctx context.Context, args json.RawMessage, tc *Context) (*Result, error)
}

// PreconditionChecker is implemented by tools that can reject an invocation
// before any risk prompt or execution. A precondition failure is persisted
// as an error result without consulting the risk policy.
type PreconditionChecker interface {
	CanExecute(args json.RawMessage, tc *Context) error
}

// Definition is the provider-facing emission of a tool (OpenAI function
// format: name, description, JSON-Schema parameters).
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}
