// Package agent defines the agent contract: a bounded producer of outputs
// driven by the runtime, plus the default LLM-backed implementation.
package agent

import (
	"context"

	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/tools"
)

// Output kinds yielded by an agent.
const (
	OutputText      = "text"
	OutputVerbose   = "verbose"
	OutputError     = "error"
	OutputReasoning = "reasoning"
	OutputToolCall  = "tool_call"
	OutputToolCalls = "tool_calls"
	OutputDone      = "done"
	OutputFailed    = "failed"
)

// Output is one yield from an agent. Exactly one of done or failed ends the
// sequence; Content carries text-like payloads, Call/Calls the tool
// requests, Summary/Reason the terminal payloads.
type Output struct {
	Kind    string
	Content string
	Call    *tools.Call
	Calls   []tools.Call
	Summary string
	Reason  string
	// Parts carries the streamed interleaving of the assistant turn that
	// produced this output, when streaming was enabled.
	Parts []models.MessagePart
}

// PersistFunc appends messages to the task's durable conversation.
type PersistFunc func(msgs ...models.Message) error

// Context is the execution environment handed to an agent run. History is an
// immutable snapshot; new messages go through Persist.
type Context struct {
	TaskID  string
	AgentID string
	BaseDir string

	LLM    llm.Client
	Tools  []tools.Definition
	Skills []Skill

	History []models.Message
	Persist PersistFunc
	// Reload returns the current persisted history. Called at yield
	// boundaries after tool results land, never mid-turn.
	Reload func() []models.Message

	// PendingResponse is set when this run was triggered by a user
	// interaction response.
	PendingResponse *models.UserInteractionRespondedPayload

	StreamingEnabled bool
	// OnStreamEvent receives provider deltas when streaming is enabled.
	OnStreamEvent func(llm.StreamEvent)
}

// Agent produces a finite sequence of outputs for one task run. Run sends
// outputs to the stream and returns when the sequence ends or ctx is
// canceled; the consumer stopping iteration cancels ctx.
type Agent interface {
	ID() string
	DisplayName() string
	Run(ctx context.Context, ac *Context, out *OutputStream) error
}

// SystemPrompter is implemented by agents whose system prompt should be
// persisted as the first record of a new task's conversation.
type SystemPrompter interface {
	SystemPrompt(baseDir string, skills []Skill) string
}

// OutputStream carries outputs from the producing agent to the consuming
// runtime with pull semantics: Send does not return until the consumer has
// both received the output and acknowledged it. The producer therefore never
// runs ahead of the runtime's durable effects (tool results, persisted
// messages), which is what keeps history coherent at reload points.
type OutputStream struct {
	ch  chan Output
	ack chan struct{}
}

// NewOutputStream creates an output stream.
func NewOutputStream() *OutputStream {
	return &OutputStream{ch: make(chan Output), ack: make(chan struct{}, 1)}
}

// Send delivers one output and waits for the consumer's Ack, honoring
// cancellation on both sides.
func (s *OutputStream) Send(ctx context.Context, out Output) error {
	select {
	case s.ch <- out:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-s.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next blocks for the next output. ok is false once the stream is closed.
func (s *OutputStream) Next(ctx context.Context) (out Output, ok bool, err error) {
	select {
	case out, ok = <-s.ch:
		return out, ok, nil
	case <-ctx.Done():
		return Output{}, false, ctx.Err()
	}
}

// Ack releases the producer after the consumer has fully processed the
// output received from Next.
func (s *OutputStream) Ack() {
	select {
	case s.ack <- struct{}{}:
	default:
	}
}

// Close ends the stream. Called by the producer after the final output.
func (s *OutputStream) Close() {
	close(s.ch)
}
