package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/tools"
)

// defaultMaxIterations bounds the LLM loop for one run.
const defaultMaxIterations = 30

// LLMAgent is the default agent: it composes a system prompt from the
// workspace instructions and skill catalog, then loops the LLM until the
// model stops calling tools.
type LLMAgent struct {
	id            string
	displayName   string
	model         string
	maxIterations int
}

// LLMAgentOptions configures an LLMAgent.
type LLMAgentOptions struct {
	ID            string
	DisplayName   string
	Model         string
	MaxIterations int
}

// NewLLMAgent creates the default agent.
func NewLLMAgent(opts LLMAgentOptions) (*LLMAgent, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	name := opts.DisplayName
	if name == "" {
		name = opts.ID
	}
	iterations := opts.MaxIterations
	if iterations <= 0 {
		iterations = defaultMaxIterations
	}
	return &LLMAgent{
		id:            opts.ID,
		displayName:   name,
		model:         opts.Model,
		maxIterations: iterations,
	}, nil
}

// ID returns the agent id.
func (a *LLMAgent) ID() string { return a.id }

// DisplayName returns the human-facing name.
func (a *LLMAgent) DisplayName() string { return a.displayName }

// Run drives the LLM loop. Each iteration persists the assistant turn,
// yields its outputs, and continues while the model requests tools. Dangling
// tool calls found in history are re-yielded before the first completion so
// an approved confirmation re-drives the call it authorized.
func (a *LLMAgent) Run(ctx context.Context, ac *Context, out *OutputStream) error {
	logger := slog.With("agent_id", a.id, "task_id", ac.TaskID)

	history := ac.History
	if dangling := openToolCalls(history); len(dangling) > 0 {
		logger.Info("Re-yielding dangling tool calls from history", "count", len(dangling))
		if err := a.yieldToolCalls(ctx, out, dangling); err != nil {
			return err
		}
		history = ac.Reload()
	}

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		response, err := a.complete(ctx, ac, history)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("LLM completion failed", "iteration", iteration, "error", err)
			return out.Send(ctx, Output{Kind: OutputFailed, Reason: err.Error()})
		}

		if err := ac.Persist(response.AssistantMessage()); err != nil {
			return fmt.Errorf("persisting assistant message: %w", err)
		}

		if response.Reasoning != "" {
			if err := out.Send(ctx, Output{Kind: OutputReasoning, Content: response.Reasoning}); err != nil {
				return err
			}
		}
		if response.Content != "" {
			if err := out.Send(ctx, Output{Kind: OutputText, Content: response.Content, Parts: response.Parts}); err != nil {
				return err
			}
		}

		if len(response.ToolCalls) == 0 {
			return out.Send(ctx, Output{Kind: OutputDone, Summary: response.Content})
		}

		calls := make([]tools.Call, len(response.ToolCalls))
		for i, ref := range response.ToolCalls {
			calls[i] = tools.Call{ToolCallID: ref.ToolCallID, ToolName: ref.ToolName, Arguments: ref.Arguments}
		}
		if err := a.yieldToolCalls(ctx, out, calls); err != nil {
			return err
		}
		history = ac.Reload()
	}

	logger.Warn("Iteration limit reached", "max_iterations", a.maxIterations)
	return out.Send(ctx, Output{
		Kind:   OutputFailed,
		Reason: fmt.Sprintf("iteration limit reached (%d)", a.maxIterations),
	})
}

func (a *LLMAgent) yieldToolCalls(ctx context.Context, out *OutputStream, calls []tools.Call) error {
	if len(calls) == 1 {
		return out.Send(ctx, Output{Kind: OutputToolCall, Call: &calls[0]})
	}
	return out.Send(ctx, Output{Kind: OutputToolCalls, Calls: calls})
}

func (a *LLMAgent) complete(ctx context.Context, ac *Context, history []models.Message) (*llm.Response, error) {
	req := llm.Request{
		Model:    a.model,
		Messages: a.requestMessages(ac, history),
		Tools:    ac.Tools,
	}
	if ac.StreamingEnabled {
		return ac.LLM.Stream(ctx, req, ac.OnStreamEvent)
	}
	return ac.LLM.Complete(ctx, req)
}

// requestMessages prepends the composed system prompt unless history
// already starts with one (the runtime persists it as the conversation's
// first record for tasks this agent seeds).
func (a *LLMAgent) requestMessages(ac *Context, history []models.Message) []models.Message {
	if len(history) > 0 && history[0].Role == models.RoleSystem {
		return history
	}
	system := a.SystemPrompt(ac.BaseDir, ac.Skills)
	out := make([]models.Message, 0, len(history)+1)
	out = append(out, models.Message{Role: models.RoleSystem, Content: system})
	return append(out, history...)
}

// SystemPrompt composes the system prompt from the workspace instructions
// and the skill catalog.
func (a *LLMAgent) SystemPrompt(baseDir string, skills []Skill) string {
	var sections []string
	if instructions := LoadInstructions(baseDir); instructions != "" {
		sections = append(sections, instructions)
	} else {
		sections = append(sections,
			"You are "+a.displayName+", an autonomous task agent. Use the available tools to complete the task, then summarize the outcome.")
	}
	if catalog := Catalog(skills); catalog != "" {
		sections = append(sections, catalog)
	}
	return strings.Join(sections, "\n\n")
}

// openToolCalls returns the resultless tool calls of the last assistant
// message carrying tool calls.
func openToolCalls(history []models.Message) []tools.Call {
	closed := make(map[string]bool)
	for _, msg := range history {
		if msg.Role == models.RoleTool && msg.ToolCallID != "" {
			closed[msg.ToolCallID] = true
		}
	}
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		var open []tools.Call
		for _, ref := range msg.ToolCalls {
			if !closed[ref.ToolCallID] {
				open = append(open, tools.Call{ToolCallID: ref.ToolCallID, ToolName: ref.ToolName, Arguments: ref.Arguments})
			}
		}
		return open
	}
	return nil
}
