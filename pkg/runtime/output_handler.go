package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/agent"
	"github.com/loomworks/loom/pkg/conversation"
	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/tasks"
	"github.com/loomworks/loom/pkg/tools"
)

// defaultHeartbeatInterval paces tool_call_heartbeat UI events during long
// tool executions.
const defaultHeartbeatInterval = 4 * time.Second

// interactionKindToolConfirmation tags confirmation requests raised by the
// risk gate.
const interactionKindToolConfirmation = "tool_confirmation"

// OutputContext is the per-run environment the handler operates in. The
// confirmation fields bind one user approval to exactly one tool call and
// are cleared after the bound call executes.
type OutputContext struct {
	TaskID  string
	AgentID string
	BaseDir string
	Policy  tools.PolicyMode

	ConfirmedInteractionID string
	ConfirmedToolCallID    string

	StreamingEnabled bool
}

func (oc *OutputContext) toolContext() *tools.Context {
	return &tools.Context{
		TaskID:                 oc.TaskID,
		AgentID:                oc.AgentID,
		BaseDir:                oc.BaseDir,
		ActorID:                oc.AgentID,
		Policy:                 oc.Policy,
		ConfirmedInteractionID: oc.ConfirmedInteractionID,
		ConfirmedToolCallID:    oc.ConfirmedToolCallID,
	}
}

// Outcome tells the runtime loop what the handled output requires next.
type Outcome struct {
	// Pause means a confirmation request was appended; the loop must stop
	// and wait for the user's response event.
	Pause bool
	// Terminal means a TaskCompleted or TaskFailed event was appended.
	Terminal bool
}

// Handler turns agent outputs into durable effects: tool execution with
// audit and risk gating, persisted results, lifecycle events, UI events.
type Handler struct {
	tasks     *tasks.Service
	conv      *conversation.Manager
	executor  *tools.Executor
	registry  *tools.Registry
	ui        *Bus
	heartbeat time.Duration
}

// NewHandler creates an output handler.
func NewHandler(taskService *tasks.Service, conv *conversation.Manager, executor *tools.Executor, registry *tools.Registry, ui *Bus) *Handler {
	if ui == nil {
		ui = NewBus()
	}
	return &Handler{
		tasks:     taskService,
		conv:      conv,
		executor:  executor,
		registry:  registry,
		ui:        ui,
		heartbeat: defaultHeartbeatInterval,
	}
}

// Handle dispatches one agent output.
func (h *Handler) Handle(ctx context.Context, oc *OutputContext, out agent.Output) (Outcome, error) {
	switch out.Kind {
	case agent.OutputText, agent.OutputReasoning:
		// When streaming, the deltas already reached the UI.
		if !oc.StreamingEnabled {
			h.publishAgentOutput(oc, out)
		}
		return Outcome{}, nil

	case agent.OutputVerbose, agent.OutputError:
		h.publishAgentOutput(oc, out)
		return Outcome{}, nil

	case agent.OutputToolCall:
		if out.Call == nil {
			return Outcome{}, fmt.Errorf("tool_call output without a call")
		}
		return h.handleToolCall(ctx, oc, *out.Call)

	case agent.OutputToolCalls:
		return h.handleBatch(ctx, oc, out.Calls)

	case agent.OutputDone:
		if err := h.tasks.Complete(ctx, oc.TaskID, out.Summary); err != nil {
			return Outcome{}, fmt.Errorf("completing task: %w", err)
		}
		return Outcome{Terminal: true}, nil

	case agent.OutputFailed:
		if err := h.tasks.Fail(ctx, oc.TaskID, out.Reason); err != nil {
			return Outcome{}, fmt.Errorf("failing task: %w", err)
		}
		return Outcome{Terminal: true}, nil
	}
	return Outcome{}, fmt.Errorf("unknown agent output kind: %s", out.Kind)
}

func (h *Handler) publishAgentOutput(oc *OutputContext, out agent.Output) {
	h.ui.Publish(UIEvent{
		Type:    UIAgentOutput,
		TaskID:  oc.TaskID,
		AgentID: oc.AgentID,
		Data:    map[string]any{"kind": out.Kind, "content": out.Content},
	})
}

// handleToolCall runs the single-call path: precondition, risk gate,
// execution with heartbeat, idempotent persistence.
func (h *Handler) handleToolCall(ctx context.Context, oc *OutputContext, call tools.Call) (Outcome, error) {
	tc := oc.toolContext()

	tool, known := h.registry.Lookup(call.ToolName)
	if known {
		if checker, ok := tool.(tools.PreconditionChecker); ok {
			if err := checker.CanExecute(call.Arguments, tc); err != nil {
				result := tools.ErrorResult(err.Error())
				return Outcome{}, h.conv.AppendToolResult(oc.TaskID, call, result)
			}
		}

		risky := tool.RiskLevel(call.Arguments, tc) == tools.RiskRisky
		if risky && (oc.ConfirmedInteractionID == "" || oc.ConfirmedToolCallID != call.ToolCallID) {
			interactionID, err := h.tasks.RequestInteraction(ctx, oc.TaskID, models.UserInteractionRequestedPayload{
				Kind:          interactionKindToolConfirmation,
				Prompt:        fmt.Sprintf("Allow %s to run %s?", oc.AgentID, call.ToolName),
				ToolCallID:    call.ToolCallID,
				ToolName:      call.ToolName,
				ToolArguments: call.Arguments,
			})
			if err != nil {
				return Outcome{}, fmt.Errorf("requesting confirmation: %w", err)
			}
			slog.Info("Confirmation requested for risky tool",
				"task_id", oc.TaskID, "tool", call.ToolName, "interaction_id", interactionID)
			return Outcome{Pause: true}, nil
		}
		if risky {
			// One approval, one invocation.
			defer func() {
				oc.ConfirmedInteractionID = ""
				oc.ConfirmedToolCallID = ""
			}()
		}
	}

	result := h.executeWithHeartbeat(ctx, oc, call, tc)
	return Outcome{}, h.conv.AppendToolResult(oc.TaskID, call, result)
}

func (h *Handler) executeWithHeartbeat(ctx context.Context, oc *OutputContext, call tools.Call, tc *tools.Context) *tools.Result {
	h.ui.Publish(UIEvent{
		Type:    UIToolCallStart,
		TaskID:  oc.TaskID,
		AgentID: oc.AgentID,
		Data:    map[string]any{"toolCallId": call.ToolCallID, "toolName": call.ToolName},
	})
	start := time.Now()
	stop := h.startHeartbeat(oc, call, start)
	defer stop()

	result := h.executor.Execute(ctx, call, tc)

	h.ui.Publish(UIEvent{
		Type:    UIToolCallEnd,
		TaskID:  oc.TaskID,
		AgentID: oc.AgentID,
		Data: map[string]any{
			"toolCallId": call.ToolCallID,
			"toolName":   call.ToolName,
			"isError":    result.IsError,
			"durationMs": time.Since(start).Milliseconds(),
		},
	})
	return result
}

func (h *Handler) startHeartbeat(oc *OutputContext, call tools.Call, start time.Time) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				h.ui.Publish(UIEvent{
					Type:    UIToolCallHeartbeat,
					TaskID:  oc.TaskID,
					AgentID: oc.AgentID,
					Data: map[string]any{
						"toolCallId": call.ToolCallID,
						"toolName":   call.ToolName,
						"elapsedMs":  time.Since(start).Milliseconds(),
					},
				})
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// handleBatch runs the hybrid scheduler: contiguous safe calls execute
// concurrently, risky calls are ordering barriers processed one at a time.
// Counts are classified once at scheduling time.
func (h *Handler) handleBatch(ctx context.Context, oc *OutputContext, calls []tools.Call) (outcome Outcome, err error) {
	tc := oc.toolContext()
	risky := make([]bool, len(calls))
	safeCount, riskyCount := 0, 0
	for i, call := range calls {
		risky[i] = h.isRisky(call, tc)
		if risky[i] {
			riskyCount++
		} else {
			safeCount++
		}
	}

	h.ui.Publish(UIEvent{
		Type:    UIBatchStart,
		TaskID:  oc.TaskID,
		AgentID: oc.AgentID,
		Data:    map[string]any{"total": len(calls), "safe": safeCount, "risky": riskyCount},
	})
	defer func() {
		h.ui.Publish(UIEvent{
			Type:    UIBatchEnd,
			TaskID:  oc.TaskID,
			AgentID: oc.AgentID,
			Data:    map[string]any{"total": len(calls), "paused": outcome.Pause, "terminal": outcome.Terminal},
		})
	}()

	for i := 0; i < len(calls); {
		if risky[i] {
			outcome, err = h.handleToolCall(ctx, oc, calls[i])
			if err != nil || outcome.Pause || outcome.Terminal {
				return outcome, err
			}
			i++
			continue
		}

		j := i
		for j < len(calls) && !risky[j] {
			j++
		}
		if err = h.executeSegment(ctx, oc, calls[i:j]); err != nil {
			return Outcome{}, err
		}
		i = j
	}
	return Outcome{}, nil
}

// isRisky classifies a call for batch scheduling. Unknown tools run
// immediately to a deterministic error result, so they schedule as safe.
func (h *Handler) isRisky(call tools.Call, tc *tools.Context) bool {
	tool, ok := h.registry.Lookup(call.ToolName)
	if !ok {
		return false
	}
	return tool.RiskLevel(call.Arguments, tc) == tools.RiskRisky
}

// executeSegment starts every call in the segment concurrently and awaits
// them all. Results are persisted idempotently; a persistence failure fails
// the whole segment.
func (h *Handler) executeSegment(ctx context.Context, oc *OutputContext, segment []tools.Call) error {
	if len(segment) == 1 {
		result := h.executeWithHeartbeat(ctx, oc, segment[0], oc.toolContext())
		return h.conv.AppendToolResult(oc.TaskID, segment[0], result)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(segment))
	for i, call := range segment {
		wg.Add(1)
		go func(i int, call tools.Call) {
			defer wg.Done()
			result := h.executeWithHeartbeat(ctx, oc, call, oc.toolContext())
			errs[i] = h.conv.AppendToolResult(oc.TaskID, call, result)
		}(i, call)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("persisting segment result: %w", err)
		}
	}
	return nil
}
