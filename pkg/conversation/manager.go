// Package conversation keeps persisted task history structurally valid and
// decides when user instructions can be injected. History is append-only;
// repair closes dangling tool calls by appending results, never by rewriting.
package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/store"
	"github.com/loomworks/loom/pkg/tools"
)

// Manager owns the per-task instruction queues and the idempotent write
// paths over the conversation log. One manager serves all tasks; per-task
// state is guarded by a per-task mutex so tasks never block each other.
type Manager struct {
	log      *store.ConversationLog
	executor *tools.Executor
	registry *tools.Registry

	mu    sync.Mutex
	tasks map[string]*taskState
}

type taskState struct {
	mu           sync.Mutex
	instructions []string
}

// NewManager creates a conversation manager over the log, executor, and
// registry.
func NewManager(log *store.ConversationLog, executor *tools.Executor, registry *tools.Registry) *Manager {
	return &Manager{
		log:      log,
		executor: executor,
		registry: registry,
		tasks:    make(map[string]*taskState),
	}
}

func (m *Manager) task(taskID string) *taskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[taskID]
	if !ok {
		st = &taskState{}
		m.tasks[taskID] = st
	}
	return st
}

// History returns the task's persisted messages in index order.
func (m *Manager) History(taskID string) []models.Message {
	stored := m.log.ReadTask(taskID)
	out := make([]models.Message, len(stored))
	for i, rec := range stored {
		out[i] = rec.Message
	}
	return out
}

// Records returns the task's persisted rows, including ids and timestamps.
func (m *Manager) Records(taskID string) []models.StoredMessage {
	return m.log.ReadTask(taskID)
}

// Append persists messages to the task's conversation.
func (m *Manager) Append(taskID string, msgs ...models.Message) error {
	_, err := m.log.Append(taskID, msgs...)
	return err
}

// AppendToolResult persists one role=tool message closing the given call.
// The write is idempotent: if a result for the toolCallId already exists
// (concurrent catch-up and live paths can race), nothing is appended.
func (m *Manager) AppendToolResult(taskID string, call tools.Call, result *tools.Result) error {
	st := m.task(taskID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if m.hasToolResult(taskID, call.ToolCallID) {
		return nil
	}
	return m.Append(taskID, models.Message{
		Role:       models.RoleTool,
		Content:    result.ConversationContent(),
		ToolCallID: call.ToolCallID,
		ToolName:   call.ToolName,
	})
}

func (m *Manager) hasToolResult(taskID, toolCallID string) bool {
	for _, rec := range m.log.ReadTask(taskID) {
		if rec.Message.Role == models.RoleTool && rec.Message.ToolCallID == toolCallID {
			return true
		}
	}
	return false
}

// DanglingCalls returns the open tool calls of the last assistant message
// that carries tool calls, in declaration order. Empty when the ledger is
// closed.
func (m *Manager) DanglingCalls(taskID string) []models.ToolCallRef {
	stored := m.log.ReadTask(taskID)

	closed := make(map[string]bool)
	for _, rec := range stored {
		if rec.Message.Role == models.RoleTool && rec.Message.ToolCallID != "" {
			closed[rec.Message.ToolCallID] = true
		}
	}

	for i := len(stored) - 1; i >= 0; i-- {
		msg := stored[i].Message
		if msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		var open []models.ToolCallRef
		for _, call := range msg.ToolCalls {
			if !closed[call.ToolCallID] {
				open = append(open, call)
			}
		}
		return open
	}
	return nil
}

// LoadAndRepair reads the task's history and closes dangling safe tool
// calls by re-executing them through the executor. Risky and unknown tools
// stay dangling; the runtime decides whether to re-confirm or reject them.
// Returns the repaired history.
func (m *Manager) LoadAndRepair(ctx context.Context, taskID string, tc *tools.Context) []models.Message {
	for _, ref := range m.DanglingCalls(taskID) {
		tool, ok := m.registry.Lookup(ref.ToolName)
		if !ok || tool.RiskLevel(ref.Arguments, tc) == tools.RiskRisky {
			continue
		}

		call := tools.Call{ToolCallID: ref.ToolCallID, ToolName: ref.ToolName, Arguments: ref.Arguments}
		slog.Info("Re-executing dangling safe tool call",
			"task_id", taskID, "tool", ref.ToolName, "tool_call_id", ref.ToolCallID)
		result := m.executor.Execute(ctx, call, tc)
		if err := m.AppendToolResult(taskID, call, result); err != nil {
			slog.Error("Failed to persist repaired tool result",
				"task_id", taskID, "tool_call_id", ref.ToolCallID, "error", err)
		}
	}
	return m.History(taskID)
}

// InjectRejections closes every dangling tool call with the synthetic
// rejection result, recording the audit pair for each. Used when the user
// answers a confirmation request with anything other than approve.
func (m *Manager) InjectRejections(ctx context.Context, taskID string, tc *tools.Context) error {
	for _, ref := range m.DanglingCalls(taskID) {
		call := tools.Call{ToolCallID: ref.ToolCallID, ToolName: ref.ToolName, Arguments: ref.Arguments}
		result := m.executor.RecordRejection(ctx, call, tc)
		if err := m.AppendToolResult(taskID, call, result); err != nil {
			return err
		}
	}
	return nil
}

// SafeToInject reports whether a role=user message can be appended without
// splitting an assistant message from its tool results.
func (m *Manager) SafeToInject(taskID string) bool {
	return len(m.DanglingCalls(taskID)) == 0
}

// QueueInstruction appends a user instruction to the task's queue, or
// persists it immediately when the conversation is safe.
func (m *Manager) QueueInstruction(taskID, instruction string) error {
	st := m.task(taskID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if m.SafeToInject(taskID) && len(st.instructions) == 0 {
		return m.Append(taskID, models.Message{Role: models.RoleUser, Content: instruction})
	}
	st.instructions = append(st.instructions, instruction)
	return nil
}

// DrainInstructions persists queued instructions as role=user messages in
// arrival order, if the conversation is safe. Returns how many were
// persisted. Called at every loop boundary.
func (m *Manager) DrainInstructions(taskID string) (int, error) {
	st := m.task(taskID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.instructions) == 0 || !m.SafeToInject(taskID) {
		return 0, nil
	}

	msgs := make([]models.Message, len(st.instructions))
	for i, instruction := range st.instructions {
		msgs[i] = models.Message{Role: models.RoleUser, Content: instruction}
	}
	if err := m.Append(taskID, msgs...); err != nil {
		return 0, err
	}
	n := len(st.instructions)
	st.instructions = nil
	return n, nil
}

// PendingInstructions reports how many instructions are queued for a task.
func (m *Manager) PendingInstructions(taskID string) int {
	st := m.task(taskID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.instructions)
}
