package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/store"
)

func newTestExecutor(t *testing.T) (*Executor, *Registry, *store.AuditLog) {
	t.Helper()
	audit, err := store.OpenAuditLog(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })
	registry := NewRegistry()
	return NewExecutor(registry, audit), registry, audit
}

func auditFor(t *testing.T, audit *store.AuditLog, taskID string) []models.AuditEntry {
	t.Helper()
	return audit.ReadForTask(taskID)
}

func TestExecutorExecute(t *testing.T) {
	tc := &Context{TaskID: "task-1", ActorID: "agent", Policy: PolicyDefault}

	t.Run("safe tool runs and is audited", func(t *testing.T) {
		exec, registry, audit := newTestExecutor(t)
		require.NoError(t, registry.RegisterStatic(&fakeTool{name: "echo"}))

		result := exec.Execute(context.Background(), Call{ToolCallID: "tc-1", ToolName: "echo"}, tc)
		require.False(t, result.IsError)
		assert.Equal(t, "ok from echo", result.Content)

		entries := auditFor(t, audit, "task-1")
		require.Len(t, entries, 2)
		assert.Equal(t, models.AuditToolCallRequested, entries[0].Type)
		assert.Equal(t, models.AuditToolCallCompleted, entries[1].Type)
		assert.Equal(t, "tc-1", entries[1].Payload.ToolCallID)
		assert.False(t, entries[1].Payload.IsError)
	})

	t.Run("unknown tool returns error result", func(t *testing.T) {
		exec, _, _ := newTestExecutor(t)
		result := exec.Execute(context.Background(), Call{ToolCallID: "tc-1", ToolName: "nope"}, tc)
		require.True(t, result.IsError)
		assert.Contains(t, result.Error, "unknown tool")
	})

	t.Run("invalid arguments fail validation before execution", func(t *testing.T) {
		exec, registry, audit := newTestExecutor(t)
		ran := false
		require.NoError(t, registry.RegisterStatic(&fakeTool{
			name: "strict",
			params: map[string]any{
				"type":       "object",
				"properties": map[string]any{"count": map[string]any{"type": "integer"}},
				"required":   []any{"count"},
			},
			execute: func(context.Context, json.RawMessage, *Context) (*Result, error) {
				ran = true
				return &Result{Content: "ran"}, nil
			},
		}))

		result := exec.Execute(context.Background(),
			Call{ToolCallID: "tc-1", ToolName: "strict", Arguments: json.RawMessage(`{"count":"three"}`)}, tc)
		require.True(t, result.IsError)
		assert.Contains(t, result.Error, "do not match schema")
		assert.False(t, ran)

		entries := auditFor(t, audit, "task-1")
		require.Len(t, entries, 2)
		assert.True(t, entries[1].Payload.IsError)
	})

	t.Run("risky tool without confirmation refused", func(t *testing.T) {
		exec, registry, _ := newTestExecutor(t)
		ran := false
		require.NoError(t, registry.RegisterStatic(&fakeTool{
			name: "danger",
			risk: RiskRisky,
			execute: func(context.Context, json.RawMessage, *Context) (*Result, error) {
				ran = true
				return &Result{Content: "ran"}, nil
			},
		}))

		result := exec.Execute(context.Background(), Call{ToolCallID: "tc-1", ToolName: "danger"}, tc)
		require.True(t, result.IsError)
		assert.Contains(t, result.Error, "requires confirmation")
		assert.False(t, ran)
	})

	t.Run("confirmation bound to exactly one call id", func(t *testing.T) {
		exec, registry, _ := newTestExecutor(t)
		require.NoError(t, registry.RegisterStatic(&fakeTool{name: "danger", risk: RiskRisky}))

		confirmed := &Context{
			TaskID:                 "task-1",
			Policy:                 PolicyDefault,
			ConfirmedInteractionID: "int-1",
			ConfirmedToolCallID:    "tc-1",
		}

		result := exec.Execute(context.Background(), Call{ToolCallID: "tc-1", ToolName: "danger"}, confirmed)
		require.False(t, result.IsError)

		// The same approval does not cover a different call.
		result = exec.Execute(context.Background(), Call{ToolCallID: "tc-2", ToolName: "danger"}, confirmed)
		require.True(t, result.IsError)
	})

	t.Run("tool error becomes error result and is audited", func(t *testing.T) {
		exec, registry, audit := newTestExecutor(t)
		require.NoError(t, registry.RegisterStatic(&fakeTool{
			name: "broken",
			execute: func(context.Context, json.RawMessage, *Context) (*Result, error) {
				return nil, assert.AnError
			},
		}))

		result := exec.Execute(context.Background(), Call{ToolCallID: "tc-1", ToolName: "broken"}, tc)
		require.True(t, result.IsError)

		entries := auditFor(t, audit, "task-1")
		require.Len(t, entries, 2)
		assert.True(t, entries[1].Payload.IsError)
	})

	t.Run("nil result guarded", func(t *testing.T) {
		exec, registry, _ := newTestExecutor(t)
		require.NoError(t, registry.RegisterStatic(&fakeTool{
			name: "silent",
			execute: func(context.Context, json.RawMessage, *Context) (*Result, error) {
				return nil, nil
			},
		}))

		result := exec.Execute(context.Background(), Call{ToolCallID: "tc-1", ToolName: "silent"}, tc)
		require.True(t, result.IsError)
	})
}

func TestExecutorRecordRejection(t *testing.T) {
	exec, registry, audit := newTestExecutor(t)
	require.NoError(t, registry.RegisterStatic(&fakeTool{name: "danger", risk: RiskRisky}))
	tc := &Context{TaskID: "task-1", Policy: PolicyDefault}

	result := exec.RecordRejection(context.Background(), Call{ToolCallID: "tc-1", ToolName: "danger"}, tc)
	require.True(t, result.IsError)
	assert.Equal(t, RejectionMessage, result.Error)

	entries := auditFor(t, audit, "task-1")
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditToolCallRequested, entries[0].Type)
	assert.Equal(t, models.AuditToolCallCompleted, entries[1].Type)
	assert.Equal(t, RejectionMessage, entries[1].Payload.Output)
}

func TestResultConversationContent(t *testing.T) {
	t.Run("plain content passes through", func(t *testing.T) {
		r := &Result{Content: "hello"}
		assert.Equal(t, "hello", r.ConversationContent())
	})

	t.Run("error wrapped in envelope", func(t *testing.T) {
		r := ErrorResult("boom")
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.ConversationContent()), &decoded))
		assert.Equal(t, true, decoded["isError"])
		assert.Equal(t, "boom", decoded["error"])
	})
}

func TestSchemaFor(t *testing.T) {
	type args struct {
		Path  string `json:"path" jsonschema:"required"`
		Limit int    `json:"limit,omitempty"`
	}

	schema := SchemaFor[args]()
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "limit")
}
