package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/models"
)

func newTestConversationLog(t *testing.T) *ConversationLog {
	t.Helper()
	log, err := OpenConversationLog(filepath.Join(t.TempDir(), "conversations.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestConversationLog_Append(t *testing.T) {
	log := newTestConversationLog(t)

	t.Run("indexes are dense per task", func(t *testing.T) {
		_, err := log.Append("t1",
			models.Message{Role: models.RoleSystem, Content: "sys"},
			models.Message{Role: models.RoleUser, Content: "hi"},
		)
		require.NoError(t, err)
		_, err = log.Append("t2", models.Message{Role: models.RoleUser, Content: "other"})
		require.NoError(t, err)
		stored, err := log.Append("t1", models.Message{Role: models.RoleAssistant, Content: "ok"})
		require.NoError(t, err)

		assert.Equal(t, uint32(3), stored[0].Index)
		msgs := log.ReadTask("t1")
		require.Len(t, msgs, 3)
		for i, m := range msgs {
			assert.Equal(t, uint32(i+1), m.Index)
		}
	})

	t.Run("tool call refs round-trip", func(t *testing.T) {
		stored, err := log.Append("t3", models.Message{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCallRef{
				{ToolCallID: "tc1", ToolName: "read_file", Arguments: []byte(`{"path":"a.txt"}`)},
			},
			Parts: []models.MessagePart{
				{Kind: models.PartText, Content: "reading"},
				{Kind: models.PartToolCall, ToolCallID: "tc1"},
			},
		})
		require.NoError(t, err)

		got := log.ReadTask("t3")
		require.Len(t, got, 1)
		assert.Equal(t, stored[0].ID, got[0].ID)
		require.Len(t, got[0].Message.ToolCalls, 1)
		assert.Equal(t, "tc1", got[0].Message.ToolCalls[0].ToolCallID)
		require.Len(t, got[0].Message.Parts, 2)
		assert.Equal(t, models.PartToolCall, got[0].Message.Parts[1].Kind)
	})
}

func TestConversationLog_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.jsonl")
	log, err := OpenConversationLog(path)
	require.NoError(t, err)
	_, err = log.Append("t1", models.Message{Role: models.RoleUser, Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, log.Close())

	log2, err := OpenConversationLog(path)
	require.NoError(t, err)
	defer func() { _ = log2.Close() }()

	stored, err := log2.Append("t1", models.Message{Role: models.RoleAssistant, Content: "ok"})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), stored[0].Index)
	assert.Equal(t, uint64(2), stored[0].ID)
}

func TestSnapshotStore(t *testing.T) {
	t.Run("save and load by name", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "projections.jsonl")
		s, err := OpenSnapshotStore(path)
		require.NoError(t, err)

		require.NoError(t, s.Save("tasks", map[string]string{"t1": "done"}))

		s2, err := OpenSnapshotStore(path)
		require.NoError(t, err)
		var state map[string]string
		ok, err := s2.Load("tasks", &state)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "done", state["t1"])
	})

	t.Run("missing snapshot loads false", func(t *testing.T) {
		s, err := OpenSnapshotStore(filepath.Join(t.TempDir(), "projections.jsonl"))
		require.NoError(t, err)
		var v any
		ok, err := s.Load("absent", &v)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
