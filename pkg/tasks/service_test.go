package tasks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/projection"
	"github.com/loomworks/loom/pkg/store"
)

// newTestService wires a service over a temp-dir log with a live projection.
// The projection is attached so command validation sees appended events.
func newTestService(t *testing.T) (*Service, *projection.TaskProjection) {
	t.Helper()
	log, err := store.OpenEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	proj := projection.NewTaskProjection()
	cancel := proj.Attach(log)
	t.Cleanup(cancel)

	return NewService(log, proj), proj
}

// waitForStatus blocks until the projection reflects the expected status.
// Subscription delivery is asynchronous.
func waitForStatus(t *testing.T, proj *projection.TaskProjection, taskID string, status models.TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, ok := proj.GetTask(taskID)
		return ok && task.Status == status
	}, 2*time.Second, 5*time.Millisecond)
}

func TestService_CreateTask(t *testing.T) {
	svc, proj := newTestService(t)
	ctx := context.Background()

	t.Run("creates open task with defaults", func(t *testing.T) {
		taskID, err := svc.CreateTask(ctx, CreateTaskInput{Title: "Echo", AgentID: "default"})
		require.NoError(t, err)
		waitForStatus(t, proj, taskID, models.StatusOpen)

		task, _ := proj.GetTask(taskID)
		assert.Equal(t, models.PriorityNormal, task.Priority)
	})

	t.Run("validates required fields", func(t *testing.T) {
		tests := []struct {
			name  string
			input CreateTaskInput
		}{
			{name: "missing title", input: CreateTaskInput{AgentID: "default"}},
			{name: "missing agent", input: CreateTaskInput{Title: "x"}},
			{name: "bad priority", input: CreateTaskInput{Title: "x", AgentID: "default", Priority: "urgent"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.CreateTask(ctx, tt.input)
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
			})
		}
	})

	t.Run("rejects unknown parent", func(t *testing.T) {
		_, err := svc.CreateTask(ctx, CreateTaskInput{Title: "x", AgentID: "default", ParentTaskID: "nope"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects terminal parent", func(t *testing.T) {
		parentID, err := svc.CreateTask(ctx, CreateTaskInput{Title: "p", AgentID: "default"})
		require.NoError(t, err)
		waitForStatus(t, proj, parentID, models.StatusOpen)
		require.NoError(t, svc.CancelTask(ctx, parentID, "test"))
		waitForStatus(t, proj, parentID, models.StatusCanceled)

		_, err = svc.CreateTask(ctx, CreateTaskInput{Title: "c", AgentID: "default", ParentTaskID: parentID})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestService_Lifecycle(t *testing.T) {
	svc, proj := newTestService(t)
	ctx := context.Background()

	newTask := func(t *testing.T) string {
		taskID, err := svc.CreateTask(ctx, CreateTaskInput{Title: "x", AgentID: "default"})
		require.NoError(t, err)
		waitForStatus(t, proj, taskID, models.StatusOpen)
		return taskID
	}

	t.Run("start complete", func(t *testing.T) {
		taskID := newTask(t)
		require.NoError(t, svc.MarkStarted(ctx, taskID))
		waitForStatus(t, proj, taskID, models.StatusInProgress)
		require.NoError(t, svc.Complete(ctx, taskID, "summary"))
		waitForStatus(t, proj, taskID, models.StatusDone)
	})

	t.Run("complete before start is rejected", func(t *testing.T) {
		taskID := newTask(t)
		err := svc.Complete(ctx, taskID, "nope")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("pause resume", func(t *testing.T) {
		taskID := newTask(t)
		require.NoError(t, svc.MarkStarted(ctx, taskID))
		waitForStatus(t, proj, taskID, models.StatusInProgress)
		require.NoError(t, svc.PauseTask(ctx, taskID, "lunch"))
		waitForStatus(t, proj, taskID, models.StatusPaused)

		// A paused task cannot pause again.
		assert.ErrorIs(t, svc.PauseTask(ctx, taskID, ""), ErrInvalidTransition)
		require.NoError(t, svc.ResumeTask(ctx, taskID))
		waitForStatus(t, proj, taskID, models.StatusInProgress)
	})

	t.Run("canceled is terminal for every command", func(t *testing.T) {
		taskID := newTask(t)
		require.NoError(t, svc.CancelTask(ctx, taskID, ""))
		waitForStatus(t, proj, taskID, models.StatusCanceled)

		assert.ErrorIs(t, svc.MarkStarted(ctx, taskID), ErrInvalidTransition)
		assert.ErrorIs(t, svc.AddInstruction(ctx, taskID, "x", ""), ErrInvalidTransition)
		assert.ErrorIs(t, svc.ResumeTask(ctx, taskID), ErrInvalidTransition)
	})

	t.Run("instruction accepted while paused without status change", func(t *testing.T) {
		taskID := newTask(t)
		require.NoError(t, svc.MarkStarted(ctx, taskID))
		waitForStatus(t, proj, taskID, models.StatusInProgress)
		require.NoError(t, svc.PauseTask(ctx, taskID, ""))
		waitForStatus(t, proj, taskID, models.StatusPaused)

		require.NoError(t, svc.AddInstruction(ctx, taskID, "queued", "user"))
		time.Sleep(50 * time.Millisecond)
		task, _ := proj.GetTask(taskID)
		assert.Equal(t, models.StatusPaused, task.Status)
	})
}

func TestService_Interactions(t *testing.T) {
	svc, proj := newTestService(t)
	ctx := context.Background()

	taskID, err := svc.CreateTask(ctx, CreateTaskInput{Title: "x", AgentID: "default"})
	require.NoError(t, err)
	waitForStatus(t, proj, taskID, models.StatusOpen)
	require.NoError(t, svc.MarkStarted(ctx, taskID))
	waitForStatus(t, proj, taskID, models.StatusInProgress)

	interactionID, err := svc.RequestInteraction(ctx, taskID, models.UserInteractionRequestedPayload{
		Kind:       "tool_confirmation",
		Prompt:     "Run ls?",
		ToolCallID: "tc1",
		ToolName:   "run_command",
	})
	require.NoError(t, err)
	waitForStatus(t, proj, taskID, models.StatusAwaitingUser)

	t.Run("mismatched interaction id is rejected", func(t *testing.T) {
		err := svc.RespondToInteraction(ctx, taskID, "bogus", models.UserInteractionRespondedPayload{SelectedOptionID: models.OptionApprove})
		assert.ErrorIs(t, err, ErrInteractionMismatch)
	})

	t.Run("approve resumes the task", func(t *testing.T) {
		require.NoError(t, svc.RespondToInteraction(ctx, taskID, interactionID, models.UserInteractionRespondedPayload{SelectedOptionID: models.OptionApprove}))
		waitForStatus(t, proj, taskID, models.StatusInProgress)
	})

	t.Run("replayed response is rejected", func(t *testing.T) {
		err := svc.RespondToInteraction(ctx, taskID, interactionID, models.UserInteractionRespondedPayload{SelectedOptionID: models.OptionApprove})
		assert.ErrorIs(t, err, ErrInteractionMismatch)
	})
}

func TestService_AncestorDepth(t *testing.T) {
	svc, proj := newTestService(t)
	ctx := context.Background()

	rootID, err := svc.CreateTask(ctx, CreateTaskInput{Title: "root", AgentID: "default"})
	require.NoError(t, err)
	waitForStatus(t, proj, rootID, models.StatusOpen)
	childID, err := svc.CreateTask(ctx, CreateTaskInput{Title: "child", AgentID: "default", ParentTaskID: rootID})
	require.NoError(t, err)
	waitForStatus(t, proj, childID, models.StatusOpen)

	depth, err := svc.AncestorDepth(rootID)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	depth, err = svc.AncestorDepth(childID)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}
