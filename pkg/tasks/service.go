// Package tasks implements the task service: the only component that
// produces domain events. Every command validates against the projected
// status and the transition table before appending; invalid commands fail
// without touching the log.
package tasks

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/projection"
	"github.com/loomworks/loom/pkg/store"
)

// Service validates commands and appends domain events.
type Service struct {
	log        *store.EventLog
	projection *projection.TaskProjection
}

// NewService creates a task service over the event log and projection.
func NewService(log *store.EventLog, proj *projection.TaskProjection) *Service {
	return &Service{log: log, projection: proj}
}

// CreateTaskInput carries the createTask command parameters.
type CreateTaskInput struct {
	Title         string
	Intent        string
	Priority      models.Priority
	AgentID       string
	ParentTaskID  string
	AuthorActorID string
}

// CreateTask validates the input and appends TaskCreated. Returns the new
// task id. A parent, when given, must exist, be non-terminal, and must not
// sit on a cyclic ancestor chain.
func (s *Service) CreateTask(ctx context.Context, input CreateTaskInput) (string, error) {
	if input.Title == "" {
		return "", NewValidationError("title", "title is required")
	}
	if input.AgentID == "" {
		return "", NewValidationError("agentId", "agentId is required")
	}
	if input.Priority == "" {
		input.Priority = models.PriorityNormal
	}
	if !models.ValidPriority(input.Priority) {
		return "", NewValidationError("priority", "must be foreground, normal, or background")
	}

	if input.ParentTaskID != "" {
		parent, ok := s.projection.GetTask(input.ParentTaskID)
		if !ok {
			return "", ErrNotFound
		}
		if parent.Status.IsTerminal() {
			return "", transitionError(input.ParentTaskID, parent.Status, models.EventTaskCreated)
		}
		if _, err := s.AncestorDepth(input.ParentTaskID); err != nil {
			return "", err
		}
	}

	taskID := uuid.New().String()
	_, err := s.log.Append(taskID, store.NewEvent{
		Type: models.EventTaskCreated,
		Payload: models.TaskCreatedPayload{
			Title:         input.Title,
			Intent:        input.Intent,
			Priority:      input.Priority,
			AgentID:       input.AgentID,
			ParentTaskID:  input.ParentTaskID,
			AuthorActorID: input.AuthorActorID,
		},
	})
	if err != nil {
		return "", err
	}
	slog.Info("Task created", "task_id", taskID, "agent_id", input.AgentID, "parent_task_id", input.ParentTaskID)
	return taskID, nil
}

// CancelTask appends TaskCanceled if the task is cancelable.
func (s *Service) CancelTask(ctx context.Context, taskID, reason string) error {
	return s.appendLifecycle(taskID, models.EventTaskCanceled, models.TaskCanceledPayload{Reason: reason})
}

// PauseTask appends TaskPaused if the task is pausable.
func (s *Service) PauseTask(ctx context.Context, taskID, reason string) error {
	return s.appendLifecycle(taskID, models.EventTaskPaused, models.TaskPausedPayload{Reason: reason})
}

// ResumeTask appends TaskResumed if the task is paused.
func (s *Service) ResumeTask(ctx context.Context, taskID string) error {
	return s.appendLifecycle(taskID, models.EventTaskResumed, models.TaskResumedPayload{})
}

// AddInstruction appends TaskInstructionAdded. Accepted while awaiting user
// or paused (status unchanged, instruction queued for drain) and reopens
// done tasks.
func (s *Service) AddInstruction(ctx context.Context, taskID, text, authorActorID string) error {
	if text == "" {
		return NewValidationError("text", "instruction text is required")
	}
	return s.appendLifecycle(taskID, models.EventTaskInstructionAdded, models.TaskInstructionAddedPayload{
		Text:          text,
		AuthorActorID: authorActorID,
	})
}

// MarkStarted appends TaskStarted. Emitted by the runtime when it begins
// driving an open task; redundant starts are accepted no-ops.
func (s *Service) MarkStarted(ctx context.Context, taskID string) error {
	return s.appendLifecycle(taskID, models.EventTaskStarted, models.TaskStartedPayload{})
}

// Complete appends TaskCompleted with the agent's summary.
func (s *Service) Complete(ctx context.Context, taskID, summary string) error {
	return s.appendLifecycle(taskID, models.EventTaskCompleted, models.TaskCompletedPayload{Summary: summary})
}

// Fail appends TaskFailed with the failure reason.
func (s *Service) Fail(ctx context.Context, taskID, reason string) error {
	return s.appendLifecycle(taskID, models.EventTaskFailed, models.TaskFailedPayload{Reason: reason})
}

// RequestInteraction appends UserInteractionRequested, assigning the
// interaction id when the payload carries none. Returns the interaction id.
func (s *Service) RequestInteraction(ctx context.Context, taskID string, payload models.UserInteractionRequestedPayload) (string, error) {
	if payload.InteractionID == "" {
		payload.InteractionID = uuid.New().String()
	}
	if len(payload.Options) == 0 {
		payload.Options = []models.InteractionOption{
			{ID: models.OptionApprove, Label: "Approve"},
			{ID: models.OptionReject, Label: "Reject"},
		}
	}
	if err := s.appendLifecycle(taskID, models.EventUserInteractionRequested, payload); err != nil {
		return "", err
	}
	return payload.InteractionID, nil
}

// RespondToInteraction appends UserInteractionResponded for the task's
// pending interaction. Responses naming a stale or unknown interaction are
// rejected so a replayed approval cannot authorize a second action.
func (s *Service) RespondToInteraction(ctx context.Context, taskID, interactionID string, response models.UserInteractionRespondedPayload) error {
	task, ok := s.projection.GetTask(taskID)
	if !ok {
		return ErrNotFound
	}
	if task.PendingInteractionID == "" || task.PendingInteractionID != interactionID {
		return ErrInteractionMismatch
	}
	response.InteractionID = interactionID
	return s.appendLifecycle(taskID, models.EventUserInteractionResponded, response)
}

// AncestorDepth walks the parent chain and returns the task's depth
// (0 for a top-level task). A revisited ancestor yields ErrCycle.
func (s *Service) AncestorDepth(taskID string) (int, error) {
	visited := map[string]bool{}
	depth := 0
	current := taskID
	for {
		if visited[current] {
			return 0, ErrCycle
		}
		visited[current] = true
		task, ok := s.projection.GetTask(current)
		if !ok {
			return 0, ErrNotFound
		}
		if task.ParentTaskID == "" {
			return depth, nil
		}
		current = task.ParentTaskID
		depth++
	}
}

// appendLifecycle validates one lifecycle event against the transition table
// and appends it. Rejected transitions produce ErrInvalidTransition with no
// event written; no-op transitions are still recorded (the runtime consumes
// queued-instruction and paused-failure events from the log).
func (s *Service) appendLifecycle(taskID string, event models.EventType, payload any) error {
	task, ok := s.projection.GetTask(taskID)
	if !ok {
		return ErrNotFound
	}
	if _, outcome := models.Transition(task.Status, event); outcome == models.TransitionRejected {
		return transitionError(taskID, task.Status, event)
	}
	_, err := s.log.Append(taskID, store.NewEvent{Type: event, Payload: payload})
	return err
}
