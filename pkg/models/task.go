package models

import "time"

// TaskStatus is the projected lifecycle status of a task.
type TaskStatus string

// Task status values.
const (
	StatusOpen         TaskStatus = "open"
	StatusInProgress   TaskStatus = "in_progress"
	StatusAwaitingUser TaskStatus = "awaiting_user"
	StatusPaused       TaskStatus = "paused"
	StatusDone         TaskStatus = "done"
	StatusFailed       TaskStatus = "failed"
	StatusCanceled     TaskStatus = "canceled"
)

// IsTerminal reports whether the status admits no further lifecycle events
// other than instruction-driven reopening of done tasks.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCanceled
}

// Priority orders tasks for UI presentation. The kernel itself does not
// schedule by priority.
type Priority string

// Priority values.
const (
	PriorityForeground Priority = "foreground"
	PriorityNormal     Priority = "normal"
	PriorityBackground Priority = "background"
)

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityForeground, PriorityNormal, PriorityBackground:
		return true
	}
	return false
}

// Task is the projected entity folded from a task's event stream.
type Task struct {
	TaskID               string     `json:"taskId"`
	Title                string     `json:"title"`
	Intent               string     `json:"intent,omitempty"`
	Priority             Priority   `json:"priority"`
	AgentID              string     `json:"agentId"`
	ParentTaskID         string     `json:"parentTaskId,omitempty"`
	ChildTaskIDs         []string   `json:"childTaskIds,omitempty"`
	Status               TaskStatus `json:"status"`
	Summary              string     `json:"summary,omitempty"`
	FailureReason        string     `json:"failureReason,omitempty"`
	PendingInteractionID string     `json:"pendingInteractionId,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// TransitionOutcome classifies how a lifecycle event applies to a status.
type TransitionOutcome int

// Transition outcomes. Noop events are accepted at command level but leave
// the status unchanged (the instruction queue cases in the table).
const (
	TransitionRejected TransitionOutcome = iota
	TransitionNoop
	TransitionApplied
)

// Transition evaluates the status transition table for one lifecycle event.
// It returns the next status and whether the event is applied, a no-op, or
// rejected. Non-lifecycle events (ArtifactChanged and unknown tags) are
// no-ops from any status.
func Transition(current TaskStatus, event EventType) (TaskStatus, TransitionOutcome) {
	switch event {
	case EventTaskStarted:
		switch current {
		case StatusOpen:
			return StatusInProgress, TransitionApplied
		case StatusInProgress, StatusAwaitingUser:
			return current, TransitionNoop
		}
	case EventTaskPaused:
		switch current {
		case StatusInProgress, StatusAwaitingUser:
			return StatusPaused, TransitionApplied
		}
	case EventTaskResumed:
		if current == StatusPaused {
			return StatusInProgress, TransitionApplied
		}
	case EventTaskCanceled:
		switch current {
		case StatusOpen, StatusInProgress, StatusAwaitingUser, StatusPaused:
			return StatusCanceled, TransitionApplied
		}
	case EventTaskCompleted:
		if current == StatusInProgress {
			return StatusDone, TransitionApplied
		}
	case EventTaskFailed:
		switch current {
		case StatusInProgress:
			return StatusFailed, TransitionApplied
		case StatusPaused:
			// Accepted but queued: a failure surfacing while paused does not
			// flip the status out from under the pause.
			return current, TransitionNoop
		}
	case EventTaskInstructionAdded:
		switch current {
		case StatusOpen, StatusInProgress, StatusDone:
			return StatusInProgress, TransitionApplied
		case StatusAwaitingUser, StatusPaused:
			return current, TransitionNoop
		}
	case EventUserInteractionRequested:
		if current == StatusInProgress {
			return StatusAwaitingUser, TransitionApplied
		}
	case EventUserInteractionResponded:
		if current == StatusAwaitingUser {
			return StatusInProgress, TransitionApplied
		}
	default:
		return current, TransitionNoop
	}
	return current, TransitionRejected
}
