// Package models defines the shared domain types: stored events, tasks,
// conversation messages, audit entries, and user interactions. Types here
// carry no behavior beyond validation and the task status transition table.
package models

import (
	"encoding/json"
	"time"
)

// EventType tags a stored domain event.
type EventType string

// Core event tags. The projection treats unknown tags as no-ops so new tags
// can be introduced without breaking replay of old logs.
const (
	EventTaskCreated              EventType = "TaskCreated"
	EventTaskStarted              EventType = "TaskStarted"
	EventTaskPaused               EventType = "TaskPaused"
	EventTaskResumed              EventType = "TaskResumed"
	EventTaskCanceled             EventType = "TaskCanceled"
	EventTaskCompleted            EventType = "TaskCompleted"
	EventTaskFailed               EventType = "TaskFailed"
	EventTaskInstructionAdded     EventType = "TaskInstructionAdded"
	EventUserInteractionRequested EventType = "UserInteractionRequested"
	EventUserInteractionResponded EventType = "UserInteractionResponded"
	EventArtifactChanged          EventType = "ArtifactChanged"
)

// StoredEvent is one row of the append-only event log.
//
// ID is strictly increasing across the whole log; (StreamID, Seq) is unique
// and dense starting at 1. Events are immutable once appended.
type StoredEvent struct {
	ID        uint64          `json:"id"`
	StreamID  string          `json:"streamId"`
	Seq       uint32          `json:"seq"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DecodePayload unmarshals the event payload into v.
func (e *StoredEvent) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// TaskCreatedPayload is the payload of EventTaskCreated.
type TaskCreatedPayload struct {
	Title         string   `json:"title"`
	Intent        string   `json:"intent,omitempty"`
	Priority      Priority `json:"priority"`
	AgentID       string   `json:"agentId"`
	ParentTaskID  string   `json:"parentTaskId,omitempty"`
	AuthorActorID string   `json:"authorActorId,omitempty"`
}

// TaskStartedPayload is the payload of EventTaskStarted.
type TaskStartedPayload struct {
	AgentID string `json:"agentId,omitempty"`
}

// TaskPausedPayload is the payload of EventTaskPaused.
type TaskPausedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// TaskResumedPayload is the payload of EventTaskResumed.
type TaskResumedPayload struct{}

// TaskCanceledPayload is the payload of EventTaskCanceled.
type TaskCanceledPayload struct {
	Reason string `json:"reason,omitempty"`
}

// TaskCompletedPayload is the payload of EventTaskCompleted.
type TaskCompletedPayload struct {
	Summary string `json:"summary,omitempty"`
}

// TaskFailedPayload is the payload of EventTaskFailed.
type TaskFailedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// TaskInstructionAddedPayload is the payload of EventTaskInstructionAdded.
type TaskInstructionAddedPayload struct {
	Text          string `json:"text"`
	AuthorActorID string `json:"authorActorId,omitempty"`
}

// InteractionOption is one choice offered to the user in a confirmation
// request. The approve option id is fixed — see OptionApprove.
type InteractionOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Well-known interaction option ids.
const (
	OptionApprove = "approve"
	OptionReject  = "reject"
)

// UserInteractionRequestedPayload is the payload of EventUserInteractionRequested.
// For tool confirmations, ToolCallID binds the eventual approval to exactly
// one tool invocation (action-binding).
type UserInteractionRequestedPayload struct {
	InteractionID string              `json:"interactionId"`
	Kind          string              `json:"kind"`
	Prompt        string              `json:"prompt"`
	ToolCallID    string              `json:"toolCallId,omitempty"`
	ToolName      string              `json:"toolName,omitempty"`
	ToolArguments json.RawMessage     `json:"toolArguments,omitempty"`
	Options       []InteractionOption `json:"options,omitempty"`
}

// UserInteractionRespondedPayload is the payload of EventUserInteractionResponded.
type UserInteractionRespondedPayload struct {
	InteractionID    string `json:"interactionId"`
	SelectedOptionID string `json:"selectedOptionId"`
	InputValue       string `json:"inputValue,omitempty"`
}

// Approved reports whether the response authorizes the pending action.
func (p *UserInteractionRespondedPayload) Approved() bool {
	return p.SelectedOptionID == OptionApprove
}

// ArtifactChangedPayload is the payload of EventArtifactChanged.
type ArtifactChangedPayload struct {
	Path   string `json:"path"`
	Change string `json:"change"` // created, modified, deleted
}

// MarshalPayload is a convenience for event producers.
func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
