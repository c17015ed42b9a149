package models

import (
	"encoding/json"
	"time"
)

// AuditType tags an audit log entry.
type AuditType string

// Audit entry types.
const (
	AuditToolCallRequested AuditType = "ToolCallRequested"
	AuditToolCallCompleted AuditType = "ToolCallCompleted"
)

// AuditPayload records one side of a tool invocation. Input is set on
// Requested entries, Output/IsError/DurationMs on Completed entries.
type AuditPayload struct {
	TaskID        string          `json:"taskId"`
	ToolCallID    string          `json:"toolCallId"`
	ToolName      string          `json:"toolName"`
	Input         json.RawMessage `json:"input,omitempty"`
	Output        string          `json:"output,omitempty"`
	IsError       bool            `json:"isError,omitempty"`
	DurationMs    int64           `json:"durationMs,omitempty"`
	AuthorActorID string          `json:"authorActorId,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// AuditEntry is one row of the append-only audit log. Audit entries never
// enter conversation history.
type AuditEntry struct {
	ID        uint64       `json:"id"`
	Type      AuditType    `json:"type"`
	Payload   AuditPayload `json:"payload"`
	CreatedAt time.Time    `json:"createdAt"`
}
