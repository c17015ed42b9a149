package api

import (
	"github.com/loomworks/loom/pkg/models"
)

// CreateTaskResponse is returned by POST /api/v1/tasks.
type CreateTaskResponse struct {
	TaskID string `json:"taskId"`
}

// TaskListResponse is returned by GET /api/v1/tasks.
type TaskListResponse struct {
	Tasks []models.Task `json:"tasks"`
}

// MessagesResponse is returned by GET /api/v1/tasks/:id/messages.
type MessagesResponse struct {
	TaskID   string                 `json:"taskId"`
	Messages []models.StoredMessage `json:"messages"`
}

// EventsResponse is returned by GET /api/v1/tasks/:id/events.
type EventsResponse struct {
	TaskID string               `json:"taskId"`
	Events []models.StoredEvent `json:"events"`
}

// CommandResponse acknowledges a lifecycle command.
type CommandResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Running bool   `json:"running"`
}
