package tasks

import (
	"errors"
	"fmt"

	"github.com/loomworks/loom/pkg/models"
)

var (
	// ErrNotFound is returned when a task id resolves to nothing.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when the transition table rejects a
	// command for the task's current status. No event is written.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCycle is returned when a parent chain walk revisits a task.
	ErrCycle = errors.New("task parent chain contains a cycle")

	// ErrDepthExceeded is returned when a subtask would exceed the nesting limit.
	ErrDepthExceeded = errors.New("subtask depth limit exceeded")

	// ErrInteractionMismatch is returned when a response names an interaction
	// that is not the task's pending one.
	ErrInteractionMismatch = errors.New("interaction is not pending for this task")
)

// ValidationError wraps field-specific validation failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// transitionError annotates ErrInvalidTransition with the attempted event.
func transitionError(taskID string, status models.TaskStatus, event models.EventType) error {
	return fmt.Errorf("%w: %s cannot accept %s in status %s", ErrInvalidTransition, taskID, event, status)
}
