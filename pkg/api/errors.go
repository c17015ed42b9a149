package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/loomworks/loom/pkg/tasks"
)

// mapServiceError maps task-service errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *tasks.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, tasks.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if errors.Is(err, tasks.ErrInvalidTransition) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if errors.Is(err, tasks.ErrInteractionMismatch) {
		return echo.NewHTTPError(http.StatusConflict, "interaction is not pending for this task")
	}
	if errors.Is(err, tasks.ErrCycle) {
		return echo.NewHTTPError(http.StatusConflict, "task parent chain contains a cycle")
	}
	if errors.Is(err, tasks.ErrDepthExceeded) {
		return echo.NewHTTPError(http.StatusConflict, "subtask depth limit exceeded")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
