package api

import (
	"net/http"
	"sort"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/tasks"
)

// createTaskHandler handles POST /api/v1/tasks.
func (s *Server) createTaskHandler(c *echo.Context) error {
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if s.agents != nil && req.AgentID != "" && !s.agents.HasAgent(req.AgentID) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown agent: "+req.AgentID)
	}

	taskID, err := s.tasks.CreateTask(c.Request().Context(), tasks.CreateTaskInput{
		Title:         req.Title,
		Intent:        req.Intent,
		Priority:      models.Priority(req.Priority),
		AgentID:       req.AgentID,
		ParentTaskID:  req.ParentTaskID,
		AuthorActorID: req.Author,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, &CreateTaskResponse{TaskID: taskID})
}

// listTasksHandler handles GET /api/v1/tasks. Optional comma-separated
// status filter; newest first.
func (s *Server) listTasksHandler(c *echo.Context) error {
	var filter map[models.TaskStatus]bool
	if v := c.QueryParam("status"); v != "" {
		filter = make(map[models.TaskStatus]bool)
		for _, st := range strings.Split(v, ",") {
			status := models.TaskStatus(st)
			if !validStatus(status) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+st)
			}
			filter[status] = true
		}
	}

	all := s.projection.ListTasks()
	out := make([]models.Task, 0, len(all))
	for _, task := range all {
		if filter == nil || filter[task.Status] {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return c.JSON(http.StatusOK, &TaskListResponse{Tasks: out})
}

// getTaskHandler handles GET /api/v1/tasks/:id.
func (s *Server) getTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}

	task, ok := s.projection.GetTask(taskID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	return c.JSON(http.StatusOK, task)
}

// taskMessagesHandler handles GET /api/v1/tasks/:id/messages.
func (s *Server) taskMessagesHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if _, ok := s.projection.GetTask(taskID); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}

	return c.JSON(http.StatusOK, &MessagesResponse{
		TaskID:   taskID,
		Messages: s.conv.Records(taskID),
	})
}

// taskEventsHandler handles GET /api/v1/tasks/:id/events.
func (s *Server) taskEventsHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if _, ok := s.projection.GetTask(taskID); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}

	return c.JSON(http.StatusOK, &EventsResponse{
		TaskID: taskID,
		Events: s.events.ReadStream(taskID, 0),
	})
}

// cancelTaskHandler handles POST /api/v1/tasks/:id/cancel.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	req := s.optionalReason(c)
	if err := s.tasks.CancelTask(c.Request().Context(), taskID, req.Reason); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CommandResponse{TaskID: taskID, Status: "canceled"})
}

// pauseTaskHandler handles POST /api/v1/tasks/:id/pause.
func (s *Server) pauseTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	req := s.optionalReason(c)
	if err := s.tasks.PauseTask(c.Request().Context(), taskID, req.Reason); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CommandResponse{TaskID: taskID, Status: "paused"})
}

// resumeTaskHandler handles POST /api/v1/tasks/:id/resume.
func (s *Server) resumeTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if err := s.tasks.ResumeTask(c.Request().Context(), taskID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CommandResponse{TaskID: taskID, Status: "resumed"})
}

// addInstructionHandler handles POST /api/v1/tasks/:id/instructions.
func (s *Server) addInstructionHandler(c *echo.Context) error {
	taskID := c.Param("id")
	var req InstructionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.tasks.AddInstruction(c.Request().Context(), taskID, req.Text, req.Author); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, &CommandResponse{TaskID: taskID, Status: "queued"})
}

// respondHandler handles POST /api/v1/tasks/:id/respond.
func (s *Server) respondHandler(c *echo.Context) error {
	taskID := c.Param("id")
	var req RespondRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.InteractionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "interactionId is required")
	}
	if req.SelectedOptionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "selectedOptionId is required")
	}

	err := s.tasks.RespondToInteraction(c.Request().Context(), taskID, req.InteractionID,
		models.UserInteractionRespondedPayload{
			SelectedOptionID: req.SelectedOptionID,
			InputValue:       req.InputValue,
		})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CommandResponse{TaskID: taskID, Status: "responded"})
}

// optionalReason parses a reason body, tolerating an empty or absent one.
func (s *Server) optionalReason(c *echo.Context) ReasonRequest {
	var req ReasonRequest
	_ = c.Bind(&req)
	return req
}

func validStatus(status models.TaskStatus) bool {
	switch status {
	case models.StatusOpen, models.StatusInProgress, models.StatusAwaitingUser,
		models.StatusPaused, models.StatusDone, models.StatusFailed, models.StatusCanceled:
		return true
	}
	return false
}
