package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/loomworks/loom/pkg/version"
)

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	running := s.agents != nil && s.agents.Running()
	status := "ok"
	if !running {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Running: running,
	})
}
