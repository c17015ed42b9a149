// Package api exposes the kernel over HTTP and WebSocket: a JSON command
// surface for the task service, read endpoints over the projection and the
// logs, and two subscription streams (domain events and UI events).
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/conversation"
	"github.com/loomworks/loom/pkg/projection"
	"github.com/loomworks/loom/pkg/runtime"
	"github.com/loomworks/loom/pkg/store"
	"github.com/loomworks/loom/pkg/tasks"
)

// AgentDirectory answers which agents commands may target. Satisfied by
// runtime.Manager.
type AgentDirectory interface {
	HasAgent(agentID string) bool
	Running() bool
}

// Server is the HTTP + WebSocket adapter.
type Server struct {
	echo       *echo.Echo
	http       *http.Server
	tasks      *tasks.Service
	projection *projection.TaskProjection
	conv       *conversation.Manager
	events     *store.EventLog
	ui         *runtime.Bus
	agents     AgentDirectory

	allowedOrigins []string
}

// Options carries the server's collaborators.
type Options struct {
	Config     *config.Config
	Tasks      *tasks.Service
	Projection *projection.TaskProjection
	Conv       *conversation.Manager
	Events     *store.EventLog
	UI         *runtime.Bus
	Agents     AgentDirectory
}

// NewServer creates the server and registers all routes.
func NewServer(opts Options) *Server {
	s := &Server{
		tasks:      opts.Tasks,
		projection: opts.Projection,
		conv:       opts.Conv,
		events:     opts.Events,
		ui:         opts.UI,
		agents:     opts.Agents,
	}
	if opts.Config != nil {
		s.allowedOrigins = opts.Config.Server.AllowedWSOrigins
	}

	e := echo.New()
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/tasks", s.createTaskHandler)
	v1.GET("/tasks", s.listTasksHandler)
	v1.GET("/tasks/:id", s.getTaskHandler)
	v1.GET("/tasks/:id/messages", s.taskMessagesHandler)
	v1.GET("/tasks/:id/events", s.taskEventsHandler)
	v1.POST("/tasks/:id/cancel", s.cancelTaskHandler)
	v1.POST("/tasks/:id/pause", s.pauseTaskHandler)
	v1.POST("/tasks/:id/resume", s.resumeTaskHandler)
	v1.POST("/tasks/:id/instructions", s.addInstructionHandler)
	v1.POST("/tasks/:id/respond", s.respondHandler)

	e.GET("/ws/events", s.eventsWSHandler)
	e.GET("/ws/ui", s.uiWSHandler)

	s.echo = e
	return s
}

// ServeHTTP makes the server usable directly as a handler (tests, embedding).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr and serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
