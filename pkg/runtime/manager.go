package runtime

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/projection"
)

// Manager holds the registered agent runtimes and routes tasks to them.
type Manager struct {
	mu       sync.RWMutex
	runtimes map[string]*AgentRuntime
	started  bool
}

// NewManager creates an empty runtime manager.
func NewManager() *Manager {
	return &Manager{runtimes: make(map[string]*AgentRuntime)}
}

// Register adds a runtime. Duplicate agent ids are rejected.
func (m *Manager) Register(rt *AgentRuntime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := rt.AgentID()
	if _, exists := m.runtimes[id]; exists {
		return fmt.Errorf("agent %s already registered", id)
	}
	m.runtimes[id] = rt
	return nil
}

// HasAgent reports whether an agent id is registered. Used by subtask
// creation to validate the target agent.
func (m *Manager) HasAgent(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.runtimes[agentID]
	return ok
}

// Running reports whether the manager has been started and not stopped.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// Get returns the runtime for an agent id.
func (m *Manager) Get(agentID string) (*AgentRuntime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[agentID]
	return rt, ok
}

// StartAll starts every registered runtime.
func (m *Manager) StartAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.runtimes {
		rt.Start()
	}
	m.started = true
	slog.Info("Runtime manager started", "agents", len(m.runtimes))
}

// StopAll stops every runtime and waits for their loops to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.runtimes {
		rt.Stop()
	}
	m.started = false
	slog.Info("Runtime manager stopped")
}

// RecoverInFlight re-drives tasks projected in_progress at startup: each is
// routed to its runtime, which repairs the conversation and resumes the
// loop. Tasks bound to unregistered agents are skipped with a warning.
func (m *Manager) RecoverInFlight(proj *projection.TaskProjection) {
	for _, task := range proj.ListTasks() {
		if task.Status != models.StatusInProgress {
			continue
		}
		rt, ok := m.Get(task.AgentID)
		if !ok {
			slog.Warn("Cannot recover task: agent not registered",
				"task_id", task.TaskID, "agent_id", task.AgentID)
			continue
		}
		slog.Info("Recovering in-progress task", "task_id", task.TaskID, "agent_id", task.AgentID)
		rt.ExecuteTask(task.TaskID)
	}
}
