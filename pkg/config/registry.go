package config

import (
	"fmt"
	"sort"
	"sync"
)

// AgentRegistry stores agent configurations in memory with thread-safe
// access. Written once at load time.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentConfig
}

// NewAgentRegistry creates an agent registry.
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	return &AgentRegistry{agents: agents}
}

// Get retrieves an agent configuration by id.
func (r *AgentRegistry) Get(agentID string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, exists := r.agents[agentID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return agent, nil
}

// IDs returns the registered agent ids, sorted.
func (r *AgentRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has checks whether an agent exists in the registry.
func (r *AgentRegistry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.agents[agentID]
	return exists
}

// MCPServerRegistry stores MCP server configurations in memory with
// thread-safe access.
type MCPServerRegistry struct {
	mu      sync.RWMutex
	servers map[string]*MCPServerConfig
}

// NewMCPServerRegistry creates an MCP server registry.
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	return &MCPServerRegistry{servers: servers}
}

// Get retrieves an MCP server configuration by id.
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// IDs returns the registered server ids, sorted.
func (r *MCPServerRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has checks whether an MCP server exists in the registry.
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.servers[serverID]
	return exists
}
