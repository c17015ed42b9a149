// Package config loads and validates loom.yaml: workspace location, the LLM
// provider, agents, MCP servers, the risk policy, and orchestration limits.
// Environment variables are expanded with {{.VAR}} template syntax before
// parsing; user values merge over built-in defaults.
package config

import "path/filepath"

// Config is the validated, ready-to-use configuration.
type Config struct {
	// WorkspaceDir is the absolute directory holding the JSONL logs and the
	// agents' working trees.
	WorkspaceDir string

	Server ServerConfig
	LLM    LLMConfig
	Policy PolicyConfig
	Limits LimitsConfig

	Agents     *AgentRegistry
	MCPServers *MCPServerRegistry
}

// AgentBaseDir resolves an agent's working directory against the workspace.
func (c *Config) AgentBaseDir(agent *AgentConfig) string {
	if agent.BaseDir == "" {
		return c.WorkspaceDir
	}
	if filepath.IsAbs(agent.BaseDir) {
		return agent.BaseDir
	}
	return filepath.Join(c.WorkspaceDir, agent.BaseDir)
}

// Stats summarizes the loaded configuration for startup logging.
type Stats struct {
	Agents     int
	MCPServers int
}

// Stats returns counts of the loaded components.
func (c *Config) Stats() Stats {
	return Stats{
		Agents:     len(c.Agents.IDs()),
		MCPServers: len(c.MCPServers.IDs()),
	}
}
