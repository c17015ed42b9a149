package config

import "time"

// TransportType selects how an MCP server is reached.
type TransportType string

// Transport types.
const (
	TransportTypeStdio TransportType = "stdio"
	TransportTypeHTTP  TransportType = "http"
	TransportTypeSSE   TransportType = "sse"
)

// ValidTransportType reports whether t is a known transport type.
func ValidTransportType(t TransportType) bool {
	switch t {
	case TransportTypeStdio, TransportTypeHTTP, TransportTypeSSE:
		return true
	}
	return false
}

// TransportConfig defines how to reach one MCP server.
type TransportConfig struct {
	Type TransportType `yaml:"type"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // Environment overrides for the subprocess

	// For http/sse transport
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // In seconds
}

// MCPServerConfig defines one MCP server namespace. Its tools register under
// "<serverID>.<toolName>".
type MCPServerConfig struct {
	Transport TransportConfig `yaml:"transport"`

	// Risk applied to every tool of this server: "safe" or "risky".
	// Defaults to risky; external tools confirm unless stated otherwise.
	Risk string `yaml:"risk,omitempty"`

	// Instructions for the LLM when using this server's tools.
	Instructions string `yaml:"instructions,omitempty"`
}

// AgentConfig defines one registered agent.
type AgentConfig struct {
	// DisplayName shown in the UI. Defaults to the agent id.
	DisplayName string `yaml:"display_name,omitempty"`

	// BaseDir is the agent's working directory, relative paths resolve
	// against the workspace dir. Defaults to the workspace dir itself.
	BaseDir string `yaml:"base_dir,omitempty"`

	// MaxIterations bounds the agent's LLM loop. Zero means the default.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// MCPServers lists the MCP server ids whose tools this agent may use.
	MCPServers []string `yaml:"mcp_servers,omitempty"`

	// Streaming overrides the global streaming setting for this agent.
	Streaming *bool `yaml:"streaming,omitempty"`
}

// LLMConfig holds the OpenAI-compatible provider settings.
type LLMConfig struct {
	APIKey      string   `yaml:"api_key,omitempty"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Temperature *float32 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	Streaming   *bool    `yaml:"streaming,omitempty"`
}

// StreamingEnabled reports the effective streaming setting.
func (c *LLMConfig) StreamingEnabled() bool {
	return c.Streaming == nil || *c.Streaming
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Listen           string   `yaml:"listen,omitempty"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
}

// PolicyConfig selects the tool risk policy.
type PolicyConfig struct {
	// Mode is "default" (writes and shell confirm) or "yolo" (never confirm).
	Mode string `yaml:"mode,omitempty"`
}

// LimitsConfig bounds orchestration.
type LimitsConfig struct {
	SubtaskDepth   int    `yaml:"subtask_depth,omitempty"`
	SubtaskTimeout string `yaml:"subtask_timeout,omitempty"` // Parsed to time.Duration
}

// SubtaskTimeoutDuration parses the subtask timeout, falling back to the
// default on absence or a malformed value.
func (c *LimitsConfig) SubtaskTimeoutDuration() time.Duration {
	if c.SubtaskTimeout == "" {
		return DefaultSubtaskTimeout
	}
	d, err := time.ParseDuration(c.SubtaskTimeout)
	if err != nil || d <= 0 {
		return DefaultSubtaskTimeout
	}
	return d
}

// BoolPtr returns a pointer to b. Convenience for *bool struct fields.
func BoolPtr(b bool) *bool { return &b }
