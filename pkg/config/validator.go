package config

import "fmt"

// validate performs cross-reference and value validation on the loaded
// configuration. Load-time defaults have already been applied.
func validate(cfg *Config) error {
	if len(cfg.Agents.IDs()) == 0 {
		return NewValidationError("config", FileName, "agents", fmt.Errorf("%w: at least one agent is required", ErrInvalidValue))
	}

	switch cfg.Policy.Mode {
	case "default", "yolo":
	default:
		return NewValidationError("policy", "mode", "", fmt.Errorf("%w: %q (want default or yolo)", ErrInvalidValue, cfg.Policy.Mode))
	}

	if cfg.Limits.SubtaskDepth < 1 {
		return NewValidationError("limits", "subtask_depth", "", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}

	for _, id := range cfg.Agents.IDs() {
		agent, err := cfg.Agents.Get(id)
		if err != nil {
			return err
		}
		if agent.MaxIterations < 1 {
			return NewValidationError("agent", id, "max_iterations", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
		for _, serverID := range agent.MCPServers {
			if !cfg.MCPServers.Has(serverID) {
				return NewValidationError("agent", id, "mcp_servers", fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID))
			}
		}
	}

	for _, id := range cfg.MCPServers.IDs() {
		server, err := cfg.MCPServers.Get(id)
		if err != nil {
			return err
		}
		if err := validateTransport(id, server.Transport); err != nil {
			return err
		}
		switch server.Risk {
		case "", "safe", "risky":
		default:
			return NewValidationError("mcp_server", id, "risk", fmt.Errorf("%w: %q (want safe or risky)", ErrInvalidValue, server.Risk))
		}
	}
	return nil
}

func validateTransport(serverID string, t TransportConfig) error {
	if !ValidTransportType(t.Type) {
		return NewValidationError("mcp_server", serverID, "transport.type", fmt.Errorf("%w: %q", ErrInvalidValue, t.Type))
	}
	switch t.Type {
	case TransportTypeStdio:
		if t.Command == "" {
			return NewValidationError("mcp_server", serverID, "transport.command", fmt.Errorf("%w: stdio transport requires command", ErrInvalidValue))
		}
	case TransportTypeHTTP, TransportTypeSSE:
		if t.URL == "" {
			return NewValidationError("mcp_server", serverID, "transport.url", fmt.Errorf("%w: %s transport requires url", ErrInvalidValue, t.Type))
		}
	}
	return nil
}
