package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file loaded from the config directory.
const FileName = "loom.yaml"

// fileConfig represents the complete loom.yaml file structure.
type fileConfig struct {
	Workspace  string                      `yaml:"workspace"`
	Server     ServerConfig                `yaml:"server"`
	LLM        LLMConfig                   `yaml:"llm"`
	Policy     PolicyConfig                `yaml:"policy"`
	Limits     LimitsConfig                `yaml:"limits"`
	Agents     map[string]*AgentConfig     `yaml:"agents"`
	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read loom.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML
//  4. Merge over built-in defaults
//  5. Resolve the workspace dir to an absolute path
//  6. Build registries and validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"workspace", cfg.WorkspaceDir,
		"agents", stats.Agents,
		"mcp_servers", stats.MCPServers)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(FileName, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError(FileName, err)
	}

	data = ExpandEnv(data)

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, NewLoadError(FileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	// User values override defaults; unset fields keep the default.
	merged := defaultFileConfig()
	if err := mergo.Merge(merged, &file, mergo.WithOverride); err != nil {
		return nil, NewLoadError(FileName, fmt.Errorf("merging defaults: %w", err))
	}

	workspace := merged.Workspace
	if !filepath.IsAbs(workspace) {
		workspace = filepath.Join(configDir, workspace)
	}

	if merged.Agents == nil {
		merged.Agents = make(map[string]*AgentConfig)
	}
	if merged.MCPServers == nil {
		merged.MCPServers = make(map[string]*MCPServerConfig)
	}
	for id, agent := range merged.Agents {
		if agent.DisplayName == "" {
			agent.DisplayName = id
		}
		if agent.MaxIterations == 0 {
			agent.MaxIterations = DefaultMaxIterations
		}
	}

	return &Config{
		WorkspaceDir: workspace,
		Server:       merged.Server,
		LLM:          merged.LLM,
		Policy:       merged.Policy,
		Limits:       merged.Limits,
		Agents:       NewAgentRegistry(merged.Agents),
		MCPServers:   NewMCPServerRegistry(merged.MCPServers),
	}, nil
}
