package config

import "time"

// Built-in defaults applied before the user's loom.yaml is merged on top.
const (
	DefaultListen         = ":8420"
	DefaultModel          = "gpt-4o-mini"
	DefaultPolicyMode     = "default"
	DefaultSubtaskDepth   = 3
	DefaultSubtaskTimeout = 5 * time.Minute
	DefaultMaxIterations  = 30
)

// defaultFileConfig is the baseline the user file merges over.
func defaultFileConfig() *fileConfig {
	return &fileConfig{
		Workspace: "workspace",
		Server:    ServerConfig{Listen: DefaultListen},
		LLM:       LLMConfig{Model: DefaultModel},
		Policy:    PolicyConfig{Mode: DefaultPolicyMode},
		Limits:    LimitsConfig{SubtaskDepth: DefaultSubtaskDepth},
	}
}
