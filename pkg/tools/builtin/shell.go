package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loomworks/loom/pkg/tools"
)

// defaultCommandTimeout bounds shell commands that do not set one.
const defaultCommandTimeout = 2 * time.Minute

// maxCommandOutput bounds combined stdout/stderr returned to the LLM.
const maxCommandOutput = 64 * 1024

type runCommandArgs struct {
	Command        string `json:"command" jsonschema:"required,description=Shell command to run in the workspace directory"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"description=Optional timeout in seconds (default 120)"`
}

type runCommandTool struct{}

func (runCommandTool) Name() string { return "run_command" }
func (runCommandTool) Description() string {
	return "Run a shell command in the workspace directory and return its output."
}
func (runCommandTool) Group() string { return GroupShell }
func (runCommandTool) Parameters() map[string]any {
	return tools.SchemaFor[runCommandArgs]()
}
func (runCommandTool) RiskLevel(_ json.RawMessage, tc *tools.Context) tools.RiskLevel {
	return writeRisk(tc)
}

func (runCommandTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
	var in runCommandArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := defaultCommandTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", in.Command)
	cmd.Dir = tc.BaseDir
	output, err := cmd.CombinedOutput()

	text := string(output)
	if len(text) > maxCommandOutput {
		text = text[:maxCommandOutput] + "\n... [truncated]"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return tools.ErrorResult(fmt.Sprintf("command timed out after %s\n%s", timeout, text)), nil
	}
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, text)), nil
	}
	return &tools.Result{Content: text}, nil
}
