// Package builtin provides the built-in tool set: sandboxed filesystem
// reads and writes plus shell execution. Reads are safe; writes and shell
// are risky under the default policy and require user confirmation.
package builtin

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loomworks/loom/pkg/tools"
)

// Tool groups.
const (
	GroupFilesystem = "filesystem"
	GroupShell      = "shell"
)

// All returns the full builtin tool set for static registration.
func All() []tools.Tool {
	return []tools.Tool{
		readFileTool{},
		listDirTool{},
		globTool{},
		grepTool{},
		writeFileTool{},
		editFileTool{},
		runCommandTool{},
	}
}

// resolvePath joins a relative path onto the task base dir and rejects
// escapes. Absolute paths and ".." traversal outside the base dir fail.
func resolvePath(baseDir, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	abs := filepath.Clean(filepath.Join(baseDir, rel))
	base := filepath.Clean(baseDir)
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", rel)
	}
	return abs, nil
}

// writeRisk classifies mutating tools under the current policy mode.
func writeRisk(tc *tools.Context) tools.RiskLevel {
	if tc != nil && tc.Policy == tools.PolicyYolo {
		return tools.RiskSafe
	}
	return tools.RiskRisky
}
