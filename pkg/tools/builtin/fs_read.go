package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/loomworks/loom/pkg/tools"
)

// maxReadBytes bounds file content returned to the LLM.
const maxReadBytes = 256 * 1024

type readFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=Workspace-relative path of the file to read"`
}

type readFileTool struct{}

func (readFileTool) Name() string        { return "read_file" }
func (readFileTool) Description() string { return "Read the contents of a file in the workspace." }
func (readFileTool) Group() string       { return GroupFilesystem }
func (readFileTool) Parameters() map[string]any {
	return tools.SchemaFor[readFileArgs]()
}
func (readFileTool) RiskLevel(json.RawMessage, *tools.Context) tools.RiskLevel {
	return tools.RiskSafe
}

func (readFileTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
	var in readFileArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	path, err := resolvePath(tc.BaseDir, in.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n... [truncated]"
	}
	return &tools.Result{Content: content}, nil
}

type listDirArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Workspace-relative directory to list (defaults to the workspace root)"`
}

type listDirTool struct{}

func (listDirTool) Name() string        { return "list_dir" }
func (listDirTool) Description() string { return "List the entries of a workspace directory." }
func (listDirTool) Group() string       { return GroupFilesystem }
func (listDirTool) Parameters() map[string]any {
	return tools.SchemaFor[listDirArgs]()
}
func (listDirTool) RiskLevel(json.RawMessage, *tools.Context) tools.RiskLevel {
	return tools.RiskSafe
}

func (listDirTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
	var in listDirArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("parsing arguments: %w", err)
		}
	}
	dir := tc.BaseDir
	if in.Path != "" {
		resolved, err := resolvePath(tc.BaseDir, in.Path)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", entry.Name())
		}
	}
	return &tools.Result{Content: b.String()}, nil
}

type globArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern matched against workspace-relative paths"`
}

type globTool struct{}

func (globTool) Name() string        { return "glob" }
func (globTool) Description() string { return "Find workspace files whose paths match a glob pattern." }
func (globTool) Group() string       { return GroupFilesystem }
func (globTool) Parameters() map[string]any {
	return tools.SchemaFor[globArgs]()
}
func (globTool) RiskLevel(json.RawMessage, *tools.Context) tools.RiskLevel {
	return tools.RiskSafe
}

func (globTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
	var in globArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	if in.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	var matches []string
	err := filepath.WalkDir(tc.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(tc.BaseDir, path)
		if relErr != nil {
			return nil
		}
		ok, matchErr := filepath.Match(in.Pattern, rel)
		if matchErr != nil {
			return matchErr
		}
		if !ok {
			// Also match against the basename so "*.go" finds nested files.
			ok, _ = filepath.Match(in.Pattern, filepath.Base(rel))
		}
		if ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return &tools.Result{Content: strings.Join(matches, "\n")}, nil
}

type grepArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Regular expression to search for"`
	Path    string `json:"path,omitempty" jsonschema:"description=Workspace-relative file or directory to search (defaults to the workspace root)"`
}

type grepTool struct{}

func (grepTool) Name() string        { return "grep" }
func (grepTool) Description() string { return "Search workspace files for a regular expression." }
func (grepTool) Group() string       { return GroupFilesystem }
func (grepTool) Parameters() map[string]any {
	return tools.SchemaFor[grepArgs]()
}
func (grepTool) RiskLevel(json.RawMessage, *tools.Context) tools.RiskLevel {
	return tools.RiskSafe
}

func (grepTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
	var in grepArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	root := tc.BaseDir
	if in.Path != "" {
		resolved, err := resolvePath(tc.BaseDir, in.Path)
		if err != nil {
			return nil, err
		}
		root = resolved
	}

	var b strings.Builder
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, _ := filepath.Rel(tc.BaseDir, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&b, "%s:%d:%s\n", rel, i+1, line)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Content: b.String()}, nil
}
