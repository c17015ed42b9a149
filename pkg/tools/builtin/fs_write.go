package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loomworks/loom/pkg/tools"
)

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Workspace-relative path of the file to create or overwrite"`
	Content string `json:"content" jsonschema:"required,description=Full file content to write"`
}

type writeFileTool struct{}

func (writeFileTool) Name() string { return "write_file" }
func (writeFileTool) Description() string {
	return "Create or overwrite a workspace file with the given content."
}
func (writeFileTool) Group() string { return GroupFilesystem }
func (writeFileTool) Parameters() map[string]any {
	return tools.SchemaFor[writeFileArgs]()
}
func (writeFileTool) RiskLevel(_ json.RawMessage, tc *tools.Context) tools.RiskLevel {
	return writeRisk(tc)
}

func (writeFileTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
	var in writeFileArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	path, err := resolvePath(tc.BaseDir, in.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
		return nil, err
	}
	return &tools.Result{Content: fmt.Sprintf("Wrote %d bytes to %s", len(in.Content), in.Path)}, nil
}

type editFileArgs struct {
	Path       string `json:"path" jsonschema:"required,description=Workspace-relative path of the file to edit"`
	Old        string `json:"old" jsonschema:"required,description=Exact text to replace; must occur exactly once"`
	New        string `json:"new" jsonschema:"required,description=Replacement text"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema:"description=Replace every occurrence instead of requiring a unique match"`
}

type editFileTool struct{}

func (editFileTool) Name() string { return "edit_file" }
func (editFileTool) Description() string {
	return "Replace an exact text fragment inside a workspace file."
}
func (editFileTool) Group() string { return GroupFilesystem }
func (editFileTool) Parameters() map[string]any {
	return tools.SchemaFor[editFileArgs]()
}
func (editFileTool) RiskLevel(_ json.RawMessage, tc *tools.Context) tools.RiskLevel {
	return writeRisk(tc)
}

func (editFileTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
	var in editFileArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	if in.Old == "" {
		return nil, fmt.Errorf("old text is required")
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

	count := strings.Count(content, in.Old)
	switch {
	case count == 0:
		return nil, fmt.Errorf("text not found in %s", in.Path)
	case count > 1 && !in.ReplaceAll:
		return nil, fmt.Errorf("text occurs %d times in %s; pass replace_all or make it unique", count, in.Path)
	}

	updated := strings.Replace(content, in.Old, in.New, -1)
	if !in.ReplaceAll {
		updated = strings.Replace(content, in.Old, in.New, 1)
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return nil, err
	}
	replaced := 1
	if in.ReplaceAll {
		replaced = count
	}
	return &tools.Result{Content: fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, in.Path)}, nil
}
