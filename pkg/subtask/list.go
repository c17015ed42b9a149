package subtask

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loomworks/loom/pkg/tools"
)

type listSubtaskArgs struct {
	TaskID string `json:"taskId,omitempty" jsonschema:"description=Task whose children to list; defaults to the current task"`
}

// listSubtaskTool reads the direct children of a task from the projection.
// Non-blocking; used by the parent to check on work it delegated earlier.
type listSubtaskTool struct {
	bridge *Bridge
}

func (t *listSubtaskTool) Name() string { return "list_subtask" }
func (t *listSubtaskTool) Description() string {
	return "List the current task's subtasks with their status and results."
}
func (t *listSubtaskTool) Group() string { return Group }
func (t *listSubtaskTool) Parameters() map[string]any {
	return tools.SchemaFor[listSubtaskArgs]()
}
func (t *listSubtaskTool) RiskLevel(_ json.RawMessage, _ *tools.Context) tools.RiskLevel {
	return tools.RiskSafe
}

func (t *listSubtaskTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
	var in listSubtaskArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("parsing arguments: %w", err)
		}
	}
	target := in.TaskID
	if target == "" {
		target = tc.TaskID
	}
	if _, ok := t.bridge.projection.GetTask(target); !ok {
		return nil, fmt.Errorf("task %s not found", target)
	}

	children := t.bridge.projection.ListChildren(target)
	results := make([]childResult, len(children))
	for i, child := range children {
		results[i] = t.bridge.resolve(child)
	}

	raw, err := json.Marshal(map[string]any{"taskId": target, "subtasks": results})
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return &tools.Result{Content: string(raw)}, nil
}
