package subtask

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/tasks"
	"github.com/loomworks/loom/pkg/tools"
)

type subtaskSpec struct {
	Title    string `json:"title" jsonschema:"required,description=Short title of the subtask"`
	Intent   string `json:"intent,omitempty" jsonschema:"description=What the subtask should accomplish"`
	AgentID  string `json:"agentId" jsonschema:"required,description=Id of the registered agent to run the subtask"`
	Priority string `json:"priority,omitempty" jsonschema:"description=foreground | normal | background,enum=foreground,enum=normal,enum=background"`
}

type createSubtasksArgs struct {
	Subtasks []subtaskSpec `json:"subtasks" jsonschema:"required,description=Subtasks to create; each blocks until terminal"`
}

// createSubtasksTool creates child tasks and blocks until every child
// reaches a terminal state. Children are processed in order; a child that was
// already created by an interrupted earlier invocation is adopted instead of
// recreated.
type createSubtasksTool struct {
	bridge *Bridge
}

func (t *createSubtasksTool) Name() string { return "create_subtasks" }
func (t *createSubtasksTool) Description() string {
	return "Delegate work to other agents as child tasks and wait for their results. Only available to top-level tasks."
}
func (t *createSubtasksTool) Group() string { return Group }
func (t *createSubtasksTool) Parameters() map[string]any {
	return tools.SchemaFor[createSubtasksArgs]()
}
func (t *createSubtasksTool) RiskLevel(_ json.RawMessage, _ *tools.Context) tools.RiskLevel {
	return tools.RiskSafe
}

// CanExecute validates the orchestration preconditions before any child is
// created, so a doomed batch creates nothing.
func (t *createSubtasksTool) CanExecute(args json.RawMessage, tc *tools.Context) error {
	b := t.bridge
	if b.agents == nil || !b.agents.Running() {
		return fmt.Errorf("agent runtimes are not running")
	}

	depth, err := b.tasks.AncestorDepth(tc.TaskID)
	if err != nil {
		return fmt.Errorf("resolving task depth: %w", err)
	}
	if depth+1 > b.maxDepth {
		return fmt.Errorf("%w (%d)", tasks.ErrDepthExceeded, b.maxDepth)
	}
	if depth != 0 {
		return fmt.Errorf("create_subtasks is only available to top-level tasks")
	}

	var in createSubtasksArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return fmt.Errorf("parsing arguments: %w", err)
	}
	if len(in.Subtasks) == 0 {
		return fmt.Errorf("at least one subtask is required")
	}
	for _, spec := range in.Subtasks {
		if !b.agents.HasAgent(spec.AgentID) {
			return fmt.Errorf("agent %q is not registered", spec.AgentID)
		}
	}
	return nil
}

func (t *createSubtasksTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
	if err := t.CanExecute(args, tc); err != nil {
		return nil, err
	}
	var in createSubtasksArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}

	results := make([]childResult, 0, len(in.Subtasks))
	for _, spec := range in.Subtasks {
		result, err := t.runChild(ctx, tc, spec)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	raw, err := json.Marshal(map[string]any{"subtasks": results})
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return &tools.Result{Content: string(raw)}, nil
}

func (t *createSubtasksTool) runChild(ctx context.Context, tc *tools.Context, spec subtaskSpec) (childResult, error) {
	b := t.bridge

	// Subscribe before create, so the child cannot finish unobserved.
	watch := watchTerminal(b.log)
	defer watch.cancel()

	childID, adopted, err := t.ensureChild(ctx, tc, spec)
	if err != nil {
		return childResult{}, err
	}
	watch.bind(childID)

	if adopted {
		slog.Info("Adopted existing subtask", "task_id", tc.TaskID, "child_task_id", childID, "title", spec.Title)
	}
	return b.awaitChild(ctx, watch, childID)
}

// ensureChild returns the child task id for the spec, reusing a child with
// the same title and agent left behind by an interrupted earlier invocation
// of this call.
func (t *createSubtasksTool) ensureChild(ctx context.Context, tc *tools.Context, spec subtaskSpec) (childID string, adopted bool, err error) {
	b := t.bridge
	for _, child := range b.projection.ListChildren(tc.TaskID) {
		if child.Title == spec.Title && child.AgentID == spec.AgentID {
			return child.TaskID, true, nil
		}
	}

	childID, err = b.tasks.CreateTask(ctx, tasks.CreateTaskInput{
		Title:         spec.Title,
		Intent:        spec.Intent,
		Priority:      models.Priority(spec.Priority),
		AgentID:       spec.AgentID,
		ParentTaskID:  tc.TaskID,
		AuthorActorID: tc.AgentID,
	})
	if err != nil {
		return "", false, fmt.Errorf("creating subtask %q: %w", spec.Title, err)
	}
	return childID, false, nil
}
