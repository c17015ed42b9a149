// Package subtask implements task composition as a pair of tools. A parent
// agent calls create_subtasks to fan work out to child tasks and blocks until
// each child reaches a terminal state; list_subtask reads the children back.
// Orchestration rides the same event log as everything else, so a crashed
// parent finds its children again on repair instead of recreating them.
package subtask

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/conversation"
	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/projection"
	"github.com/loomworks/loom/pkg/store"
	"github.com/loomworks/loom/pkg/tasks"
	"github.com/loomworks/loom/pkg/tools"
)

// Group is the registry group of the subtask tools.
const Group = "subtask"

// Defaults for the bridge limits.
const (
	defaultWaitTimeout = 5 * time.Minute
	defaultMaxDepth    = 3
)

// cancelGrace bounds the best-effort child cancellation issued when the
// parent's wait is aborted.
const cancelGrace = 5 * time.Second

// AgentDirectory answers the validation queries the bridge needs before it
// creates a child: is the runtime set running, and is the target agent
// registered. Satisfied by the runtime manager.
type AgentDirectory interface {
	Running() bool
	HasAgent(agentID string) bool
}

// Options configures the bridge. Zero limit fields take the defaults.
type Options struct {
	Tasks         *tasks.Service
	Log           *store.EventLog
	Projection    *projection.TaskProjection
	Conversations *conversation.Manager
	Agents        AgentDirectory

	MaxDepth    int
	WaitTimeout time.Duration
}

// Bridge holds the shared dependencies of the subtask tools.
type Bridge struct {
	tasks       *tasks.Service
	log         *store.EventLog
	projection  *projection.TaskProjection
	conv        *conversation.Manager
	agents      AgentDirectory
	maxDepth    int
	waitTimeout time.Duration
}

// NewBridge creates the bridge.
func NewBridge(opts Options) *Bridge {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	return &Bridge{
		tasks:       opts.Tasks,
		log:         opts.Log,
		projection:  opts.Projection,
		conv:        opts.Conversations,
		agents:      opts.Agents,
		maxDepth:    opts.MaxDepth,
		waitTimeout: opts.WaitTimeout,
	}
}

// Tools returns the bridge's tools for static registration.
func (b *Bridge) Tools() []tools.Tool {
	return []tools.Tool{
		&createSubtasksTool{bridge: b},
		&listSubtaskTool{bridge: b},
	}
}

// childResult is the per-child entry of the create_subtasks result.
type childResult struct {
	TaskID        string `json:"taskId"`
	Title         string `json:"title"`
	AgentID       string `json:"agentId"`
	Status        string `json:"status"`
	Summary       string `json:"summary,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
	FinalMessage  string `json:"finalMessage,omitempty"`
}

func isTerminalEvent(t models.EventType) bool {
	switch t {
	case models.EventTaskCompleted, models.EventTaskFailed, models.EventTaskCanceled:
		return true
	}
	return false
}

// terminalWatch is a log subscription that signals terminal events for one
// stream whose id may not be known yet at subscribe time. Terminal events
// arriving before bind are remembered per stream, so subscribing before
// createTask closes both races: the child cannot finish before the
// subscription exists, and a finish that lands before the id is known is
// replayed at bind.
type terminalWatch struct {
	cancel func()

	mu       sync.Mutex
	streamID string
	seen     map[string]bool
	ch       chan struct{}
}

func watchTerminal(log *store.EventLog) *terminalWatch {
	w := &terminalWatch{
		seen: make(map[string]bool),
		ch:   make(chan struct{}, 1),
	}
	w.cancel = log.Subscribe(func(evt models.StoredEvent) {
		if !isTerminalEvent(evt.Type) {
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.streamID == "" {
			w.seen[evt.StreamID] = true
			return
		}
		if evt.StreamID == w.streamID {
			w.signal()
		}
	})
	return w
}

// bind fixes the watched stream id and replays any terminal event that
// arrived for it before the id was known.
func (w *terminalWatch) bind(streamID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.streamID = streamID
	if w.seen[streamID] {
		w.signal()
	}
	w.seen = nil
}

func (w *terminalWatch) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// awaitChild blocks until the bound child is projected terminal, the caller's
// context aborts, or the wait times out. The watch must be bound.
func (b *Bridge) awaitChild(ctx context.Context, watch *terminalWatch, childID string) (childResult, error) {
	// Catch-up read: a child adopted after a crash may be terminal already.
	if task, ok := b.projection.GetTask(childID); ok && task.Status.IsTerminal() {
		return b.resolve(task), nil
	}

	timer := time.NewTimer(b.waitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-watch.ch:
			// A terminal event that is a no-op against the projected status
			// (failure surfacing while paused) is not a resolution.
			if task, ok := b.terminalProjected(childID); ok {
				return b.resolve(task), nil
			}

		case <-ctx.Done():
			// Best effort: the child may already be terminal.
			cctx, cancel := context.WithTimeout(context.Background(), cancelGrace)
			_ = b.tasks.CancelTask(cctx, childID, "parent task aborted")
			cancel()
			return childResult{}, ctx.Err()

		case <-timer.C:
			if task, ok := b.projection.GetTask(childID); ok && task.Status.IsTerminal() {
				return b.resolve(task), nil
			}
			return childResult{}, fmt.Errorf("subtask %s still running after %s", childID, b.waitTimeout)
		}
	}
}

// terminalProjected waits briefly for the projection to fold the terminal
// event that was just delivered to the watch.
func (b *Bridge) terminalProjected(childID string) (models.Task, bool) {
	deadline := time.After(time.Second)
	for {
		task, ok := b.projection.GetTask(childID)
		if ok && task.Status.IsTerminal() {
			return task, true
		}
		select {
		case <-deadline:
			return models.Task{}, false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// resolve builds the child's result entry, including a best-effort read of
// its final assistant message.
func (b *Bridge) resolve(task models.Task) childResult {
	result := childResult{
		TaskID:        task.TaskID,
		Title:         task.Title,
		AgentID:       task.AgentID,
		Status:        string(task.Status),
		Summary:       task.Summary,
		FailureReason: task.FailureReason,
	}
	history := b.conv.History(task.TaskID)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant && history[i].Content != "" {
			result.FinalMessage = history[i].Content
			break
		}
	}
	return result
}
