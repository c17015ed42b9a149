package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/agent"
	"github.com/loomworks/loom/pkg/conversation"
	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/projection"
	"github.com/loomworks/loom/pkg/store"
	"github.com/loomworks/loom/pkg/tasks"
	"github.com/loomworks/loom/pkg/tools"
)

// loopResult classifies how one runLoop ended.
type loopResult int

const (
	// loopExhausted: the agent stream closed without a terminal outcome.
	loopExhausted loopResult = iota
	// loopTerminal: TaskCompleted or TaskFailed was appended.
	loopTerminal
	// loopAwaiting: a confirmation request paused the task.
	loopAwaiting
	// loopPaused: the paused set stopped the loop at a safe boundary.
	loopPaused
	// loopCanceled: the task's cancel token fired.
	loopCanceled
)

// AgentRuntimeOptions wires one runtime instance.
type AgentRuntimeOptions struct {
	Agent        agent.Agent
	Events       *store.EventLog
	Projection   *projection.TaskProjection
	Tasks        *tasks.Service
	Conversation *conversation.Manager
	Handler      *Handler
	LLM          llm.Client
	Registry     *tools.Registry
	UI           *Bus

	BaseDir   string
	SkillsDir string
	Policy    tools.PolicyMode

	StreamingEnabled bool
}

// AgentRuntime subscribes to the event log and drives its agent's tasks,
// one loop per task at a time. The in-flight, paused, and
// queued-instruction sets are owned exclusively by this runtime.
type AgentRuntime struct {
	opts   AgentRuntimeOptions
	logger *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup
	skills []agent.Skill

	mu       sync.Mutex
	inFlight map[string]bool
	paused   map[string]bool
	queued   map[string]bool
	seen     map[string]bool
	owned    map[string]bool
	cancels  map[string]context.CancelFunc
}

// NewAgentRuntime creates a runtime for one agent.
func NewAgentRuntime(opts AgentRuntimeOptions) (*AgentRuntime, error) {
	if opts.Agent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if opts.Events == nil || opts.Projection == nil || opts.Tasks == nil ||
		opts.Conversation == nil || opts.Handler == nil {
		return nil, fmt.Errorf("events, projection, tasks, conversation, and handler are required")
	}
	if opts.Policy == "" {
		opts.Policy = tools.PolicyDefault
	}
	if opts.UI == nil {
		opts.UI = NewBus()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AgentRuntime{
		opts:     opts,
		logger:   slog.With("agent_id", opts.Agent.ID()),
		ctx:      ctx,
		stop:     cancel,
		skills:   agent.LoadSkills(opts.SkillsDir),
		inFlight: make(map[string]bool),
		paused:   make(map[string]bool),
		queued:   make(map[string]bool),
		seen:     make(map[string]bool),
		owned:    make(map[string]bool),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

// AgentID returns the id of the agent this runtime drives.
func (r *AgentRuntime) AgentID() string { return r.opts.Agent.ID() }

// Start subscribes to the event log.
func (r *AgentRuntime) Start() {
	r.unsub = r.opts.Events.Subscribe(r.dispatch)
	r.logger.Info("Agent runtime started")
}

// Stop unsubscribes, cancels running loops, and waits for them to exit.
func (r *AgentRuntime) Stop() {
	if r.unsub != nil {
		r.unsub()
	}
	r.stop()
	r.wg.Wait()
	r.logger.Info("Agent runtime stopped")
}

// ExecuteTask starts the execute loop for a task if it is not already
// in flight. Used for startup recovery of in_progress tasks.
func (r *AgentRuntime) ExecuteTask(taskID string) {
	r.mu.Lock()
	r.owned[taskID] = true
	r.mu.Unlock()
	r.startLoop(taskID, nil)
}

// dispatch routes one event. Runs on the log's subscriber goroutine; all
// set mutations happen here or under the runtime mutex.
func (r *AgentRuntime) dispatch(ev models.StoredEvent) {
	taskID := ev.StreamID
	if !r.ownsTask(ev) {
		return
	}

	switch ev.Type {
	case models.EventTaskCreated:
		r.startLoop(taskID, nil)

	case models.EventUserInteractionResponded:
		key := fmt.Sprintf("resume:%s:%d", taskID, ev.ID)
		r.mu.Lock()
		if r.seen[key] {
			r.mu.Unlock()
			return
		}
		r.seen[key] = true
		r.mu.Unlock()

		var response models.UserInteractionRespondedPayload
		if err := ev.DecodePayload(&response); err != nil {
			r.logger.Error("Failed to decode interaction response", "task_id", taskID, "error", err)
			return
		}
		r.startLoop(taskID, &response)

	case models.EventTaskPaused:
		r.mu.Lock()
		r.paused[taskID] = true
		r.mu.Unlock()

	case models.EventTaskResumed:
		r.mu.Lock()
		delete(r.paused, taskID)
		r.mu.Unlock()
		r.startLoop(taskID, nil)

	case models.EventTaskCanceled:
		r.mu.Lock()
		delete(r.paused, taskID)
		delete(r.queued, taskID)
		cancel := r.cancels[taskID]
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}

	case models.EventTaskInstructionAdded:
		var payload models.TaskInstructionAddedPayload
		if err := ev.DecodePayload(&payload); err != nil {
			r.logger.Error("Failed to decode instruction", "task_id", taskID, "error", err)
			return
		}
		r.handleInstruction(taskID, payload.Text)
	}
}

// ownsTask reports whether the event's task belongs to this agent. Ownership
/// is recorded locally when TaskCreated passes through dispatch: the projection
// is an independent subscriber and may not have folded the creation yet when a
// control event for the same stream arrives here.
func (r *AgentRuntime) ownsTask(ev models.StoredEvent) bool {
	if ev.Type == models.EventTaskCreated {
		var payload models.TaskCreatedPayload
		if err := ev.DecodePayload(&payload); err != nil {
			return false
		}
		if payload.AgentID != r.AgentID() {
			return false
		}
		r.mu.Lock()
		r.owned[ev.StreamID] = true
		r.mu.Unlock()
		return true
	}

	r.mu.Lock()
	owned := r.owned[ev.StreamID]
	r.mu.Unlock()
	if owned {
		return true
	}

	// Streams created before this subscription (restart recovery) are only
	// known to the projection.
	task, ok := r.opts.Projection.GetTask(ev.StreamID)
	if ok && task.AgentID == r.AgentID() {
		r.mu.Lock()
		r.owned[ev.StreamID] = true
		r.mu.Unlock()
		return true
	}
	return false
}

func (r *AgentRuntime) handleInstruction(taskID, text string) {
	r.mu.Lock()
	delete(r.paused, taskID)
	r.mu.Unlock()

	if err := r.opts.Conversation.QueueInstruction(taskID, text); err != nil {
		r.logger.Error("Failed to queue instruction", "task_id", taskID, "error", err)
		return
	}

	task, ok := r.opts.Projection.GetTask(taskID)
	if ok && task.Status == models.StatusAwaitingUser {
		// The pending interaction's response will re-drive the loop.
		return
	}

	r.mu.Lock()
	running := r.inFlight[taskID]
	if running {
		r.queued[taskID] = true
	}
	r.mu.Unlock()
	if !running {
		r.startLoop(taskID, nil)
	}
}

// startLoop marks the task in flight and runs the execute loop on its own
// goroutine. A task already in flight is left alone.
func (r *AgentRuntime) startLoop(taskID string, pending *models.UserInteractionRespondedPayload) {
	r.mu.Lock()
	if r.inFlight[taskID] {
		r.mu.Unlock()
		return
	}
	r.inFlight[taskID] = true
	taskCtx, cancel := context.WithCancel(r.ctx)
	r.cancels[taskID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.inFlight, taskID)
			delete(r.cancels, taskID)
			r.mu.Unlock()
		}()
		r.executeLoop(taskCtx, taskID, pending)
	}()
}

// executeLoop repeats runLoop until the task is terminal, awaiting the
// user, or paused with nothing queued.
func (r *AgentRuntime) executeLoop(ctx context.Context, taskID string, pending *models.UserInteractionRespondedPayload) {
	for {
		result, err := r.runLoop(ctx, taskID, pending)
		pending = nil
		if err != nil {
			r.logger.Error("Task loop failed", "task_id", taskID, "error", err)
			if failErr := r.opts.Tasks.Fail(context.Background(), taskID, err.Error()); failErr != nil {
				r.logger.Error("Failed to append task failure", "task_id", taskID, "error", failErr)
			}
			return
		}
		if result == loopTerminal || result == loopAwaiting || result == loopCanceled {
			return
		}

		r.mu.Lock()
		queued := r.queued[taskID]
		delete(r.queued, taskID)
		pausedNow := r.paused[taskID]
		r.mu.Unlock()

		if queued || (!pausedNow && r.opts.Conversation.PendingInstructions(taskID) > 0) {
			continue
		}
		return
	}
}

// runLoop is the inner driver: repair history, start the agent, consume
// its outputs one at a time with instruction drains at every boundary.
func (r *AgentRuntime) runLoop(ctx context.Context, taskID string, pending *models.UserInteractionRespondedPayload) (loopResult, error) {
	task, err := r.waitForTask(ctx, taskID)
	if err != nil {
		return loopCanceled, nil
	}
	if task.Status.IsTerminal() {
		// An instruction reopening a done task may still be folding into
		// the projection; give it a beat before treating this as final.
		task = r.awaitReopen(ctx, taskID, task)
		if task.Status.IsTerminal() {
			return loopTerminal, nil
		}
	}

	oc := &OutputContext{
		TaskID:           taskID,
		AgentID:          r.AgentID(),
		BaseDir:          r.opts.BaseDir,
		Policy:           r.opts.Policy,
		StreamingEnabled: r.opts.StreamingEnabled,
	}
	conv := r.opts.Conversation

	if pending != nil {
		if pending.Approved() {
			oc.ConfirmedInteractionID = pending.InteractionID
			oc.ConfirmedToolCallID = r.confirmedToolCallID(taskID, pending.InteractionID)
		} else {
			if err := conv.InjectRejections(ctx, taskID, oc.toolContext()); err != nil {
				return loopExhausted, fmt.Errorf("injecting rejections: %w", err)
			}
		}
	}

	if err := r.opts.Tasks.MarkStarted(ctx, taskID); err != nil && !errors.Is(err, tasks.ErrInvalidTransition) {
		r.logger.Warn("Failed to mark task started", "task_id", taskID, "error", err)
	}
	// Commands issued by the loop validate against the projection; wait for
	// it to catch up with the start before the agent can issue any.
	r.awaitInProgress(ctx, taskID)

	history := conv.LoadAndRepair(ctx, taskID, oc.toolContext())
	if len(history) == 0 {
		seed := []models.Message{{Role: models.RoleUser, Content: taskPrompt(task)}}
		if sp, ok := r.opts.Agent.(agent.SystemPrompter); ok {
			seed = append([]models.Message{{Role: models.RoleSystem, Content: sp.SystemPrompt(r.opts.BaseDir, r.skills)}}, seed...)
		}
		if err := conv.Append(taskID, seed...); err != nil {
			return loopExhausted, fmt.Errorf("seeding conversation: %w", err)
		}
	}
	if _, err := conv.DrainInstructions(taskID); err != nil {
		return loopExhausted, err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	ac := &agent.Context{
		TaskID:           taskID,
		AgentID:          r.AgentID(),
		BaseDir:          r.opts.BaseDir,
		LLM:              r.opts.LLM,
		Tools:            r.opts.Registry.Definitions(),
		Skills:           r.skills,
		History:          conv.History(taskID),
		Persist:          func(msgs ...models.Message) error { return conv.Append(taskID, msgs...) },
		Reload:           func() []models.Message { return conv.History(taskID) },
		PendingResponse:  pending,
		StreamingEnabled: r.opts.StreamingEnabled,
		OnStreamEvent:    r.streamEventPublisher(taskID),
	}

	stream := agent.NewOutputStream()
	runErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer stream.Close()
		runErr <- r.opts.Agent.Run(runCtx, ac, stream)
	}()

	result, err := r.consumeOutputs(runCtx, taskID, oc, stream)
	cancelRun()
	agentErr := <-runErr
	if r.opts.StreamingEnabled {
		r.opts.UI.Publish(UIEvent{Type: UIStreamEnd, TaskID: taskID, AgentID: r.AgentID()})
	}
	if err != nil {
		return result, err
	}
	if agentErr != nil && !errors.Is(agentErr, context.Canceled) {
		return result, agentErr
	}
	return result, nil
}

func (r *AgentRuntime) consumeOutputs(ctx context.Context, taskID string, oc *OutputContext, stream *agent.OutputStream) (loopResult, error) {
	conv := r.opts.Conversation
	for {
		output, ok, err := stream.Next(ctx)
		if err != nil {
			if r.ctx.Err() != nil || ctx.Err() != nil {
				return loopCanceled, nil
			}
			return loopExhausted, err
		}
		if !ok {
			return loopExhausted, nil
		}

		if _, err := conv.DrainInstructions(taskID); err != nil {
			stream.Ack()
			return loopExhausted, err
		}

		if r.isPaused(taskID) && conv.SafeToInject(taskID) {
			stream.Ack()
			return loopPaused, nil
		}

		outcome, err := r.opts.Handler.Handle(ctx, oc, output)
		stream.Ack()
		if err != nil {
			return loopExhausted, err
		}
		if outcome.Pause {
			return loopAwaiting, nil
		}
		if outcome.Terminal {
			return loopTerminal, nil
		}
	}
}

func (r *AgentRuntime) isPaused(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused[taskID]
}

// waitForTask polls the projection until the task appears. The projection
// is fed by its own subscription and can lag the dispatcher by a beat.
func (r *AgentRuntime) waitForTask(ctx context.Context, taskID string) (models.Task, error) {
	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()
	for {
		if task, ok := r.opts.Projection.GetTask(taskID); ok {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return models.Task{}, ctx.Err()
		case <-deadline.C:
			return models.Task{}, fmt.Errorf("task %s not in projection", taskID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// awaitInProgress polls briefly until the projection reflects the started
// task. Best effort; the loop proceeds either way after the deadline.
func (r *AgentRuntime) awaitInProgress(ctx context.Context, taskID string) {
	deadline := time.After(time.Second)
	for {
		if task, ok := r.opts.Projection.GetTask(taskID); ok && task.Status != models.StatusOpen {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// awaitReopen polls briefly for a terminal-projected task to turn
// non-terminal after a reopening instruction.
func (r *AgentRuntime) awaitReopen(ctx context.Context, taskID string, task models.Task) models.Task {
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case <-ctx.Done():
			return task
		case <-deadline:
			return task
		case <-time.After(5 * time.Millisecond):
		}
		if current, ok := r.opts.Projection.GetTask(taskID); ok {
			task = current
			if !task.Status.IsTerminal() {
				return task
			}
		}
	}
}

// confirmedToolCallID finds the tool call the approved interaction was
// bound to, from the task's UserInteractionRequested event.
func (r *AgentRuntime) confirmedToolCallID(taskID, interactionID string) string {
	for _, ev := range r.opts.Events.ReadStream(taskID, 0) {
		if ev.Type != models.EventUserInteractionRequested {
			continue
		}
		var payload models.UserInteractionRequestedPayload
		if err := ev.DecodePayload(&payload); err != nil {
			continue
		}
		if payload.InteractionID == interactionID {
			return payload.ToolCallID
		}
	}
	return ""
}

func (r *AgentRuntime) streamEventPublisher(taskID string) func(llm.StreamEvent) {
	if !r.opts.StreamingEnabled || r.opts.UI == nil {
		return nil
	}
	return func(ev llm.StreamEvent) {
		data := map[string]any{"kind": ev.Kind}
		if ev.Delta != "" {
			data["content"] = ev.Delta
		}
		if ev.ToolName != "" {
			data["toolName"] = ev.ToolName
			data["toolCallId"] = ev.ToolCallID
		}
		r.opts.UI.Publish(UIEvent{Type: UIStreamDelta, TaskID: taskID, AgentID: r.AgentID(), Data: data})
	}
}

// taskPrompt renders the task's opening user message.
func taskPrompt(task models.Task) string {
	if task.Intent == "" {
		return task.Title
	}
	return strings.TrimSpace(task.Title + "\n\n" + task.Intent)
}
