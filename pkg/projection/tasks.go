// Package projection folds the event log into queryable state. The task
// projection is the single source of truth for task status; it is a pure
// deterministic fold, so replaying the log always reproduces live state.
package projection

import (
	"log/slog"
	"sync"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/store"
)

// SnapshotName is the name under which the task projection persists its
// state to the snapshot store.
const SnapshotName = "tasks"

// TaskProjection maintains the folded task state plus the parent→children
// index. Apply is single-writer: it is driven by the event log subscription
// (one dispatcher per subscriber) and by Attach's catch-up fold.
type TaskProjection struct {
	mu            sync.RWMutex
	tasks         map[string]*models.Task
	children      map[string][]string
	lastAppliedID uint64

	catchingUp bool
	buffered   []models.StoredEvent
}

// NewTaskProjection creates an empty projection.
func NewTaskProjection() *TaskProjection {
	return &TaskProjection{
		tasks:    make(map[string]*models.Task),
		children: make(map[string][]string),
	}
}

// Attach subscribes the projection to the log and gap-fills: events arriving
// on the hot stream while the catch-up read runs are buffered and drained
// afterwards, deduplicated by id, so no event is applied out of order or
// twice. Returns the subscription cancel function.
func (p *TaskProjection) Attach(log *store.EventLog) (cancel func()) {
	p.mu.Lock()
	p.catchingUp = true
	p.mu.Unlock()

	cancel = log.Subscribe(func(evt models.StoredEvent) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.catchingUp {
			p.buffered = append(p.buffered, evt)
			return
		}
		p.applyLocked(evt)
	})

	for _, evt := range log.ReadAll(p.lastAppliedID) {
		p.Apply(evt)
	}

	p.mu.Lock()
	for _, evt := range p.buffered {
		p.applyLocked(evt)
	}
	p.buffered = nil
	p.catchingUp = false
	p.mu.Unlock()

	return cancel
}

// Apply folds one event into the projection. Events with ids at or below the
// last applied id are ignored (idempotent replay).
func (p *TaskProjection) Apply(evt models.StoredEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(evt)
}

func (p *TaskProjection) applyLocked(evt models.StoredEvent) {
	if evt.ID <= p.lastAppliedID {
		return
	}
	p.lastAppliedID = evt.ID

	if evt.Type == models.EventTaskCreated {
		var payload models.TaskCreatedPayload
		if err := evt.DecodePayload(&payload); err != nil {
			slog.Warn("Skipping undecodable TaskCreated payload", "event_id", evt.ID, "error", err)
			return
		}
		priority := payload.Priority
		if priority == "" {
			priority = models.PriorityNormal
		}
		p.tasks[evt.StreamID] = &models.Task{
			TaskID:       evt.StreamID,
			Title:        payload.Title,
			Intent:       payload.Intent,
			Priority:     priority,
			AgentID:      payload.AgentID,
			ParentTaskID: payload.ParentTaskID,
			Status:       models.StatusOpen,
			CreatedAt:    evt.CreatedAt,
			UpdatedAt:    evt.CreatedAt,
		}
		if payload.ParentTaskID != "" {
			p.children[payload.ParentTaskID] = append(p.children[payload.ParentTaskID], evt.StreamID)
			if parent, ok := p.tasks[payload.ParentTaskID]; ok {
				parent.ChildTaskIDs = append(parent.ChildTaskIDs, evt.StreamID)
			}
		}
		return
	}

	task, ok := p.tasks[evt.StreamID]
	if !ok {
		// Event for an unknown stream: tolerated for forward compatibility.
		return
	}

	next, outcome := models.Transition(task.Status, evt.Type)
	if outcome == models.TransitionRejected {
		// The task service validates before appending; a rejected event in
		// the log means replay of a log written by a newer version. Ignore.
		return
	}
	task.Status = next
	task.UpdatedAt = evt.CreatedAt

	switch evt.Type {
	case models.EventTaskCompleted:
		var payload models.TaskCompletedPayload
		if evt.DecodePayload(&payload) == nil {
			task.Summary = payload.Summary
		}
		task.PendingInteractionID = ""
	case models.EventTaskFailed:
		if outcome == models.TransitionApplied {
			var payload models.TaskFailedPayload
			if evt.DecodePayload(&payload) == nil {
				task.FailureReason = payload.Reason
			}
			task.PendingInteractionID = ""
		}
	case models.EventTaskCanceled:
		task.PendingInteractionID = ""
	case models.EventUserInteractionRequested:
		var payload models.UserInteractionRequestedPayload
		if evt.DecodePayload(&payload) == nil {
			task.PendingInteractionID = payload.InteractionID
		}
	case models.EventUserInteractionResponded:
		task.PendingInteractionID = ""
	case models.EventTaskInstructionAdded:
		if outcome == models.TransitionApplied {
			// Reopened tasks shed their previous terminal summary.
			task.Summary = ""
		}
	}
}

// GetTask returns a copy of the projected task.
func (p *TaskProjection) GetTask(taskID string) (models.Task, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	task, ok := p.tasks[taskID]
	if !ok {
		return models.Task{}, false
	}
	return cloneTask(task), true
}

// ListTasks returns copies of all projected tasks.
func (p *TaskProjection) ListTasks() []models.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Task, 0, len(p.tasks))
	for _, task := range p.tasks {
		out = append(out, cloneTask(task))
	}
	return out
}

// ListChildren returns copies of the direct children of a task.
func (p *TaskProjection) ListChildren(taskID string) []models.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := p.children[taskID]
	out := make([]models.Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := p.tasks[id]; ok {
			out = append(out, cloneTask(task))
		}
	}
	return out
}

// SaveSnapshot persists the projected state by name.
func (p *TaskProjection) SaveSnapshot(snapshots *store.SnapshotStore) error {
	p.mu.RLock()
	state := make(map[string]models.Task, len(p.tasks))
	for id, task := range p.tasks {
		state[id] = cloneTask(task)
	}
	p.mu.RUnlock()
	return snapshots.Save(SnapshotName, state)
}

func cloneTask(t *models.Task) models.Task {
	out := *t
	if len(t.ChildTaskIDs) > 0 {
		out.ChildTaskIDs = append([]string(nil), t.ChildTaskIDs...)
	}
	return out
}
