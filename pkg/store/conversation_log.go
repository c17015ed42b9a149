package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

// ConversationLog is the durable per-task message log. Ids are global and
// monotonic; Index is dense per task starting at 1. Messages are immutable
// once appended — repair never rewrites history, it only appends.
type ConversationLog struct {
	mu      sync.Mutex
	w       *lineWriter
	records []models.StoredMessage
	tasks   map[string][]int // taskID → indexes into records
	nextID  uint64
	hub     *subscriberHub[models.StoredMessage]
}

// OpenConversationLog opens or creates conversations.jsonl at path.
func OpenConversationLog(path string) (*ConversationLog, error) {
	records, err := loadLines[models.StoredMessage](path)
	if err != nil {
		return nil, err
	}
	w, err := openLineWriter(path)
	if err != nil {
		return nil, err
	}
	l := &ConversationLog{
		w:       w,
		records: records,
		tasks:   make(map[string][]int),
		nextID:  1,
		hub:     newSubscriberHub[models.StoredMessage](),
	}
	for i, rec := range records {
		l.tasks[rec.TaskID] = append(l.tasks[rec.TaskID], i)
		if rec.ID >= l.nextID {
			l.nextID = rec.ID + 1
		}
	}
	return l, nil
}

// Append appends messages to a task's conversation, assigning dense indexes.
// Write-ahead ordering and counter rollback match EventLog.Append.
func (l *ConversationLog) Append(taskID string, msgs ...models.Message) ([]models.StoredMessage, error) {
	if taskID == "" {
		return nil, fmt.Errorf("taskId is required")
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	nextIndex := uint32(len(l.tasks[taskID])) + 1
	now := time.Now().UTC()

	stored := make([]models.StoredMessage, len(msgs))
	lines := make([][]byte, len(msgs))
	for i, msg := range msgs {
		stored[i] = models.StoredMessage{
			ID:        l.nextID + uint64(i),
			TaskID:    taskID,
			Index:     nextIndex + uint32(i),
			Message:   msg,
			CreatedAt: now,
		}
		line, err := json.Marshal(stored[i])
		if err != nil {
			return nil, fmt.Errorf("marshaling message: %w", err)
		}
		lines[i] = line
	}

	if err := l.w.writeLines(lines); err != nil {
		return nil, err
	}

	for _, rec := range stored {
		l.records = append(l.records, rec)
		l.tasks[taskID] = append(l.tasks[taskID], len(l.records)-1)
	}
	l.nextID += uint64(len(stored))

	l.hub.publish(stored...)
	return stored, nil
}

// ReadTask returns a task's messages in index order.
func (l *ConversationLog) ReadTask(taskID string) []models.StoredMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	idxs := l.tasks[taskID]
	out := make([]models.StoredMessage, len(idxs))
	for i, idx := range idxs {
		out[i] = l.records[idx]
	}
	return out
}

// ReadAll returns every message with id > fromIDExclusive, in append order.
func (l *ConversationLog) ReadAll(fromIDExclusive uint64) []models.StoredMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].ID > fromIDExclusive
	})
	out := make([]models.StoredMessage, len(l.records)-i)
	copy(out, l.records[i:])
	return out
}

// Subscribe registers a handler for every future append, in append order.
func (l *ConversationLog) Subscribe(handler func(models.StoredMessage)) (cancel func()) {
	return l.hub.subscribe(handler)
}

// Close closes the underlying file.
func (l *ConversationLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.close()
}
