package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

// AuditLog is the durable tool invocation audit trail. Entries are global
// (no per-stream sequencing) and never part of conversation history.
type AuditLog struct {
	mu      sync.Mutex
	w       *lineWriter
	records []models.AuditEntry
	nextID  uint64
	hub     *subscriberHub[models.AuditEntry]
}

// OpenAuditLog opens or creates audit.jsonl at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	records, err := loadLines[models.AuditEntry](path)
	if err != nil {
		return nil, err
	}
	w, err := openLineWriter(path)
	if err != nil {
		return nil, err
	}
	l := &AuditLog{
		w:       w,
		records: records,
		nextID:  1,
		hub:     newSubscriberHub[models.AuditEntry](),
	}
	for _, rec := range records {
		if rec.ID >= l.nextID {
			l.nextID = rec.ID + 1
		}
	}
	return l, nil
}

// Append appends one audit entry with write-ahead ordering.
func (l *AuditLog) Append(typ models.AuditType, payload models.AuditPayload) (models.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := models.AuditEntry{
		ID:        l.nextID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("marshaling audit entry: %w", err)
	}
	if err := l.w.writeLines([][]byte{line}); err != nil {
		return models.AuditEntry{}, err
	}

	l.records = append(l.records, entry)
	l.nextID++

	l.hub.publish(entry)
	return entry, nil
}

// ReadAll returns every entry with id > fromIDExclusive, in append order.
func (l *AuditLog) ReadAll(fromIDExclusive uint64) []models.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].ID > fromIDExclusive
	})
	out := make([]models.AuditEntry, len(l.records)-i)
	copy(out, l.records[i:])
	return out
}

// ReadForTask returns the audit entries for one task, in append order.
func (l *AuditLog) ReadForTask(taskID string) []models.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.AuditEntry
	for _, rec := range l.records {
		if rec.Payload.TaskID == taskID {
			out = append(out, rec)
		}
	}
	return out
}

// Subscribe registers a handler for every future append, in append order.
func (l *AuditLog) Subscribe(handler func(models.AuditEntry)) (cancel func()) {
	return l.hub.subscribe(handler)
}

// Close closes the underlying file.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.close()
}
