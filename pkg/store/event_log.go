package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

// NewEvent is an event to append: the tag plus a payload value that is
// marshaled at append time.
type NewEvent struct {
	Type    models.EventType
	Payload any
}

// EventLog is the durable, subscribable domain event log. Appends are
// serialized by an internal mutex; reads serve from the in-memory cache;
// subscriber emission happens outside the mutex (see subscriberHub).
type EventLog struct {
	mu      sync.Mutex
	w       *lineWriter
	records []models.StoredEvent
	streams map[string][]int // streamID → indexes into records
	nextID  uint64
	hub     *subscriberHub[models.StoredEvent]
}

// OpenEventLog opens or creates events.jsonl at path and loads the cache.
func OpenEventLog(path string) (*EventLog, error) {
	records, err := loadLines[models.StoredEvent](path)
	if err != nil {
		return nil, err
	}
	w, err := openLineWriter(path)
	if err != nil {
		return nil, err
	}
	l := &EventLog{
		w:       w,
		records: records,
		streams: make(map[string][]int),
		nextID:  1,
		hub:     newSubscriberHub[models.StoredEvent](),
	}
	for i, rec := range records {
		l.streams[rec.StreamID] = append(l.streams[rec.StreamID], i)
		if rec.ID >= l.nextID {
			l.nextID = rec.ID + 1
		}
	}
	return l, nil
}

// Append atomically appends entries to the given stream. Ids and per-stream
// seqs are assigned under the mutex; the serialized lines reach the file
// before the cache is mutated, and on a write failure the counters do not
// advance. Returns the stored records in append order.
func (l *EventLog) Append(streamID string, entries ...NewEvent) ([]models.StoredEvent, error) {
	if streamID == "" {
		return nil, fmt.Errorf("streamId is required")
	}
	if len(entries) == 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	nextSeq := uint32(len(l.streams[streamID])) + 1
	now := time.Now().UTC()

	stored := make([]models.StoredEvent, len(entries))
	lines := make([][]byte, len(entries))
	for i, e := range entries {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling payload for %s: %w", e.Type, err)
		}
		stored[i] = models.StoredEvent{
			ID:        l.nextID + uint64(i),
			StreamID:  streamID,
			Seq:       nextSeq + uint32(i),
			Type:      e.Type,
			Payload:   payload,
			CreatedAt: now,
		}
		line, err := json.Marshal(stored[i])
		if err != nil {
			return nil, fmt.Errorf("marshaling event: %w", err)
		}
		lines[i] = line
	}

	// Write-ahead: durable before visible. Counters advance only below.
	if err := l.w.writeLines(lines); err != nil {
		return nil, err
	}

	for _, rec := range stored {
		l.records = append(l.records, rec)
		l.streams[streamID] = append(l.streams[streamID], len(l.records)-1)
	}
	l.nextID += uint64(len(stored))

	l.hub.publish(stored...)
	return stored, nil
}

// ReadAll returns every event with id > fromIDExclusive, in append order.
func (l *EventLog) ReadAll(fromIDExclusive uint64) []models.StoredEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].ID > fromIDExclusive
	})
	out := make([]models.StoredEvent, len(l.records)-i)
	copy(out, l.records[i:])
	return out
}

// ReadStream returns the events of one stream with seq >= fromSeq.
func (l *EventLog) ReadStream(streamID string, fromSeq uint32) []models.StoredEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	idxs := l.streams[streamID]
	out := make([]models.StoredEvent, 0, len(idxs))
	for _, i := range idxs {
		if l.records[i].Seq >= fromSeq {
			out = append(out, l.records[i])
		}
	}
	return out
}

// ReadByID returns the event with the given id, if present.
func (l *EventLog) ReadByID(id uint64) (models.StoredEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].ID >= id
	})
	if i < len(l.records) && l.records[i].ID == id {
		return l.records[i], true
	}
	return models.StoredEvent{}, false
}

// Subscribe registers a handler for every future successful append, in
// append order. The returned cancel function detaches the subscriber.
func (l *EventLog) Subscribe(handler func(models.StoredEvent)) (cancel func()) {
	return l.hub.subscribe(handler)
}

// Close closes the underlying file. In-flight subscribers keep draining
// their queues.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.close()
}
