// Package runtime drives agents: the output handler turns agent yields into
// durable effects, the per-agent runtime subscribes to the event log and
// runs one task loop at a time, and the manager routes tasks to runtimes.
package runtime

import (
	"log/slog"
	"sync"
	"time"
)

// UI event types.
const (
	UIAgentOutput       = "agent_output"
	UIStreamDelta       = "stream_delta"
	UIStreamEnd         = "stream_end"
	UIToolCallStart     = "tool_call_start"
	UIToolCallHeartbeat = "tool_call_heartbeat"
	UIToolCallEnd       = "tool_call_end"
	UIBatchStart        = "tool_calls_batch_start"
	UIBatchEnd          = "tool_calls_batch_end"
	UIAuditEntry        = "audit_entry"
)

// UIEvent is one ephemeral presentation event. UI events are never
// persisted; clients that need durable state read the logs.
type UIEvent struct {
	Type      string         `json:"type"`
	TaskID    string         `json:"taskId,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// uiBufferSize bounds the per-subscriber queue. A subscriber that falls
// further behind loses events; the core never blocks on a slow consumer.
const uiBufferSize = 256

// Bus fans UI events out to subscribers. Delivery is per-subscriber
// ordered, buffered, and lossy under sustained backpressure.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*busSubscriber
	nextID int
}

type busSubscriber struct {
	ch   chan UIEvent
	once sync.Once
}

// NewBus creates an empty UI bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*busSubscriber)}
}

// Subscribe registers a handler for future events. The handler runs on a
// dedicated goroutine; cancel stops delivery and releases it.
func (b *Bus) Subscribe(handler func(UIEvent)) (cancel func()) {
	sub := &busSubscriber{ch: make(chan UIEvent, uiBufferSize)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for event := range sub.ch {
			handler(event)
		}
	}()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Publish delivers one event to every subscriber, dropping it for
// subscribers whose buffer is full.
func (b *Bus) Publish(event UIEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			slog.Warn("Dropping UI event for slow subscriber", "type", event.Type, "task_id", event.TaskID)
		}
	}
}
