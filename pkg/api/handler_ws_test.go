package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/runtime"
)

// rawFrame mirrors wsFrame with an undecoded payload.
type rawFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + path

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) rawFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var frame rawFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func readEvent(t *testing.T, conn *websocket.Conn) models.StoredEvent {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, "event", frame.Type)

	var evt models.StoredEvent
	require.NoError(t, json.Unmarshal(frame.Data, &evt))
	return evt
}

func TestEventsWSCatchUpThenLive(t *testing.T) {
	env := newAPIEnv(t)
	ts := httptest.NewServer(env.server)
	t.Cleanup(ts.Close)

	before1 := env.createTask(t, "before one")
	before2 := env.createTask(t, "before two")

	conn := dialWS(t, ts, "/ws/events")

	// Catch-up: both pre-connection events, in append order.
	first := readEvent(t, conn)
	second := readEvent(t, conn)
	assert.Equal(t, before1, first.StreamID)
	assert.Equal(t, before2, second.StreamID)
	assert.Less(t, first.ID, second.ID)

	// Live: an event appended after connecting is delivered exactly once.
	after := env.createTask(t, "after")
	live := readEvent(t, conn)
	assert.Equal(t, after, live.StreamID)
	assert.Equal(t, models.EventTaskCreated, live.Type)
	assert.Greater(t, live.ID, second.ID)
}

func TestEventsWSSinceID(t *testing.T) {
	env := newAPIEnv(t)
	ts := httptest.NewServer(env.server)
	t.Cleanup(ts.Close)

	env.createTask(t, "old")
	skipTo := env.log.ReadAll(0)
	require.NotEmpty(t, skipTo)
	lastSeen := skipTo[len(skipTo)-1].ID

	fresh := env.createTask(t, "fresh")

	conn := dialWS(t, ts, "/ws/events?since_id="+strconv.FormatUint(lastSeen, 10))
	evt := readEvent(t, conn)
	assert.Equal(t, fresh, evt.StreamID)
	assert.Greater(t, evt.ID, lastSeen)
}

func TestEventsWSInvalidSinceID(t *testing.T) {
	env := newAPIEnv(t)
	ts := httptest.NewServer(env.server)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws/events?since_id=banana"
	_, _, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
}

func TestUIWS(t *testing.T) {
	env := newAPIEnv(t)
	ts := httptest.NewServer(env.server)
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts, "/ws/ui")

	// The handler attaches its subscription after the handshake; publish
	// until the first frame comes back.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.ui.Publish(runtime.UIEvent{
					Type:   runtime.UIToolCallStart,
					TaskID: "task-1",
					Data:   map[string]any{"toolName": "grep"},
				})
			}
		}
	}()

	frame := readFrame(t, conn)
	require.Equal(t, "ui", frame.Type)

	var evt runtime.UIEvent
	require.NoError(t, json.Unmarshal(frame.Data, &evt))
	assert.Equal(t, runtime.UIToolCallStart, evt.Type)
	assert.Equal(t, "task-1", evt.TaskID)
}
