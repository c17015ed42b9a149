package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/runtime"
)

// wsQueueSize bounds the per-connection delivery queue. A consumer that
// falls further behind is disconnected rather than slowing the log.
const wsQueueSize = 256

// wsWriteTimeout is the per-frame write deadline.
const wsWriteTimeout = 10 * time.Second

// wsFrame is one serialized message on either stream.
type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// eventsWSHandler handles GET /ws/events: the durable domain event stream.
// The subscription opens before the catch-up read so nothing is missed;
// catch-up replays everything after the client's since_id, then the live
// queue takes over, deduplicated by event id.
func (s *Server) eventsWSHandler(c *echo.Context) error {
	sinceID, err := parseSinceID(c)
	if err != nil {
		return err
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		return nil // Accept already wrote the HTTP error
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := conn.CloseRead(c.Request().Context())

	queue := make(chan models.StoredEvent, wsQueueSize)
	overflow := make(chan struct{})
	var overflowOnce sync.Once
	cancel := s.events.Subscribe(func(evt models.StoredEvent) {
		select {
		case queue <- evt:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer cancel()

	lastID := sinceID
	for _, evt := range s.events.ReadAll(sinceID) {
		if err := writeFrame(ctx, conn, wsFrame{Type: "event", Data: evt}); err != nil {
			return nil
		}
		lastID = evt.ID
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case <-overflow:
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return nil
		case evt := <-queue:
			// Events appended during catch-up were both read and queued.
			if evt.ID <= lastID {
				continue
			}
			if err := writeFrame(ctx, conn, wsFrame{Type: "event", Data: evt}); err != nil {
				return nil
			}
			lastID = evt.ID
		}
	}
}

// uiWSHandler handles GET /ws/ui: the ephemeral presentation stream. No
// catch-up; UI events are never persisted.
func (s *Server) uiWSHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		return nil
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := conn.CloseRead(c.Request().Context())

	queue := make(chan runtime.UIEvent, wsQueueSize)
	cancel := s.ui.Subscribe(func(evt runtime.UIEvent) {
		select {
		case queue <- evt:
		case <-ctx.Done():
		}
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case evt := <-queue:
			if err := writeFrame(ctx, conn, wsFrame{Type: "ui", Data: evt}); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if len(s.allowedOrigins) == 0 {
		// Local daemon default: no allowlist configured, accept any origin.
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins}
}

func parseSinceID(c *echo.Context) (uint64, error) {
	v := c.QueryParam("since_id")
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid since_id: must be a non-negative integer")
	}
	return id, nil
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
