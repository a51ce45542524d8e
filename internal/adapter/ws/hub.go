// Package ws pushes task lifecycle events to connected clients over
// WebSocket. Clients subscribe to a single project via the project_id query
// parameter, or to everything by omitting it.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
)

// sendBuffer bounds the per-connection outbound queue. A client that cannot
// drain its queue loses events rather than stalling the broadcast.
const sendBuffer = 32

// Message is the envelope for every pushed event.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn is one subscribed client. projectID 0 means "all projects".
type conn struct {
	ws        *websocket.Conn
	projectID int64
	send      chan []byte
	cancel    context.CancelFunc
}

// Hub tracks subscribed clients and fans task events out to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*conn]struct{})}
}

// HandleWS upgrades the request and registers the client. The optional
// project_id query parameter narrows the subscription to one project.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	projectID, _ := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: sock, projectID: projectID, send: make(chan []byte, sendBuffer), cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "project_id", projectID)

	go c.writeLoop(ctx, h)
	go c.readLoop(ctx, h)
}

// BroadcastTask sends a typed event to every client subscribed to the
// project. Encoding happens once per broadcast, not per client.
func (h *Hub) BroadcastTask(_ context.Context, projectID int64, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("websocket marshal failed", "type", eventType, "error", err)
		return
	}
	frame, err := json.Marshal(Message{Type: eventType, Payload: data})
	if err != nil {
		slog.Error("websocket marshal failed", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if c.projectID != 0 && c.projectID != projectID {
			continue
		}
		select {
		case c.send <- frame:
		default:
			// Slow consumer: drop this event for this client.
			slog.Debug("websocket send buffer full, event dropped", "project_id", projectID)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// writeLoop drains the send queue into the socket until the connection dies.
func (c *conn) writeLoop(ctx context.Context, h *Hub) {
	defer h.remove(c)
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.send:
			if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}
}

// readLoop consumes inbound frames so pings and close frames are processed,
// and tears the connection down on the first read error.
func (c *conn) readLoop(ctx context.Context, h *Hub) {
	defer func() {
		h.remove(c)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err := c.ws.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "project_id", c.projectID)
	}
}
