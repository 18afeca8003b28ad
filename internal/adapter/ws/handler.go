// Package ws implements the WebSocket adapter that relays research
// session events to browser clients in real time.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SubscribeAll subscribes a connection to every session's events.
const SubscribeAll = "*"

// sendBuffer is the per-connection outbound queue depth. A client that
// falls this far behind is disconnected rather than throttling the relay.
const sendBuffer = 256

// conn wraps a single WebSocket connection, its session subscriptions and
// its outbound queue. All writes happen on the connection's writer
// goroutine; Broadcast only enqueues.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	send   chan []byte

	mu       sync.Mutex
	sessions map[string]struct{}
}

// writeLoop drains the outbound queue onto the socket until the
// connection's context ends or a write fails.
func (c *conn) writeLoop(ctx context.Context, h *Hub) {
	for {
		select {
		case data := <-c.send:
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				slog.Debug("websocket write failed", "error", err)
				h.remove(c)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *conn) subscribed(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, all := c.sessions[SubscribeAll]; all {
		return true
	}
	_, ok := c.sessions[sessionID]
	return ok
}

func (c *conn) subscribe(sessionID string) {
	c.mu.Lock()
	c.sessions[sessionID] = struct{}{}
	c.mu.Unlock()
}

func (c *conn) unsubscribe(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// Hub manages active WebSocket connections and routes session events to
// the clients subscribed to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// clientCommand is what clients send: subscribe to or leave a session.
type clientCommand struct {
	Action    string `json:"action"` // "subscribe" | "unsubscribe"
	SessionID string `json:"session_id"`
}

// HandleWS upgrades the request to a WebSocket connection. The client
// then subscribes to sessions with {"action":"subscribe","session_id":...};
// "*" subscribes to all sessions.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		ws:       ws,
		cancel:   cancel,
		send:     make(chan []byte, sendBuffer),
		sessions: make(map[string]struct{}),
	}

	// A session ID in the query string is an implicit subscription.
	if id := r.URL.Query().Get("session_id"); id != "" {
		c.subscribe(id)
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	go c.writeLoop(ctx, h)

	// Read loop: consume subscription commands, detect disconnects. Runs
	// on the handler goroutine so the request context stays alive for the
	// connection's lifetime.
	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.Debug("websocket command not valid json", "error", err)
			continue
		}
		switch cmd.Action {
		case "subscribe":
			c.subscribe(cmd.SessionID)
		case "unsubscribe":
			c.unsubscribe(cmd.SessionID)
		}
	}
}

// Broadcast enqueues a message for every client subscribed to its session;
// messages without a session ID go to all clients. It never blocks on a
// socket: each connection's writer goroutine drains its own queue, and a
// client whose queue is full is disconnected.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if msg.SessionID != "" && !c.subscribed(msg.SessionID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Dropping frames would corrupt the relayed answer text for
			// this client, so cut the connection instead.
			slog.Warn("websocket client too slow, disconnecting")
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
