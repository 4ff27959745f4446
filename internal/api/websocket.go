package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/invoicegate/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// WSMessage is a client frame: subscribe, unsubscribe or ping.
type WSMessage struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
}

// WSHandler streams engine events to review UIs. Each connection follows
// at most one run id (or GlobalRunID) at a time.
type WSHandler struct {
	upgrader  websocket.Upgrader
	publisher events.Publisher
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[*wsConnection]struct{}
}

// subscription is a live publisher channel owned by one connection.
type subscription struct {
	runID string
	ch    <-chan events.Event
}

type wsConnection struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	sub *subscription
}

// NewWSHandler creates a handler fed by pub.
func NewWSHandler(pub events.Publisher, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The review UI is served from APP_URL, not from this listener.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		publisher: pub,
		logger:    logger,
		conns:     map[*wsConnection]struct{}{},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	c := &wsConnection{
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go h.readPump(c)
	go h.writePump(c)
}

// ConnectionCount returns the number of open connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll sends a normal closure to every client. Used on shutdown.
func (h *WSHandler) CloseAll() {
	h.mu.Lock()
	conns := make([]*wsConnection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.closeConnection(c)
	}
}

func (h *WSHandler) readPump(c *wsConnection) {
	defer h.closeConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("websocket read error", "error", err)
			}
			return
		}
		h.handleMessage(c, message)
	}
}

// writePump owns all writes to conn, including pings and the final close
// frame.
func (h *WSHandler) writePump(c *wsConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			// One frame per message so every frame is valid JSON.
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handleMessage(c *wsConnection, data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid message format")
		return
	}

	switch msg.Type {
	case "subscribe":
		h.handleSubscribe(c, msg.RunID)
	case "unsubscribe":
		h.handleUnsubscribe(c)
		h.sendJSON(c, map[string]any{"type": "unsubscribed"})
	case "ping":
		h.sendJSON(c, map[string]any{"type": "pong"})
	default:
		h.sendError(c, "unknown message type: "+msg.Type)
	}
}

func (h *WSHandler) handleSubscribe(c *wsConnection, runID string) {
	if runID == "" {
		h.sendError(c, "run_id required for subscribe (use \"*\" for all runs)")
		return
	}
	h.handleUnsubscribe(c)

	sub := &subscription{runID: runID, ch: h.publisher.Subscribe(runID)}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	go h.forwardEvents(c, sub.ch)

	h.sendJSON(c, map[string]any{"type": "subscribed", "run_id": runID})
	h.logger.Debug("websocket subscribed", "run_id", runID)
}

// handleUnsubscribe releases the current subscription, if any.
func (h *WSHandler) handleUnsubscribe(c *wsConnection) {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		h.publisher.Unsubscribe(sub.runID, sub.ch)
	}
}

// forwardEvents relays one subscription until it is closed by
// Unsubscribe or the connection ends.
func (h *WSHandler) forwardEvents(c *wsConnection, eventChan <-chan events.Event) {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			h.sendJSON(c, map[string]any{
				"type":   "event",
				"event":  string(event.Type),
				"run_id": event.RunID,
				"data":   event.Data,
				"time":   event.Time,
			})
		}
	}
}

func (h *WSHandler) closeConnection(c *wsConnection) {
	h.mu.Lock()
	_, open := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if !open {
		return
	}
	h.handleUnsubscribe(c)
	c.once.Do(func() { close(c.done) })
}

// sendJSON queues a JSON message, dropping it when the buffer is full.
func (h *WSHandler) sendJSON(c *wsConnection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("websocket encode failed", "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		h.logger.Warn("websocket send buffer full, dropping message")
	}
}

func (h *WSHandler) sendError(c *wsConnection, message string) {
	h.sendJSON(c, map[string]any{
		"type":  "error",
		"error": message,
	})
}
