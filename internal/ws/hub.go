package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

// Handler serves one inbound event name for one client.
type Handler func(ctx context.Context, clientID string, req Request) error

type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	hub    *Hub

	mu     sync.Mutex // guards send and closed
	send   chan []byte
	closed bool
}

func newClient(h *Hub, id, userID string, conn *websocket.Conn) *client {
	return &client{
		id:     id,
		userID: userID,
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, sendBuffer),
	}
}

// enqueue reports false when the client is gone or its buffer is full.
func (c *client) enqueue(data []byte) (ok bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, "client closed"
	}
	select {
	case c.send <- data:
		return true, ""
	default:
		return false, "send buffer full"
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.hub.logger.Debug("ws write failed", "client", c.id, "error", err)
			c.hub.removeClient(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// Hub is the client directory and the handler registry for inbound events.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	reserved map[string]string // id -> user id, from /register
	onEmpty  func()

	hmu      sync.RWMutex
	handlers map[string]Handler

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:  make(map[string]*client),
		reserved: make(map[string]string),
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "ws"),
	}
}

// NewID returns a fresh client identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Register installs the handler for an event name, replacing any earlier one.
func (h *Hub) Register(name string, handler Handler) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	if _, ok := h.handlers[name]; ok {
		h.logger.Debug("replacing ws handler", "event", name)
	}
	h.handlers[name] = handler
}

// OnEmpty sets the hook run after the last connected client is removed.
func (h *Hub) OnEmpty(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEmpty = fn
}

// Reserve allocates an identifier a client may later connect with.
func (h *Hub) Reserve(userID string) string {
	id := NewID()
	h.mu.Lock()
	h.reserved[id] = userID
	h.mu.Unlock()
	h.logger.Debug("client registered", "client", id, "user", userID)
	return id
}

// Reserved reports whether id was handed out by Reserve and not released.
func (h *Hub) Reserved(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.reserved[id]
	return ok
}

// Release drops a reservation and disconnects the client using it.
func (h *Hub) Release(id string) bool {
	h.mu.Lock()
	_, reserved := h.reserved[id]
	delete(h.reserved, id)
	c, connected := h.clients[id]
	h.mu.Unlock()

	if connected {
		h.removeClient(c)
	}
	return reserved || connected
}

// AddClient registers conn under id, starts its writer and greets it with
// a ready event. An existing connection with the same id is replaced.
func (h *Hub) AddClient(id string, conn *websocket.Conn) *client {
	h.mu.Lock()
	c := newClient(h, id, h.reserved[id], conn)
	old := h.clients[id]
	h.clients[id] = c
	h.mu.Unlock()

	if old != nil {
		h.logger.Info("replacing ws connection", "client", id)
		old.close()
	}
	go c.writePump()

	h.logger.Info("ws client connected", "client", id, "clients", h.ClientCount())
	h.SendTo(id, Message{Tag: TagReady})
	return c
}

// RemoveClient drops the client with id. Removing the last client runs the
// OnEmpty hook.
func (h *Hub) RemoveClient(id string) {
	h.mu.RLock()
	c := h.clients[id]
	h.mu.RUnlock()
	if c != nil {
		h.removeClient(c)
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if h.clients[c.id] != c {
		h.mu.Unlock()
		c.close()
		return
	}
	delete(h.clients, c.id)
	remaining := len(h.clients)
	onEmpty := h.onEmpty
	h.mu.Unlock()

	c.close()
	h.logger.Info("ws client disconnected", "client", c.id, "clients", remaining)
	if remaining == 0 && onEmpty != nil {
		onEmpty()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleMessage parses one inbound frame and runs its handler. Malformed
// frames and events without a handler are logged and dropped; handler
// errors are logged and never returned.
func (h *Hub) HandleMessage(ctx context.Context, clientID string, raw []byte) {
	req, err := ParseRequest(raw)
	if err != nil {
		h.logger.Warn("dropping ws message", "client", clientID, "error", err)
		return
	}

	h.hmu.RLock()
	handler, ok := h.handlers[req.Event()]
	h.hmu.RUnlock()
	if !ok {
		h.logger.Warn("no handler for ws event", "client", clientID, "event", req.Event())
		return
	}

	h.logger.Debug("ws event", "client", clientID, "event", req.Event())
	if err := handler(ctx, clientID, req); err != nil {
		h.logger.Error("ws handler failed", "client", clientID, "event", req.Event(), "error", err)
	}
}

// SendTo queues msg for one client. Unknown or disconnected clients are
// logged and skipped.
func (h *Hub) SendTo(clientID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal failed", "event", msg.Tag, "error", err)
		return
	}
	h.sendRaw(clientID, data, msg.Tag.String())
}

func (h *Hub) sendRaw(clientID string, data []byte, label string) bool {
	h.mu.RLock()
	c := h.clients[clientID]
	h.mu.RUnlock()
	if c == nil {
		h.logger.Debug("send to unknown client", "client", clientID, "event", label)
		return false
	}
	if ok, reason := c.enqueue(data); !ok {
		h.logger.Debug("send dropped", "client", clientID, "event", label, "reason", reason)
		return false
	}
	return true
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal failed", "event", msg.Tag, "error", err)
		return
	}
	h.fanOut(func(*client) bool { return true }, data, msg.Tag.String())
}

// Publish delivers a raw text frame to the clients registered for userID,
// or to everyone when userID is empty. It returns the number of clients
// the frame was queued for.
func (h *Hub) Publish(userID, text string) int {
	return h.fanOut(func(c *client) bool {
		return userID == "" || c.userID == userID
	}, []byte(text), "publish")
}

func (h *Hub) fanOut(match func(*client) bool, data []byte, label string) int {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if ok, reason := c.enqueue(data); ok {
			sent++
		} else {
			h.logger.Debug("send dropped", "client", c.id, "event", label, "reason", reason)
		}
	}
	return sent
}

// Close disconnects every client without running the OnEmpty hook.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
