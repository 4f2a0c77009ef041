package notifyhub

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
)

// WriteTimeout bounds one websocket write.
var WriteTimeout = time.Second

// SendQueueSize is how many notifications may wait for one client before it is dropped.
const SendQueueSize = 16

// conn is the part of *websocket.Conn the hub writes through.
type conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type client struct {
	conn conn
	send chan []byte
}

// Hub holds WebSocket connections and broadcasts notifications to all clients.
// Broadcast never waits on a client, each one has its own queue and writer goroutine.
// Implements notify.NotifyHub.
type Hub struct {
	mu      sync.RWMutex
	clients map[conn]*client
}

// New creates a new notify hub.
func New() *Hub {
	return &Hub{
		clients: make(map[conn]*client),
	}
}

// Register adds a WebSocket connection to the hub and starts its writer.
func (h *Hub) Register(ws *websocket.Conn) {
	h.register(ws)
}

// Unregister removes a WebSocket connection from the hub.
func (h *Hub) Unregister(ws *websocket.Conn) {
	h.unregister(ws)
}

func (h *Hub) register(c conn) *client {
	cl := &client{conn: c, send: make(chan []byte, SendQueueSize)}
	h.mu.Lock()
	h.clients[c] = cl
	total := len(h.clients)
	h.mu.Unlock()
	go h.writeLoop(cl)
	tool.DefaultLogger.Debugf("[NotifyWS] Client connected (%d total)", total)
	return cl
}

// unregister is idempotent; it closes the client's queue so its writer exits.
func (h *Hub) unregister(c conn) {
	h.mu.Lock()
	cl, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(cl.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		tool.DefaultLogger.Debugf("[NotifyWS] Client disconnected (%d total)", total)
	}
}

func (h *Hub) writeLoop(cl *client) {
	failed := false
	for payload := range cl.send {
		if failed {
			continue
		}
		_ = cl.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			tool.DefaultLogger.Debugf("[NotifyWS] Dropping client after write error: %v", err)
			failed = true
			_ = cl.conn.Close()
			go h.unregister(cl.conn)
		}
	}
}

// SendTo queues notification for a single connection.
func (h *Hub) SendTo(ws *websocket.Conn, notification *types.Notification) {
	h.sendTo(ws, notification)
}

func (h *Hub) sendTo(c conn, notification *types.Notification) {
	payload, ok := encode(notification)
	if !ok {
		return
	}
	h.mu.RLock()
	cl, found := h.clients[c]
	queued := found && enqueue(cl, payload)
	h.mu.RUnlock()
	if found && !queued {
		h.drop(c)
	}
}

// Broadcast queues the notification as JSON for all registered connections.
// A client whose queue is full is disconnected.
func (h *Hub) Broadcast(notification *types.Notification) {
	payload, ok := encode(notification)
	if !ok {
		return
	}

	var slow []conn
	h.mu.RLock()
	for c, cl := range h.clients {
		if !enqueue(cl, payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.drop(c)
	}
}

func (h *Hub) drop(c conn) {
	tool.DefaultLogger.Debugf("[NotifyWS] Dropping client with a full send queue")
	h.unregister(c)
	_ = c.Close()
}

// enqueue must be called with h.mu held so the queue cannot be closed meanwhile.
func enqueue(cl *client, payload []byte) bool {
	select {
	case cl.send <- payload:
		return true
	default:
		return false
	}
}

func encode(notification *types.Notification) ([]byte, bool) {
	if notification == nil {
		return nil, false
	}
	payload, err := sonic.Marshal(notification)
	if err != nil {
		tool.DefaultLogger.Errorf("[NotifyWS] Failed to serialize notification: %v", err)
		return nil, false
	}
	return payload, true
}
