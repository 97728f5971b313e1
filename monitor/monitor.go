// Package monitor streams step and checkpoint events of a running coupled
// model to websocket clients as JSON messages.
package monitor

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phil-mansfield/linkage"
)

const writeTimeout = 5 * time.Second

// Message is the JSON document sent to clients. Exactly one of Step and
// Checkpoint is set, according to Type.
type Message struct {
	Type       string                   `json:"type"`
	Step       *linkage.StepEvent       `json:"step,omitempty"`
	Checkpoint *linkage.CheckpointEvent `json:"checkpoint,omitempty"`
}

// Hub is an http.Handler that upgrades requests to websockets and a
// linkage.Observer that broadcasts to every connected client. Clients whose
// writes fail are dropped.
type Hub struct {
	Logger *log.Logger

	upgrader websocket.Upgrader
	mu       sync.RWMutex
	// Each connection carries its own write lock.
	clients map[*websocket.Conn]*sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (h *Hub) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("Monitor upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()
	defer h.remove(conn)

	// Clients only listen. Reads are drained to notice closed connections.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// Broadcast sends msg to every client.
func (h *Hub) Broadcast(msg *Message) {
	h.mu.RLock()
	failed := []*websocket.Conn{}
	for conn, mu := range h.clients {
		mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteJSON(msg)
		mu.Unlock()
		if err != nil {
			h.logf("Monitor write failed: %v", err)
			conn.Close()
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range failed {
		h.remove(conn)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, mu := range h.clients {
		mu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		mu.Unlock()
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) Step(ev linkage.StepEvent) {
	h.Broadcast(&Message{Type: "step", Step: &ev})
}

func (h *Hub) Checkpoint(ev linkage.CheckpointEvent) error {
	h.Broadcast(&Message{Type: "checkpoint", Checkpoint: &ev})
	return nil
}
