package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
)

const eventWriteTimeout = 5 * time.Second

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventFrame is one message on the incident event stream
type eventFrame struct {
	Event     string               `json:"event"`
	Data      api.IncidentResponse `json:"data"`
	Timestamp time.Time            `json:"timestamp"`
}

// EventStreamHandler fans incident lifecycle events out to websocket
// subscribers. It implements services.EventPublisher; a slow or dead
// subscriber is dropped rather than stalling the stream.
type EventStreamHandler struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]*sync.Mutex
}

// NewEventStreamHandler creates a new event stream handler
func NewEventStreamHandler() *EventStreamHandler {
	return &EventStreamHandler{
		conns: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// SetupRoutes sets up websocket routes
func (h *EventStreamHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/events", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and holds it open until the client
// disconnects. Inbound traffic is ignored except for "ping", which gets a
// "pong" reply.
func (h *EventStreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Warning: websocket upgrade failed: %v", err)
		return
	}

	h.register(conn)
	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Warning: event stream read error: %v", err)
			}
			return
		}
		if string(message) == "ping" {
			h.writeTo(conn, []byte("pong"))
		}
	}
}

// Publish sends an incident event to all subscribers. The fan-out runs on
// its own goroutine so callers never wait on subscriber sockets.
func (h *EventStreamHandler) Publish(event string, incident *database.Incident) {
	frame := eventFrame{
		Event:     event,
		Data:      api.IncidentToResponse(*incident),
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("Warning: failed to marshal event %s: %v", event, err)
		return
	}
	go h.broadcast(data)
}

// ClientCount returns the number of connected subscribers
func (h *EventStreamHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *EventStreamHandler) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = &sync.Mutex{}
	h.mu.Unlock()
	log.Printf("Event stream client connected (%d active)", h.ClientCount())
}

func (h *EventStreamHandler) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

func (h *EventStreamHandler) broadcast(data []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := h.writeTo(conn, data); err != nil {
			h.unregister(conn)
			conn.Close()
		}
	}
}

// writeTo serializes writes per connection; gorilla/websocket allows only one
// concurrent writer.
func (h *EventStreamHandler) writeTo(conn *websocket.Conn, data []byte) error {
	h.mu.RLock()
	lock, ok := h.conns[conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	lock.Lock()
	defer lock.Unlock()
	conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
