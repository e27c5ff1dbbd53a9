// Package realtime pushes a sync session's event stream to connected
// websocket clients, for callers that want live progress instead of
// polling GetOperationStatus.
package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/memento-sh/sync-core/internal/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans out core.SessionEvent values to every websocket client
// subscribed to the matching session id.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]bool

	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]map[*websocket.Conn]bool), logger: logger}
}

// OnSessionEvent is a sync.SessionListener: register it with
// Coordinator.AddSessionListener to stream every session's events
// through this hub.
func (h *Hub) OnSessionEvent(ev core.SessionEvent) {
	h.mu.RLock()
	conns := h.clients[ev.SessionID]
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Warn("realtime: dropping client after write failure", "session_id", ev.SessionID, "error", err)
			h.remove(ev.SessionID, conn)
			conn.Close()
		}
	}
}

// ServeSession upgrades r to a websocket and streams sessionID's
// events to it until the client disconnects. Implements api.SessionHub.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("realtime: websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	h.add(sessionID, conn)
	h.logger.Info("realtime: client subscribed", "session_id", sessionID, "remote_addr", conn.RemoteAddr().String())

	defer func() {
		h.remove(sessionID, conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*websocket.Conn]bool)
	}
	h.clients[sessionID][conn] = true
}

func (h *Hub) remove(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[sessionID], conn)
	if len(h.clients[sessionID]) == 0 {
		delete(h.clients, sessionID)
	}
}

// ActiveSessionCount reports how many sessions currently have at
// least one subscriber.
func (h *Hub) ActiveSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
