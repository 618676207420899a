package chatserver

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks active websocket connections per user and fans pushed events
// out to them. A user may hold several connections (multiple tabs).
type Hub struct {
	mu    sync.Mutex
	conns map[int]map[*websocket.Conn]bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[int]map[*websocket.Conn]bool)}
}

// Add registers a connection for userID.
func (h *Hub) Add(userID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]bool)
	}
	h.conns[userID][conn] = true
}

// Remove drops a connection for userID. Safe to call for connections that
// were never added.
func (h *Hub) Remove(userID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.conns[userID]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}

// Broadcast sends payload as one JSON frame to every connection of every
// listed user. Broken connections are dropped silently; the client will
// reconnect.
func (h *Hub) Broadcast(userIDs []int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("chatserver: broadcast marshal: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, uid := range userIDs {
		for conn := range h.conns[uid] {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				delete(h.conns[uid], conn)
				conn.Close()
			}
		}
	}
}
