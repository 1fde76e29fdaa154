// Package websink defines the browser-facing broadcast sink interface. A
// full implementation would bridge the UDP frame stream to a WebRTC or
// WebSocket signaling layer; that layer is out of scope here (see
// SPEC_FULL.md's Non-goals), so Sink is kept to the minimal surface the
// rest of the server depends on, mirroring the original WebConnection,
// which likewise never grew past a client-count stub.
package websink

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Sink is a broadcast destination alongside the UDP session registry. It
// lets a server fan video/audio frames out to browser viewers without
// depending on websink internals.
type Sink interface {
	HasClients() bool
	Broadcast(buf []byte)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is a minimal Sink backed by gorilla/websocket: every accepted
// connection receives every Broadcast call verbatim as a binary message.
// It does not negotiate codecs, resolutions, or any other session state —
// a real browser client needs a signaling layer this package does not
// provide.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades r to a WebSocket connection and registers it as a
// broadcast target until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.readUntilClosed(conn)
}

// readUntilClosed discards inbound messages (this sink is send-only) and
// deregisters the connection once it errors or closes.
func (h *Hub) readUntilClosed(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// HasClients implements Sink.
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// Broadcast implements Sink, sending buf as a binary message to every
// connected client and dropping any that fail to accept it.
func (h *Hub) Broadcast(buf []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			c.Close()
		}
	}
}
