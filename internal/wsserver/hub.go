package wsserver

import (
	"sync"

	"github.com/codefionn/conicbridge/internal/logger"
)

// Hub keeps the set of live connections for diagnostics and shutdown.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	total   uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
	}
}

// Register adds a client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.total++
	n := len(h.clients)
	h.mu.Unlock()

	logger.Debug("Client registered: %s (active: %d)", client.ID, n)
}

// Unregister removes a client. It is safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		logger.Debug("Client unregistered: %s (active: %d)", client.ID, n)
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Total returns the number of connections accepted since start.
func (h *Hub) Total() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// CloseAll closes every live connection. Each client's read loop then exits
// and unregisters itself.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}
