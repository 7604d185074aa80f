package websocket

import (
	"context"
	"sync"

	"roomchat/pkg/logger"
)

// Hub tracks live clients so the server can close them on shutdown. Room
// membership lives in the engine, not here.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	drained chan struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if len(h.clients) == 0 && h.drained != nil {
		close(h.drained)
		h.drained = nil
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll sends a close frame to every client and waits until their read
// pumps have exited or ctx ends.
func (h *Hub) CloseAll(ctx context.Context) error {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return nil
	}
	drained := make(chan struct{})
	h.drained = drained
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
	logger.Info("closing websocket clients", "count", len(clients))

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
