// Package websocket is the thin front door: framing, session resolution and
// backpressure-aware delivery of the event stream.
package websocket

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/adskit/ads/internal/common/logger"
)

// Hub tracks all connected clients.
type Hub struct {
	maxClients int

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool

	history *historyCache
	logger  *logger.Logger
}

// NewHub creates a Hub.
func NewHub(maxClients, historyLimit int, log *logger.Logger) *Hub {
	return &Hub{
		maxClients: maxClients,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		history:    newHistoryCache(historyLimit),
		logger:     log.WithComponent("ws_hub"),
	}
}

// Run starts the hub loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", client.ID))
		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Full reports whether the client limit is reached.
func (h *Hub) Full() bool {
	return h.maxClients > 0 && h.Count() >= h.maxClients
}

// History returns the replay cache.
func (h *Hub) History() *historyCache {
	return h.history
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Debug("client unregistered", zap.String("client_id", client.ID))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
