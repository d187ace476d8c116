// Package gateway connects transports (WebSocket, SSH) to the game engine.
//
// A transport registers each connection with the Router, feeds it raw intent
// envelopes, and writes whatever the Hub hands it back. The Hub is the engine's
// Sink: it encodes every event once and routes it by connection id.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/tomz197/pong/internal/logging"
	"github.com/tomz197/pong/internal/pong"
	"github.com/tomz197/pong/internal/server"
)

// Client is one transport connection as seen by the Hub.
type Client interface {
	ID() pong.ConnectionID
	// Send queues an encoded event. It must not block; false means the
	// message was dropped.
	Send(msg []byte) bool
	// Close ends the connection. Safe to call more than once.
	Close()
}

// Hub is the connection table.
type Hub struct {
	logger  *log.Logger
	mu      sync.RWMutex
	clients map[pong.ConnectionID]Client
}

// Compile-time check that Hub is a server.Sink.
var _ server.Sink = (*Hub)(nil)

// NewHub creates an empty Hub. A nil logger discards output.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[pong.ConnectionID]Client),
	}
}

// Add registers c.
func (h *Hub) Add(c Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	h.mu.Unlock()
}

// Remove unregisters c if it is still the registered client for its id.
func (h *Hub) Remove(c Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.ID()]; ok && cur == c {
		delete(h.clients, c.ID())
		return true
	}
	return false
}

// Close unregisters and closes the client with id.
func (h *Hub) Close(id pong.ConnectionID) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver implements server.Sink.
func (h *Hub) Deliver(notes []server.Notification) {
	for _, n := range notes {
		msg, err := json.Marshal(n.Event)
		if err != nil {
			h.logger.Error("failed to encode event", "type", n.Event.Type, "err", err)
			continue
		}
		if n.To == server.Broadcast {
			h.broadcast(msg, n.Event.Type)
			continue
		}
		h.send(n.To, msg, n.Event.Type)
	}
}

func (h *Hub) send(to pong.ConnectionID, msg []byte, typ server.EventType) {
	h.mu.RLock()
	c, ok := h.clients[to]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if !c.Send(msg) {
		h.logger.Warn("send buffer full, dropping event", "conn", to, "type", typ)
	}
}

func (h *Hub) broadcast(msg []byte, typ server.EventType) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		if !c.Send(msg) {
			h.logger.Warn("send buffer full, dropping event", "conn", id, "type", typ)
		}
	}
}

// Drain waits for clients to disconnect on their own, then closes whatever is
// left when ctx expires or timeout passes.
func (h *Hub) Drain(ctx context.Context, timeout time.Duration) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

wait:
	for h.Len() > 0 {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		case <-ticker.C:
		}
	}

	h.mu.Lock()
	rest := h.clients
	h.clients = make(map[pong.ConnectionID]Client)
	h.mu.Unlock()
	for _, c := range rest {
		c.Close()
	}
	if len(rest) > 0 {
		h.logger.Info("closed lingering connections", "count", len(rest))
	}
}
