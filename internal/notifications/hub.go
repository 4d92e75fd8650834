package notifications

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/gofiber/websocket/v2"

	"sologram/internal/observability"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

// Hub is a websocket hub that maps uid -> list of Clients.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	shutdown   chan struct{}
}

// NewHub creates a new Hub instance for managing notifications.
func NewHub() *Hub {
	return &Hub{
		conns:    make(map[string]map[*Client]struct{}),
		shutdown: make(chan struct{}),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "notification hub" }

// Register a connection for a given uid. Returns the Client or error if
// limits exceeded.
func (h *Hub) Register(uid string, conn *websocket.Conn) (*Client, error) {
	select {
	case <-h.shutdown:
		return nil, errors.New("hub is shutting down")
	default:
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalConns >= maxTotalConns {
		return nil, errors.New("server connection limit reached")
	}

	m, ok := h.conns[uid]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[uid] = m
	}

	if len(m) >= maxConnsPerUser {
		return nil, errors.New("user connection limit reached")
	}

	client := NewClient(h, conn, uid)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnections.Inc()

	return client, nil
}

// UnregisterClient removes a client's registration, if present.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.conns[client.UID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			observability.WebSocketConnections.Dec()
		}
		if len(m) == 0 {
			delete(h.conns, client.UID)
		}
	}
}

// Broadcast sends message to all connections for uid
func (h *Hub) Broadcast(uid string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.conns[uid]; ok {
		for c := range clients {
			c.TrySend(message)
		}
	}
}

// IsOnline reports whether a user currently has at least one active
// websocket connection.
func (h *Hub) IsOnline(uid string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients, ok := h.conns[uid]
	return ok && len(clients) > 0
}

// StartWiring connects the Notifier to this hub: it subscribes to the Redis
// pattern and forwards messages to matching uid connections.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPatternSubscriber(ctx, func(uid, payload string) {
		h.Broadcast(uid, []byte(payload))
	})
}

// Shutdown gracefully closes all websocket connections
func (h *Hub) Shutdown(_ context.Context) error {
	close(h.shutdown)

	h.mu.Lock()
	for uid, userConns := range h.conns {
		for client := range userConns {
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				log.Printf("failed to write close message for user %s: %v", uid, err)
			}
			if err := client.Conn.Close(); err != nil {
				log.Printf("failed to close websocket for user %s: %v", uid, err)
			}
		}
	}
	h.conns = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	h.mu.Unlock()

	return nil
}
