// Package registry tracks live client connections by their assigned IDs.
package registry

import (
	"encoding/json"
	"log/slog"
	"sync"

	"slipstream-race-server/domain"
)

// Clients maps client IDs to live connections. It is the sole owner of
// connection handles; everything else references clients by ID.
type Clients struct {
	mu    sync.RWMutex
	conns map[string]domain.Connection
}

// New creates an empty client registry.
func New() *Clients {
	return &Clients{
		conns: make(map[string]domain.Connection),
	}
}

// Register stores the connection and acknowledges it with its assigned ID.
// The ack is sent before any inbound traffic from the connection is handled.
func (c *Clients) Register(conn domain.Connection) {
	c.mu.Lock()
	c.conns[conn.ID()] = conn
	count := len(c.conns)
	c.mu.Unlock()

	ack, err := json.Marshal(domain.ConnectedMessage{
		Action:   domain.ActionConnected,
		PlayerID: conn.ID(),
	})
	if err == nil {
		if err := conn.Send(ack); err != nil {
			slog.Warn("connected ack failed", "clientId", conn.ID(), "error", err)
		}
	}

	slog.Info("client connected", "clientId", conn.ID(), "clients", count)
}

// Unregister removes the mapping. Safe to call more than once.
func (c *Clients) Unregister(id string) {
	c.mu.Lock()
	_, existed := c.conns[id]
	delete(c.conns, id)
	count := len(c.conns)
	c.mu.Unlock()

	if existed {
		slog.Info("client disconnected", "clientId", id, "clients", count)
	}
}

// Lookup returns the connection for id, if it is still live.
func (c *Clients) Lookup(id string) (domain.Connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[id]
	return conn, ok
}

// Count reports the number of live connections.
func (c *Clients) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}
