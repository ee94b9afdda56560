package app

import (
	"sync"

	"github.com/Jincoo/youtube-music-remote/internal/core"
)

// Connections tracks every open transport, registered or not.
// The monitor sweeps it for liveness and heartbeats.
type Connections struct {
	mu    sync.RWMutex
	conns map[string]core.Connection
}

func NewConnections() *Connections {
	return &Connections{conns: make(map[string]core.Connection)}
}

func (c *Connections) Add(conn core.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn.ID()] = conn
}

func (c *Connections) Remove(conn core.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn.ID())
}

func (c *Connections) All() []core.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		out = append(out, conn)
	}
	return out
}

func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// CloseAll closes and forgets every tracked connection.
func (c *Connections) CloseAll() {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]core.Connection)
	c.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}
