package coretest

import (
	"errors"
	"sync"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/core"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("connection closed")

// Conn is an in-memory core.Connection that records what it is sent.
type Conn struct {
	id   string
	addr string

	mu       sync.Mutex
	frames   []core.Frame
	open     bool
	alive    bool
	lastSeen time.Time
	probes   int
	closes   int
	// FailSend makes TrySend return this error.
	FailSend error
}

func NewConn(now time.Time) *Conn {
	return &Conn{id: uuid.NewString(), addr: "127.0.0.1:50000", open: true, alive: true, lastSeen: now}
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return c.addr }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrClosed
	}
	if c.FailSend != nil {
		return c.FailSend
	}
	c.frames = append(c.frames, append(core.Frame(nil), f...))
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closes++
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *Conn) Probe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrClosed
	}
	c.alive = false
	c.probes++
	return nil
}

func (c *Conn) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Pong simulates a transport-level probe reply.
func (c *Conn) Pong(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = true
	c.lastSeen = at
}

// Seen simulates inbound traffic.
func (c *Conn) Seen(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = at
}

func (c *Conn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.frames...)
}

func (c *Conn) Probes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probes
}

func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
