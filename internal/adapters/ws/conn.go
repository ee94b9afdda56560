package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/app"
	"github.com/Jincoo/youtube-music-remote/internal/core"
	"github.com/Jincoo/youtube-music-remote/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var (
	ErrBackpressure     = app.ErrBackpressure
	ErrMalformedMessage = protocol.ErrMalformed
	ErrClosed           = errors.New("connection closed")
)

// Conn is a WebSocket endpoint. Writes go through the controller's write
// pump; Close and WriteControl may be called from any goroutine.
type Conn struct {
	id      string
	ws      *websocket.Conn
	send    chan core.Frame
	limiter *rate.Limiter
	wait    time.Duration

	mu     sync.RWMutex
	closed bool

	alive    atomic.Bool
	lastSeen atomic.Int64
}

func newConn(ws *websocket.Conn, cfg Config, now time.Time) *Conn {
	c := &Conn{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan core.Frame, cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		wait:    cfg.WriteWait,
	}
	c.alive.Store(true)
	c.lastSeen.Store(now.UnixNano())
	return c
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
}

func (c *Conn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Conn) Alive() bool { return c.alive.Load() }

// Probe clears the liveness flag and sends a WebSocket ping.
func (c *Conn) Probe() error {
	if !c.IsOpen() {
		return ErrClosed
	}
	c.alive.Store(false)
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.wait))
}

func (c *Conn) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

func (c *Conn) seen(now time.Time) { c.lastSeen.Store(now.UnixNano()) }

func (c *Conn) pong(now time.Time) {
	c.alive.Store(true)
	c.seen(now)
}

// allow reports whether another inbound message fits the rate budget.
func (c *Conn) allow() bool { return c.limiter.Allow() }
