// Package medium implements discovery.Medium over in-process channels,
// UDP multicast, Redis pub/sub and NATS.
package medium

import (
	"sync"

	"github.com/Jincoo/youtube-music-remote/internal/discovery"
	"github.com/rs/zerolog/log"
)

const inboxSize = 64

// envelope tags each datagram with the sending node so a medium that echoes
// publishes back can drop its own.
type envelope struct {
	Node string            `json:"node" msgpack:"node"`
	Msg  discovery.Message `json:"msg" msgpack:"msg"`
}

// inbox is a receive channel that is safe to close while producers run.
type inbox struct {
	mu     sync.RWMutex
	ch     chan discovery.Message
	closed bool
}

func newInbox() *inbox {
	return &inbox{ch: make(chan discovery.Message, inboxSize)}
}

// deliver never blocks; a full inbox drops the message, which the periodic
// rebroadcast makes up for.
func (in *inbox) deliver(m discovery.Message) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.closed {
		return
	}
	select {
	case in.ch <- m:
	default:
		log.Warn().Str("module", "medium").Str("type", string(m.Type)).Msg("inbox full, message dropped")
	}
}

func (in *inbox) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	close(in.ch)
}
