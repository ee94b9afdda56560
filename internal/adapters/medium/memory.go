package medium

import (
	"context"
	"errors"
	"sync"

	"github.com/Jincoo/youtube-music-remote/internal/discovery"
)

var ErrClosed = errors.New("medium closed")

// Hub is an in-process broadcast domain. Every endpoint joined to it sees
// every other endpoint's publishes.
type Hub struct {
	mu      sync.RWMutex
	members map[*Endpoint]struct{}
}

func NewHub() *Hub {
	return &Hub{members: make(map[*Endpoint]struct{})}
}

func (h *Hub) Join() *Endpoint {
	e := &Endpoint{hub: h, in: newInbox()}
	h.mu.Lock()
	h.members[e] = struct{}{}
	h.mu.Unlock()
	return e
}

type Endpoint struct {
	hub *Hub
	in  *inbox
}

func (e *Endpoint) Publish(_ context.Context, m discovery.Message) error {
	e.hub.mu.RLock()
	defer e.hub.mu.RUnlock()
	if _, ok := e.hub.members[e]; !ok {
		return ErrClosed
	}
	for other := range e.hub.members {
		if other != e {
			other.in.deliver(m)
		}
	}
	return nil
}

func (e *Endpoint) Messages() <-chan discovery.Message { return e.in.ch }

func (e *Endpoint) Close() error {
	e.hub.mu.Lock()
	delete(e.hub.members, e)
	e.hub.mu.Unlock()
	e.in.close()
	return nil
}
