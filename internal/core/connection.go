package core

import "time"

// Frame is a raw outbound payload, one WebSocket text message.
type Frame []byte

// Connection abstracts an endpoint transport.
// Owned by the adapter; the adapter must Close() it.
type Connection interface {
	ID() string
	RemoteAddr() string

	// TrySend queues a frame without blocking.
	TrySend(Frame) error
	Close()
	IsOpen() bool

	// Alive reports the liveness flag. Probe clears it and asks the
	// transport for a proof of life; a reply sets it again.
	Alive() bool
	Probe() error
	// LastSeen is the last time any inbound traffic arrived, pongs included.
	LastSeen() time.Time
}
