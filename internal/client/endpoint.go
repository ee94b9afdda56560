package client

import (
	"encoding/json"

	"github.com/Jincoo/youtube-music-remote/internal/discovery"
	"github.com/Jincoo/youtube-music-remote/internal/domain"
	"github.com/Jincoo/youtube-music-remote/internal/protocol"
)

// Direct is the part of discovery.Signaler an Endpoint needs.
type Direct interface {
	State() discovery.State
	Send([]byte) error
}

// Endpoint sends over the direct peer link while it is open and through
// the relay otherwise. Frames on the direct link use the relay's outbound
// shapes so the receiver handles both paths alike.
type Endpoint struct {
	Relay     *Relay
	Direct    Direct
	SessionID domain.SessionID
}

func (e *Endpoint) direct() bool {
	return e.Direct != nil && e.Direct.State() == discovery.StateConnected
}

func (e *Endpoint) SendCommand(cmd domain.Command) error {
	if e.direct() {
		raw, err := json.Marshal(cmd)
		if err != nil {
			return err
		}
		b, err := json.Marshal(protocol.RemoteCommand{Type: protocol.TypeRemoteCommand, Command: raw})
		if err != nil {
			return err
		}
		if err := e.Direct.Send(b); err == nil {
			return nil
		}
	}
	if e.Relay == nil {
		return discovery.ErrNotConnected
	}
	return e.Relay.SendCommand(cmd)
}

func (e *Endpoint) SendStatus(status domain.StatusSnapshot) error {
	if e.direct() {
		b, err := json.Marshal(protocol.StatusUpdate{
			Type:           protocol.TypeStatusUpdate,
			SessionID:      e.SessionID,
			StatusSnapshot: status,
		})
		if err != nil {
			return err
		}
		if err := e.Direct.Send(b); err == nil {
			return nil
		}
	}
	if e.Relay == nil {
		return discovery.ErrNotConnected
	}
	return e.Relay.SendStatus(status)
}
