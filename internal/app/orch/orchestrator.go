// Package orch turns inbound relay frames into registry and router calls.
package orch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Jincoo/youtube-music-remote/internal/app"
	"github.com/Jincoo/youtube-music-remote/internal/core"
	"github.com/Jincoo/youtube-music-remote/internal/domain"
	"github.com/Jincoo/youtube-music-remote/internal/metrics"
	"github.com/Jincoo/youtube-music-remote/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrUnknownType = fmt.Errorf("%w: unknown message type", protocol.ErrMalformed)

type handler func(conn core.Connection, data []byte) error

type Orchestrator struct {
	Registry *app.Registry
	Router   *app.Router
	Conns    *app.Connections
	Metrics  *metrics.Metrics
	clock    core.Clock

	handlers map[protocol.MessageType]handler
}

func New(reg *app.Registry, router *app.Router, conns *app.Connections, clock core.Clock, m *metrics.Metrics) *Orchestrator {
	if clock == nil {
		clock = core.RealClock{}
	}
	o := &Orchestrator{Registry: reg, Router: router, Conns: conns, Metrics: m, clock: clock}
	o.handlers = map[protocol.MessageType]handler{
		protocol.TypeRegister:       o.handleRegister,
		protocol.TypeControlCommand: o.handleControlCommand,
		protocol.TypeStatusUpdate:   o.handleStatusUpdate,
		protocol.TypeGetSessions:    o.handleGetSessions,
		protocol.TypePing:           o.handlePing,
		protocol.TypeHeartbeat:      o.handleHeartbeat,
	}
	return o
}

// OnConnect starts tracking a freshly upgraded connection.
func (o *Orchestrator) OnConnect(conn core.Connection) {
	o.Conns.Add(conn)
	o.Metrics.SetConnections(o.Conns.Len())
}

// OnMessage handles one inbound frame. Replies go back on conn; failures
// never affect other connections.
func (o *Orchestrator) OnMessage(conn core.Connection, data []byte) {
	o.Registry.Touch(conn)

	msgType, err := protocol.Decode(data)
	if err != nil {
		o.reply(conn, err)
		return
	}
	h, ok := o.handlers[msgType]
	if !ok {
		log.Warn().Str("module", "orch").Str("type", string(msgType)).Msg("unknown message")
		o.reply(conn, fmt.Errorf("%w: %s", ErrUnknownType, msgType))
		return
	}
	o.Metrics.Message(string(msgType))

	err = h(conn, data)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrPeerUnavailable):
		log.Debug().Err(err).Str("module", "orch").Str("type", string(msgType)).Msg("dropped")
	case app.IsBackpressure(err):
		// already logged by the router
	default:
		log.Info().Err(err).Str("module", "orch").Str("conn", conn.ID()).Str("type", string(msgType)).Msg("rejected")
		o.reply(conn, err)
	}
}

// OnDisconnect releases whatever conn held and tells the peer.
func (o *Orchestrator) OnDisconnect(conn core.Connection) {
	o.Conns.Remove(conn)
	o.Metrics.SetConnections(o.Conns.Len())
	key, ok := o.Registry.RemoveByConnection(conn)
	o.Metrics.SetSessions(o.Registry.Len())
	if !ok {
		return
	}
	log.Info().Str("module", "orch").Str("key", key.String()).Msg("endpoint disconnected")
	o.Router.NotifyPeers(key.SessionID, key.Role, protocol.TypeDeviceDisconn)
}

func (o *Orchestrator) reply(conn core.Connection, err error) {
	app.SendTo(conn, protocol.NewError(err))
}

func (o *Orchestrator) handleRegister(conn core.Connection, data []byte) error {
	var msg protocol.Register
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	prev, hadPrev := o.Registry.KeyOf(conn)
	if _, err := o.Registry.Register(msg.SessionID, msg.DeviceType, conn, msg.Environment); err != nil {
		return err
	}
	key, _ := o.Registry.KeyOf(conn)
	o.Metrics.SetSessions(o.Registry.Len())

	if hadPrev && prev != key {
		o.Router.NotifyPeers(prev.SessionID, prev.Role, protocol.TypeDeviceDisconn)
	}
	app.SendTo(conn, protocol.Registered{
		Type:       protocol.TypeRegistered,
		SessionID:  key.SessionID,
		DeviceType: key.Role,
	})
	o.Router.NotifyPeers(key.SessionID, key.Role, protocol.TypeDeviceConn)

	// a late-joining remote gets the player state right away
	if key.Role == domain.RoleMobile {
		if status, ok := o.Registry.Status(key.SessionID); ok {
			app.SendTo(conn, protocol.StatusUpdate{
				Type:           protocol.TypeStatusUpdate,
				SessionID:      key.SessionID,
				StatusSnapshot: status,
			})
		}
	}
	return nil
}

func (o *Orchestrator) handleControlCommand(conn core.Connection, data []byte) error {
	var msg protocol.ControlCommand
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	if len(msg.Command) == 0 || string(msg.Command) == "null" {
		return fmt.Errorf("%w: command is required", protocol.ErrMalformed)
	}
	sid := o.sessionFor(conn, msg.SessionID)
	if sid == "" {
		return fmt.Errorf("%w: sessionId is required", protocol.ErrMalformed)
	}

	var cmd domain.Command
	if err := json.Unmarshal(msg.Command, &cmd); err == nil && !cmd.Type.Known() {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("command", string(cmd.Type)).Msg("forwarding unknown command")
	}
	return o.Router.Forward(sid, msg.Command)
}

func (o *Orchestrator) handleStatusUpdate(conn core.Connection, data []byte) error {
	var msg protocol.StatusUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	sid := o.sessionFor(conn, string(msg.SessionID))
	if sid == "" {
		return fmt.Errorf("%w: sessionId is required", protocol.ErrMalformed)
	}
	status := msg.StatusSnapshot.Normalize()
	status.Timestamp = o.clock.Now().UnixMilli()
	return o.Router.UpdateStatus(sid, status)
}

func (o *Orchestrator) handleGetSessions(conn core.Connection, _ []byte) error {
	app.SendTo(conn, protocol.SessionList{Type: protocol.TypeSessionList, Sessions: o.Registry.Snapshot()})
	return nil
}

func (o *Orchestrator) handlePing(conn core.Connection, _ []byte) error {
	app.SendTo(conn, protocol.Pong{Type: protocol.TypePong, Timestamp: o.clock.Now().UnixMilli()})
	return nil
}

// handleHeartbeat accepts an endpoint's heartbeat reply. OnMessage has
// already refreshed the entry.
func (o *Orchestrator) handleHeartbeat(core.Connection, []byte) error {
	return nil
}

// sessionFor prefers the explicit session id and falls back to the
// session conn registered under.
func (o *Orchestrator) sessionFor(conn core.Connection, explicit string) domain.SessionID {
	if explicit != "" {
		return domain.SessionID(explicit)
	}
	if key, ok := o.Registry.KeyOf(conn); ok {
		return key.SessionID
	}
	return ""
}
