package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Jincoo/youtube-music-remote/internal/core"
	"github.com/Jincoo/youtube-music-remote/internal/domain"
	"github.com/Jincoo/youtube-music-remote/internal/metrics"
	"github.com/Jincoo/youtube-music-remote/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrPeerUnavailable = errors.New("peer unavailable")

// Router relays commands and status between the two roles of a session.
// It never inspects command payloads.
type Router struct {
	Registry *Registry
	Policy   Policy
	Metrics  *metrics.Metrics
}

func NewRouter(reg *Registry, policy Policy, m *metrics.Metrics) *Router {
	if policy == nil {
		policy = DropPolicy{}
	}
	return &Router{Registry: reg, Policy: policy, Metrics: m}
}

// Forward delivers a command to the pc endpoint of the session.
func (r *Router) Forward(sessionID domain.SessionID, command json.RawMessage) error {
	pc, ok := r.Registry.Lookup(sessionID, domain.RolePC)
	if !ok || !pc.Conn.IsOpen() {
		r.Metrics.Dropped("peer_unavailable")
		return fmt.Errorf("%w: no pc for session %s", ErrPeerUnavailable, sessionID)
	}
	return r.send(pc, protocol.RemoteCommand{Type: protocol.TypeRemoteCommand, Command: command})
}

// UpdateStatus stores the snapshot and pushes it to the mobile endpoint.
// The snapshot is kept even when no mobile is connected.
func (r *Router) UpdateStatus(sessionID domain.SessionID, status domain.StatusSnapshot) error {
	r.Registry.SetStatus(sessionID, status)
	mobile, ok := r.Registry.Lookup(sessionID, domain.RoleMobile)
	if !ok || !mobile.Conn.IsOpen() {
		return fmt.Errorf("%w: no mobile for session %s", ErrPeerUnavailable, sessionID)
	}
	return r.send(mobile, protocol.StatusUpdate{
		Type:           protocol.TypeStatusUpdate,
		SessionID:      sessionID,
		StatusSnapshot: status,
	})
}

// NotifyPeers tells the other role that role connected or disconnected.
func (r *Router) NotifyPeers(sessionID domain.SessionID, role domain.Role, event protocol.MessageType) {
	peer, ok := r.Registry.LookupPeer(sessionID, role)
	if !ok || !peer.Conn.IsOpen() {
		return
	}
	if err := r.send(peer, protocol.DeviceEvent{Type: event, DeviceType: role}); err != nil {
		log.Debug().Err(err).Str("module", "app.router").Str("sid", string(sessionID)).Msg("notify peer")
	}
}

func (r *Router) send(to Entry, v any) error {
	b, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	err = to.Conn.TrySend(b)
	if err == nil {
		return nil
	}
	r.Metrics.Dropped("send")
	log.Warn().Err(err).Str("module", "app.router").Str("key", to.Key.String()).Msg("send failed")
	if IsBackpressure(err) && r.Policy.OnBackPressure(to.Key) == KickConnection {
		log.Warn().Str("module", "app.router").Str("key", to.Key.String()).Msg("kicking slow connection")
		to.Conn.Close()
	}
	return err
}

// ErrBackpressure is returned by transports whose send buffer is full.
var ErrBackpressure = errors.New("backpressure")

func IsBackpressure(err error) bool { return errors.Is(err, ErrBackpressure) }

// SendTo marshals v and queues it on conn, logging failures.
func SendTo(conn core.Connection, v any) {
	b, err := protocol.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("marshal")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "app").Str("conn", conn.ID()).Msg("send failed")
	}
}
