// Package client is the endpoint side of the relay protocol, used by
// remotectl and by tests.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/domain"
	"github.com/Jincoo/youtube-music-remote/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrGaveUp   = errors.New("relay unreachable, giving up")
	ErrRejected = errors.New("registration rejected")
)

type Options struct {
	URL         string
	SessionID   string
	Role        domain.Role
	Environment string
	// MaxAttempts bounds consecutive reconnects; Backoff is multiplied by the
	// attempt number.
	MaxAttempts int
	Backoff     time.Duration
	Dialer      *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = 3 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// Relay is a registered connection to the relay server.
type Relay struct {
	opts Options

	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial connects and registers.
func Dial(ctx context.Context, opts Options) (*Relay, error) {
	r := &Relay{opts: opts.withDefaults()}
	if err := r.connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Relay) connect(ctx context.Context) error {
	conn, _, err := r.opts.Dialer.DialContext(ctx, r.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.opts.URL, err)
	}
	reg := protocol.Register{
		Type:        protocol.TypeRegister,
		SessionID:   r.opts.SessionID,
		DeviceType:  string(r.opts.Role),
		Environment: r.opts.Environment,
	}
	if err := conn.WriteJSON(reg); err != nil {
		_ = conn.Close()
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("waiting for registration: %w", err)
		}
		mt, _ := protocol.Decode(data)
		switch mt {
		case protocol.TypeRegistered:
			_ = conn.SetReadDeadline(time.Time{})
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			log.Info().Str("module", "client").Str("sid", r.opts.SessionID).Str("role", string(r.opts.Role)).Msg("registered")
			return nil
		case protocol.TypeError:
			var e protocol.Error
			_ = json.Unmarshal(data, &e)
			_ = conn.Close()
			return fmt.Errorf("%w: %s", ErrRejected, e.Message)
		}
	}
}

func (r *Relay) write(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return errors.New("relay not connected")
	}
	return r.conn.WriteJSON(v)
}

func (r *Relay) SendCommand(cmd domain.Command) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return r.write(protocol.ControlCommand{
		Type:      protocol.TypeControlCommand,
		SessionID: r.opts.SessionID,
		Command:   raw,
	})
}

func (r *Relay) SendStatus(status domain.StatusSnapshot) error {
	return r.write(protocol.StatusUpdate{
		Type:           protocol.TypeStatusUpdate,
		SessionID:      domain.SessionID(r.opts.SessionID),
		StatusSnapshot: status,
	})
}

// Run reads frames into handle until ctx ends. Server heartbeats are
// answered so the registration stays fresh. A dropped connection is
// redialed with linear backoff; after MaxAttempts failures in a row it
// returns ErrGaveUp.
func (r *Relay) Run(ctx context.Context, handle func([]byte)) error {
	for {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err := readAll(conn, func(data []byte) {
			r.answerHeartbeat(data)
			handle(data)
		})
		stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("module", "client").Msg("relay connection lost")

		if err := r.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (r *Relay) answerHeartbeat(data []byte) {
	if mt, err := protocol.Decode(data); err != nil || mt != protocol.TypeHeartbeat {
		return
	}
	if err := r.write(protocol.Heartbeat{Type: protocol.TypeHeartbeat, Timestamp: time.Now().UnixMilli()}); err != nil {
		log.Debug().Err(err).Str("module", "client").Msg("heartbeat reply")
	}
}

func readAll(conn *websocket.Conn, handle func([]byte)) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(data)
	}
}

func (r *Relay) reconnect(ctx context.Context) error {
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		wait := time.Duration(attempt) * r.opts.Backoff
		log.Info().Str("module", "client").Int("attempt", attempt).Dur("wait", wait).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		err := r.connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		log.Warn().Err(err).Str("module", "client").Int("attempt", attempt).Msg("reconnect failed")
	}
	return ErrGaveUp
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return r.conn.Close()
}

// SendOnce delivers a single command to sessionID without registering, so
// the session's own remote keeps its slot.
func SendOnce(ctx context.Context, url, sessionID string, cmd domain.Command) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	raw, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(protocol.ControlCommand{
		Type:      protocol.TypeControlCommand,
		SessionID: sessionID,
		Command:   raw,
	}); err != nil {
		return err
	}
	return conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
