// Package protocol defines the relay wire catalog. Every message is a JSON
// object with a "type" field; payload fields sit next to it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Jincoo/youtube-music-remote/internal/domain"
)

var ErrMalformed = errors.New("malformed message")

type MessageType string

const (
	TypeRegister       MessageType = "register"
	TypeRegistered     MessageType = "registered"
	TypeControlCommand MessageType = "control_command"
	TypeRemoteCommand  MessageType = "remote_command"
	TypeStatusUpdate   MessageType = "status_update"
	TypeDeviceConn     MessageType = "device_connected"
	TypeDeviceDisconn  MessageType = "device_disconnected"
	TypeGetSessions    MessageType = "get_sessions"
	TypeSessionList    MessageType = "session_list"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
	TypeHeartbeat      MessageType = "heartbeat"
	TypeError          MessageType = "error"
)

// InboundTypes are the messages an endpoint may send to the relay.
var InboundTypes = []MessageType{
	TypeRegister,
	TypeControlCommand,
	TypeStatusUpdate,
	TypeGetSessions,
	TypePing,
	TypeHeartbeat,
}

type Envelope struct {
	Type MessageType `json:"type"`
}

// Decode reads the envelope of a raw frame.
func Decode(data []byte) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env.Type, nil
}

type Register struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"sessionId"`
	DeviceType  string      `json:"deviceType"`
	Environment string      `json:"environment,omitempty"`
}

type Registered struct {
	Type       MessageType      `json:"type"`
	SessionID  domain.SessionID `json:"sessionId"`
	DeviceType domain.Role      `json:"deviceType"`
}

type ControlCommand struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	Command   json.RawMessage `json:"command"`
}

// RemoteCommand carries the sender's command object byte for byte.
type RemoteCommand struct {
	Type    MessageType     `json:"type"`
	Command json.RawMessage `json:"command"`
}

type StatusUpdate struct {
	Type      MessageType      `json:"type"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	domain.StatusSnapshot
}

// UnmarshalJSON is needed because the embedded snapshot has its own decoder,
// which would otherwise swallow the whole object.
func (s *StatusUpdate) UnmarshalJSON(data []byte) error {
	var head struct {
		Type      MessageType      `json:"type"`
		SessionID domain.SessionID `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	var snap domain.StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.Type, s.SessionID, s.StatusSnapshot = head.Type, head.SessionID, snap
	return nil
}

type DeviceEvent struct {
	Type       MessageType `json:"type"`
	DeviceType domain.Role `json:"deviceType"`
}

type SessionList struct {
	Type     MessageType          `json:"type"`
	Sessions []domain.SessionInfo `json:"sessions"`
}

type Heartbeat struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Server    string      `json:"server,omitempty"`
}

type Pong struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewError(err error) Error {
	return Error{Type: TypeError, Message: err.Error()}
}

// Marshal encodes an outbound message.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
