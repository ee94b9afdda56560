// Package domain contains the session model shared by the relay and its
// endpoints. No transport or lifecycle logic here.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

const MaxSessionIDLen = 64

var (
	ErrInvalidRegistration = errors.New("invalid registration")

	ErrSessionIDEmpty   = fmt.Errorf("%w: sessionId is required", ErrInvalidRegistration)
	ErrSessionIDTooLong = fmt.Errorf("%w: sessionId too long", ErrInvalidRegistration)
	ErrUnknownRole      = fmt.Errorf("%w: deviceType must be pc or mobile", ErrInvalidRegistration)
)

type SessionID string

// Role is the endpoint kind inside a session. The wire name is deviceType.
type Role string

const (
	RolePC     Role = "pc"
	RoleMobile Role = "mobile"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.TrimSpace(s)); r {
	case RolePC, RoleMobile:
		return r, nil
	case "":
		return "", fmt.Errorf("%w: deviceType is required", ErrInvalidRegistration)
	default:
		return "", ErrUnknownRole
	}
}

func (r Role) Valid() bool { return r == RolePC || r == RoleMobile }

// Peer returns the counterpart role.
func (r Role) Peer() Role {
	if r == RolePC {
		return RoleMobile
	}
	return RolePC
}

// SessionKey identifies one live connection slot.
type SessionKey struct {
	SessionID SessionID
	Role      Role
}

// NewSessionKey validates raw register fields.
func NewSessionKey(sessionID, deviceType string) (SessionKey, error) {
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return SessionKey{}, ErrSessionIDEmpty
	}
	if len(sid) > MaxSessionIDLen {
		return SessionKey{}, ErrSessionIDTooLong
	}
	role, err := ParseRole(deviceType)
	if err != nil {
		return SessionKey{}, err
	}
	return SessionKey{SessionID: SessionID(sid), Role: role}, nil
}

func (k SessionKey) Valid() bool {
	return k.SessionID != "" && len(k.SessionID) <= MaxSessionIDLen && k.Role.Valid()
}

func (k SessionKey) Peer() SessionKey {
	return SessionKey{SessionID: k.SessionID, Role: k.Role.Peer()}
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s", k.SessionID, k.Role)
}

// SessionInfo is a read-only view of one registry entry for listings.
type SessionInfo struct {
	SessionID    SessionID       `json:"sessionId"`
	DeviceType   Role            `json:"deviceType"`
	Environment  string          `json:"environment,omitempty"`
	Connected    bool            `json:"connected"`
	LastActivity int64           `json:"lastActivity"`
	Status       *StatusSnapshot `json:"status,omitempty"`
}
