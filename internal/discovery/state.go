package discovery

import "fmt"

type Role int

const (
	RoleHost Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "client"
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "host":
		return RoleHost, nil
	case "client":
		return RoleClient, nil
	}
	return 0, fmt.Errorf("unknown discovery role %q", s)
}

type State int

const (
	StateIdle State = iota
	StateAnnouncing
	StateScanning
	StateOffered
	StateAnswered
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAnnouncing:
		return "announcing"
	case StateScanning:
		return "scanning"
	case StateOffered:
		return "offered"
	case StateAnswered:
		return "answered"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// searchState is where a role waits for a counterpart.
func (r Role) searchState() State {
	if r == RoleHost {
		return StateAnnouncing
	}
	return StateScanning
}

// presence is what a role broadcasts while not connected.
func (r Role) presence() MessageType {
	if r == RoleHost {
		return TypeHostAnnouncement
	}
	return TypeDiscoveryRequest
}
