package app

import (
	"fmt"

	"github.com/Jincoo/youtube-music-remote/internal/domain"
)

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickConnection
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(key domain.SessionKey) BackpressureAction
}

type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.SessionKey) BackpressureAction { return DropFrame }

type KickPolicy struct{}

func (KickPolicy) OnBackPressure(domain.SessionKey) BackpressureAction { return KickConnection }

// PolicyByName maps the backpressure config value to a policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
