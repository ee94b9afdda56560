package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrBadCommand = errors.New("bad command")

type CommandName string

const (
	CommandPlayPause CommandName = "play_pause"
	CommandNext      CommandName = "next"
	CommandPrevious  CommandName = "previous"
	CommandVolume    CommandName = "volume"
	CommandSeek      CommandName = "seek"
)

func (n CommandName) Known() bool {
	switch n {
	case CommandPlayPause, CommandNext, CommandPrevious, CommandVolume, CommandSeek:
		return true
	}
	return false
}

// Command is what the mobile remote asks the pc player to do.
// The relay forwards commands verbatim; this type is for building and logging them.
type Command struct {
	Type     CommandName `json:"type"`
	Value    *int        `json:"value,omitempty"`
	Position *float64    `json:"position,omitempty"`
}

// NewCommand builds a command from a name and an optional textual argument.
func NewCommand(name, arg string) (Command, error) {
	cmd := Command{Type: CommandName(name)}
	switch cmd.Type {
	case CommandPlayPause, CommandNext, CommandPrevious:
		return cmd, nil
	case CommandVolume:
		v, err := strconv.Atoi(arg)
		if err != nil {
			return Command{}, fmt.Errorf("%w: volume needs an integer: %v", ErrBadCommand, err)
		}
		v = min(max(v, 0), 100)
		cmd.Value = &v
		return cmd, nil
	case CommandSeek:
		p, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: seek needs a position in seconds: %v", ErrBadCommand, err)
		}
		p = max(p, 0)
		cmd.Position = &p
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrBadCommand, name)
	}
}
