package firewall

import (
	"fmt"
	"strings"
)

// Action is what a rule asks for.
type Action uint8

const (
	Allow Action = iota
	Block
	Log
)

// Decision is the outcome of a full evaluation.
type Decision = Action

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Block:
		return "block"
	case Log:
		return "log"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// ParseAction accepts allow, block or log. accept, drop, deny and reject are
// accepted as aliases.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "accept":
		return Allow, nil
	case "block", "drop", "deny", "reject":
		return Block, nil
	case "log":
		return Log, nil
	}
	return Allow, fmt.Errorf("unknown action %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
