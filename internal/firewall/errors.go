package firewall

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start on a running firewall.
	ErrAlreadyRunning = errors.New("firewall already running")
	// ErrNotRunning is returned by Stop on a stopped firewall.
	ErrNotRunning = errors.New("firewall not running")
	// ErrNoSource is returned by Start when no capture source is configured.
	ErrNoSource = errors.New("no capture source configured")
)

// RuleError is a configuration defect in one rule. The rule stays in the
// set but never matches.
type RuleError struct {
	Rule  string `json:"rule"`
	Field string `json:"field"`
	Value string `json:"value"`
	Err   error  `json:"-"`
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q: invalid %s %q: %v", e.Rule, e.Field, e.Value, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }
