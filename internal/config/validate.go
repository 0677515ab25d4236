package config

import (
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"grimm.is/warden/internal/geo"
	"grimm.is/warden/internal/validation"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents a configuration validation problem.
type ValidationError struct {
	Field    string
	Message  string
	Severity string // "error" (default), "warning"
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsWarning reports whether the problem does not block loading.
func (e ValidationError) IsWarning() bool {
	return e.Severity == SeverityWarning
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any entry is not a warning.
func (e ValidationErrors) HasErrors() bool {
	for _, v := range e {
		if !v.IsWarning() {
			return true
		}
	}
	return false
}

// Warnings returns only the warning entries.
func (e ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for _, v := range e {
		if v.IsWarning() {
			out = append(out, v)
		}
	}
	return out
}

var (
	validActions    = []string{"allow", "accept", "block", "drop", "deny", "reject", "log"}
	validDirections = []string{"", "any", "both", "inbound", "in", "outbound", "out"}
	validProtocols  = []string{"", "any", "all", "tcp", "udp", "icmp", "icmpv6"}
)

func oneOf(v string, set []string) bool {
	v = strings.ToLower(v)
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Validate checks the whole configuration. Unparseable rule addresses are
// warnings because such rules load and simply never match.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, sev, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Severity: sev})
	}

	if g := c.General; g != nil {
		if !oneOf(g.DefaultAction, validActions) {
			add("general.default_action", SeverityError, "unknown action %q", g.DefaultAction)
		}
		if g.Interface != "" {
			if err := validation.ValidateInterfaceName(g.Interface); err != nil {
				add("general.interface", SeverityError, "%v", err)
			}
		}
		switch g.Capture {
		case "", "afpacket", "nflog":
		default:
			add("general.capture", SeverityError, "unknown capture backend %q (want afpacket or nflog)", g.Capture)
		}
		if g.NFLogGroup < 0 || g.NFLogGroup > 65535 {
			add("general.nflog_group", SeverityError, "group %d out of range", g.NFLogGroup)
		}
		switch strings.ToLower(g.LogLevel) {
		case "", "debug", "info", "warn", "warning", "error":
		default:
			add("general.log_level", SeverityError, "unknown level %q", g.LogLevel)
		}
	}

	seen := make(map[string]int)
	for i, r := range c.Rules {
		field := fmt.Sprintf("rule[%d]", i)
		if r.Name != "" {
			field = fmt.Sprintf("rule.%s", r.Name)
			if prev, dup := seen[r.Name]; dup {
				add(field, SeverityWarning, "duplicate rule name (first at index %d)", prev)
			} else {
				seen[r.Name] = i
			}
			if err := validation.ValidateIdentifier(r.Name); err != nil {
				add(field+".name", SeverityWarning, "%v", err)
			}
		}
		if !oneOf(r.Action, validActions) {
			add(field+".action", SeverityError, "unknown action %q", r.Action)
		}
		if !oneOf(r.Direction, validDirections) {
			add(field+".direction", SeverityError, "unknown direction %q", r.Direction)
		}
		if !oneOf(r.Protocol, validProtocols) {
			add(field+".protocol", SeverityError, "unknown protocol %q", r.Protocol)
		}
		checkPort := func(name string, p int) {
			if p < 0 || p > 65535 {
				add(field+"."+name, SeverityError, "port %d out of range", p)
			}
		}
		checkPort("src_port", r.SrcPort)
		checkPort("dst_port", r.DstPort)
		checkAddr := func(name, spec string) {
			if spec != "" && !validAddrSpec(spec) {
				add(field+"."+name, SeverityWarning, "%q is not an address or CIDR; rule will never match", spec)
			}
		}
		checkAddr("src", r.Src)
		checkAddr("dst", r.Dst)
	}

	if b := c.Blocklist; b != nil {
		if b.Threshold < 0 {
			add("blocklist.threshold", SeverityError, "threshold must be positive")
		}
		if _, err := ParseDuration(b.BlockDuration); err != nil {
			add("blocklist.block_duration", SeverityError, "%v", err)
		}
		if d, err := ParseDuration(b.CleanupInterval); err != nil {
			add("blocklist.cleanup_interval", SeverityError, "%v", err)
		} else if b.CleanupInterval != "" && d == 0 {
			add("blocklist.cleanup_interval", SeverityError, "interval must be non-zero")
		}
		for i, w := range b.Whitelist {
			if _, err := netip.ParseAddr(w); err != nil {
				add(fmt.Sprintf("blocklist.whitelist[%d]", i), SeverityError, "invalid address %q", w)
			}
		}
	}

	if g := c.Geo; g != nil {
		for i, cc := range g.BlockedCountries {
			if geo.Known(geo.Normalize(cc)) {
				continue
			}
			if err := validation.ValidateCountryCode(cc); err != nil {
				add(fmt.Sprintf("geo.blocked_countries[%d]", i), SeverityWarning, "%v", err)
			}
		}
	}

	if a := c.API; a != nil && a.Enabled {
		if _, err := netip.ParseAddrPort(a.Listen); err != nil && !strings.HasPrefix(a.Listen, ":") {
			add("api.listen", SeverityError, "invalid listen address %q", a.Listen)
		}
		if a.TokenHash == "" {
			add("api.token_hash", SeverityWarning, "API is enabled without authentication")
		} else if _, err := bcrypt.Cost([]byte(a.TokenHash)); err != nil {
			add("api.token_hash", SeverityError, "not a bcrypt hash: %v", err)
		}
		if a.RateLimit < 0 {
			add("api.rate_limit", SeverityError, "rate limit must be positive")
		}
	}

	if s := c.State; s != nil {
		if s.Path == "" {
			add("state.path", SeverityError, "path is required")
		}
		if _, err := ParseDuration(s.SnapshotInterval); err != nil {
			add("state.snapshot_interval", SeverityError, "%v", err)
		}
	}

	return errs
}

func validAddrSpec(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
