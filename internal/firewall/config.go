package firewall

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"grimm.is/warden/internal/blocker"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/geo"
	"grimm.is/warden/internal/traffic"
)

// Settings is the policy portion of the configuration in evaluated form.
type Settings struct {
	Rules         []Rule
	DefaultAction Action
	Blocklist     blocker.Settings

	GeoEnabled       bool
	BlockedCountries []string

	CleanupInterval  time.Duration
	SnapshotInterval time.Duration
}

// DefaultSettings mirrors config.Default.
func DefaultSettings() Settings {
	s, err := SettingsFromConfig(config.Default())
	if err != nil {
		panic("default config does not convert: " + err.Error())
	}
	return s
}

// SettingsFromConfig converts a loaded configuration. Unknown enum values
// are errors; unparseable rule addresses are not, since such rules are
// installed as never-matching.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	cfg.Normalize()
	var (
		s    Settings
		errs []error
		err  error
	)

	if s.DefaultAction, err = ParseAction(cfg.General.DefaultAction); err != nil {
		errs = append(errs, fmt.Errorf("general.default_action: %w", err))
	}

	for i, cr := range cfg.Rules {
		r, err := ruleFromConfig(cr)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", i, cr.Name, err))
			continue
		}
		s.Rules = append(s.Rules, r)
	}

	bl := cfg.Blocklist
	s.Blocklist.Enabled = bl.Enabled
	s.Blocklist.Threshold = bl.Threshold
	if s.Blocklist.BlockDuration, err = config.ParseDuration(bl.BlockDuration); err != nil {
		errs = append(errs, fmt.Errorf("blocklist.block_duration: %w", err))
	}
	for _, w := range bl.Whitelist {
		a, err := netip.ParseAddr(w)
		if err != nil {
			errs = append(errs, fmt.Errorf("blocklist.whitelist: %w", err))
			continue
		}
		s.Blocklist.Whitelist = append(s.Blocklist.Whitelist, a.Unmap())
	}
	if s.CleanupInterval, err = config.ParseDuration(bl.CleanupInterval); err != nil {
		errs = append(errs, fmt.Errorf("blocklist.cleanup_interval: %w", err))
	}
	if s.CleanupInterval <= 0 {
		s.CleanupInterval = time.Minute
	}

	s.GeoEnabled = cfg.Geo.Enabled
	if cfg.Geo.ThreatProtection {
		s.BlockedCountries = append(s.BlockedCountries, geo.ThreatBaseline...)
	}
	s.BlockedCountries = append(s.BlockedCountries, cfg.Geo.BlockedCountries...)

	if cfg.State != nil {
		if s.SnapshotInterval, err = config.ParseDuration(cfg.State.SnapshotInterval); err != nil {
			errs = append(errs, fmt.Errorf("state.snapshot_interval: %w", err))
		}
	}

	return s, errors.Join(errs...)
}

func ruleFromConfig(cr config.Rule) (Rule, error) {
	r := Rule{
		Name:    cr.Name,
		Src:     cr.Src,
		Dst:     cr.Dst,
		Enabled: !cr.Disabled,
	}
	var err error
	if r.Action, err = ParseAction(cr.Action); err != nil {
		return r, err
	}
	if r.Direction, err = traffic.ParseDirection(cr.Direction); err != nil {
		return r, err
	}
	if r.Protocol, err = traffic.ParseProtocol(cr.Protocol); err != nil {
		return r, err
	}
	if r.SrcPort, err = portFromConfig(cr.SrcPort); err != nil {
		return r, fmt.Errorf("src_port: %w", err)
	}
	if r.DstPort, err = portFromConfig(cr.DstPort); err != nil {
		return r, fmt.Errorf("dst_port: %w", err)
	}
	return r, nil
}

// portFromConfig maps 0 to "no port constraint".
func portFromConfig(p int) (traffic.Port, error) {
	switch {
	case p == 0:
		return traffic.NoPort, nil
	case p < 0 || p > 65535:
		return traffic.NoPort, fmt.Errorf("port %d out of range", p)
	}
	return traffic.PortOf(uint16(p)), nil
}
