package config

import (
	"fmt"
	"time"

	"grimm.is/warden/internal/brand"
)

// CurrentSchemaVersion is written by GenerateHCL and assumed when absent.
const CurrentSchemaVersion = "1.0"

// Config is the top-level configuration.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty" yaml:"schema_version,omitempty"`

	General   *General   `hcl:"general,block" json:"general,omitempty" yaml:"general,omitempty"`
	Rules     []Rule     `hcl:"rule,block" json:"rules" yaml:"rules"`
	Blocklist *Blocklist `hcl:"blocklist,block" json:"blocklist,omitempty" yaml:"blocklist,omitempty"`
	Geo       *Geo       `hcl:"geo,block" json:"geo,omitempty" yaml:"geo,omitempty"`
	API       *API       `hcl:"api,block" json:"api,omitempty" yaml:"api,omitempty"`
	State     *State     `hcl:"state,block" json:"state,omitempty" yaml:"state,omitempty"`
}

// General holds capture, default policy and logging settings.
type General struct {
	// Interface to observe. Empty selects the default-route interface.
	Interface string `hcl:"interface,optional" json:"interface,omitempty" yaml:"interface,omitempty"`
	// Capture is "afpacket" or "nflog".
	Capture    string `hcl:"capture,optional" json:"capture,omitempty" yaml:"capture,omitempty"`
	NFLogGroup int    `hcl:"nflog_group,optional" json:"nflog_group,omitempty" yaml:"nflog_group,omitempty"`

	DefaultAction string `hcl:"default_action,optional" json:"default_action,omitempty" yaml:"default_action,omitempty"`

	LogLevel      string `hcl:"log_level,optional" json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFile       string `hcl:"log_file,optional" json:"log_file,omitempty" yaml:"log_file,omitempty"`
	LogMaxSizeMB  int    `hcl:"log_max_size_mb,optional" json:"log_max_size_mb,omitempty" yaml:"log_max_size_mb,omitempty"`
	LogMaxBackups int    `hcl:"log_max_backups,optional" json:"log_max_backups,omitempty" yaml:"log_max_backups,omitempty"`
	LogJSON       bool   `hcl:"log_json,optional" json:"log_json,omitempty" yaml:"log_json,omitempty"`
}

// Rule is one ordered policy entry.
type Rule struct {
	Name        string `hcl:"name,label" json:"name" yaml:"name"`
	Description string `hcl:"description,optional" json:"description,omitempty" yaml:"description,omitempty"`
	Action      string `hcl:"action" json:"action" yaml:"action"`
	Direction   string `hcl:"direction,optional" json:"direction,omitempty" yaml:"direction,omitempty"`
	Protocol    string `hcl:"protocol,optional" json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Src         string `hcl:"src,optional" json:"src,omitempty" yaml:"src,omitempty"`
	Dst         string `hcl:"dst,optional" json:"dst,omitempty" yaml:"dst,omitempty"`
	SrcPort     int    `hcl:"src_port,optional" json:"src_port,omitempty" yaml:"src_port,omitempty"`
	DstPort     int    `hcl:"dst_port,optional" json:"dst_port,omitempty" yaml:"dst_port,omitempty"`
	Disabled    bool   `hcl:"disabled,optional" json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Blocklist configures the dynamic blocker.
type Blocklist struct {
	Enabled   bool `hcl:"enabled,optional" json:"enabled" yaml:"enabled"`
	Threshold int  `hcl:"threshold,optional" json:"threshold,omitempty" yaml:"threshold,omitempty"`
	// BlockDuration applies to auto-blocks. Empty or "0" blocks permanently.
	BlockDuration   string   `hcl:"block_duration,optional" json:"block_duration,omitempty" yaml:"block_duration,omitempty"`
	Whitelist       []string `hcl:"whitelist,optional" json:"whitelist,omitempty" yaml:"whitelist,omitempty"`
	CleanupInterval string   `hcl:"cleanup_interval,optional" json:"cleanup_interval,omitempty" yaml:"cleanup_interval,omitempty"`
}

// Geo configures coarse country blocking.
type Geo struct {
	Enabled          bool     `hcl:"enabled,optional" json:"enabled" yaml:"enabled"`
	BlockedCountries []string `hcl:"blocked_countries,optional" json:"blocked_countries,omitempty" yaml:"blocked_countries,omitempty"`
	// ThreatProtection starts the blocked set from the CN/RU/IR baseline.
	ThreatProtection bool `hcl:"threat_protection,optional" json:"threat_protection,omitempty" yaml:"threat_protection,omitempty"`
}

// API configures the management HTTP API.
type API struct {
	Enabled bool   `hcl:"enabled,optional" json:"enabled" yaml:"enabled"`
	Listen  string `hcl:"listen,optional" json:"listen,omitempty" yaml:"listen,omitempty"`
	// TokenHash is a bcrypt hash of the bearer token. Empty disables auth.
	TokenHash string `hcl:"token_hash,optional" json:"token_hash,omitempty" yaml:"token_hash,omitempty"`
	// RateLimit is mutating requests per minute per client.
	RateLimit int `hcl:"rate_limit,optional" json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// State configures persistence of runtime state.
type State struct {
	Path             string `hcl:"path,optional" json:"path,omitempty" yaml:"path,omitempty"`
	SnapshotInterval string `hcl:"snapshot_interval,optional" json:"snapshot_interval,omitempty" yaml:"snapshot_interval,omitempty"`
}

// Default returns the stock configuration: outbound HTTP, HTTPS and DNS are
// allowed, everything else is blocked.
func Default() *Config {
	cfg := &Config{
		SchemaVersion: CurrentSchemaVersion,
		Rules: []Rule{
			{Name: "allow_http", Action: "allow", Direction: "outbound", Protocol: "tcp", DstPort: 80},
			{Name: "allow_https", Action: "allow", Direction: "outbound", Protocol: "tcp", DstPort: 443},
			{Name: "allow_dns", Action: "allow", Direction: "outbound", Protocol: "udp", DstPort: 53},
		},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills absent blocks and zero values with defaults.
func (c *Config) Normalize() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.General == nil {
		c.General = &General{}
	}
	g := c.General
	if g.Capture == "" {
		g.Capture = "afpacket"
	}
	if g.NFLogGroup == 0 {
		g.NFLogGroup = 100
	}
	if g.DefaultAction == "" {
		g.DefaultAction = "block"
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}

	if c.Blocklist == nil {
		c.Blocklist = &Blocklist{
			Enabled:       true,
			BlockDuration: "1h",
			Whitelist:     []string{"127.0.0.1", "::1"},
		}
	}
	if c.Blocklist.Threshold == 0 {
		c.Blocklist.Threshold = 5
	}
	if c.Blocklist.CleanupInterval == "" {
		c.Blocklist.CleanupInterval = "1m"
	}

	if c.Geo == nil {
		c.Geo = &Geo{}
	}
	if c.API == nil {
		c.API = &API{}
	}
	if c.API.Listen == "" {
		c.API.Listen = brand.Get().DefaultAPIListen
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = 30
	}
	if c.State != nil && c.State.SnapshotInterval == "" {
		c.State.SnapshotInterval = "5m"
	}
}

// ParseDuration parses a Go duration string. Empty and "0" are zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
