package api

import (
	"time"

	"grimm.is/warden/internal/blocker"
	"grimm.is/warden/internal/firewall"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// BlockRequest is the body of POST /api/blocklist. An empty duration or
// "0" blocks permanently.
type BlockRequest struct {
	IP       string `json:"ip"`
	Duration string `json:"duration,omitempty"`
}

// BlocklistEntry is one entry as returned by the API.
type BlocklistEntry struct {
	IP        string     `json:"ip"`
	Start     time.Time  `json:"start"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Permanent bool       `json:"permanent"`
	Auto      bool       `json:"auto"`
}

func entryFrom(e blocker.Entry) BlocklistEntry {
	out := BlocklistEntry{
		IP:        e.Addr.String(),
		Start:     e.Start,
		Permanent: e.Permanent(),
		Auto:      e.Auto,
	}
	if !e.Permanent() {
		t := e.ExpiresAt()
		out.ExpiresAt = &t
	}
	return out
}

// RulesResponse is the body of GET /api/rules.
type RulesResponse struct {
	DefaultAction firewall.Action       `json:"default_action"`
	Generation    uint64                `json:"generation"`
	Rules         []firewall.Rule       `json:"rules"`
	Defects       []*firewall.RuleError `json:"defects,omitempty"`
}

// CountryRequest is the body of POST /api/geo/countries.
type CountryRequest struct {
	Code string `json:"code"`
}

// GeoEnabledRequest is the body of POST /api/geo/enabled.
type GeoEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// GeoResponse describes the geo layer.
type GeoResponse struct {
	Enabled   bool     `json:"enabled"`
	Countries []string `json:"countries"`
	Changed   *bool    `json:"changed,omitempty"`
}
