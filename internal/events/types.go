// Package events provides an in-process pub/sub bus for firewall activity.
// Decisions, blocklist changes and policy changes flow through the hub to
// the management API's websocket stream.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	EventAllow EventType = "decision.allow"
	EventBlock EventType = "decision.block"
	EventLog   EventType = "decision.log"

	EventBlocklistAdded   EventType = "blocklist.added"
	EventBlocklistRemoved EventType = "blocklist.removed"

	EventGeoChanged    EventType = "geo.changed"
	EventRulesReloaded EventType = "rules.reloaded"
	EventLifecycle     EventType = "firewall.lifecycle"
)

// Event is the message passed through the bus.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
}

// DecisionData is the payload of decision events.
type DecisionData struct {
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	Protocol  string `json:"protocol"`
	Direction string `json:"direction"`
	Size      int    `json:"size"`
	Reason    string `json:"reason,omitempty"`
}

// BlocklistData is the payload of blocklist events.
type BlocklistData struct {
	IP        string     `json:"ip"`
	Auto      bool       `json:"auto,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// GeoData is the payload of EventGeoChanged.
type GeoData struct {
	Enabled   bool     `json:"enabled"`
	Countries []string `json:"countries"`
}

// RulesData is the payload of EventRulesReloaded.
type RulesData struct {
	Generation uint64 `json:"generation"`
	Rules      int    `json:"rules"`
	Defects    int    `json:"defects"`
}

// LifecycleData is the payload of EventLifecycle.
type LifecycleData struct {
	Running bool   `json:"running"`
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
}
