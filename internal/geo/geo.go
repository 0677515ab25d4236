// Package geo implements coarse, table-driven country blocking.
package geo

import (
	"net/netip"
	"slices"
	"strings"
	"sync"
)

// ThreatBaseline is the blocked set installed by EnableThreatProtection.
var ThreatBaseline = []string{"CN", "RU", "IR"}

// Blocker holds the geo policy: an enabled flag and a set of blocked tags.
// All methods are safe for concurrent use.
type Blocker struct {
	mu      sync.Mutex
	enabled bool
	blocked []string
}

// New creates a geo Blocker. Codes are upper-cased and de-duplicated.
func New(enabled bool, countries []string) *Blocker {
	g := &Blocker{enabled: enabled}
	for _, c := range countries {
		g.addLocked(c)
	}
	return g
}

// Normalize upper-cases and trims a country code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ShouldBlock reports whether addr classifies into a blocked tag, and the tag.
// It is always false when the layer is disabled.
func (g *Blocker) ShouldBlock(addr netip.Addr) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return false, ""
	}
	tag := Classify(addr)
	return slices.Contains(g.blocked, tag), tag
}

// BlockCountry adds code to the blocked set. It reports whether the set changed.
func (g *Blocker) BlockCountry(code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(code)
}

func (g *Blocker) addLocked(code string) bool {
	code = Normalize(code)
	if code == "" || slices.Contains(g.blocked, code) {
		return false
	}
	g.blocked = append(g.blocked, code)
	return true
}

// UnblockCountry removes code from the blocked set. It reports whether the set changed.
func (g *Blocker) UnblockCountry(code string) bool {
	code = Normalize(code)
	g.mu.Lock()
	defer g.mu.Unlock()
	i := slices.Index(g.blocked, code)
	if i < 0 {
		return false
	}
	g.blocked = slices.Delete(g.blocked, i, i+1)
	return true
}

// EnableThreatProtection replaces the blocked set with ThreatBaseline.
// It does not change the enabled flag.
func (g *Blocker) EnableThreatProtection() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked = slices.Clone(ThreatBaseline)
}

// Configure replaces both the enabled flag and the blocked set.
func (g *Blocker) Configure(enabled bool, countries []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
	g.blocked = nil
	for _, c := range countries {
		g.addLocked(c)
	}
}

// Enabled reports whether the layer is active.
func (g *Blocker) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// SetEnabled turns the layer on or off.
func (g *Blocker) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

// Countries returns the blocked tags in insertion order.
func (g *Blocker) Countries() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.blocked)
}
