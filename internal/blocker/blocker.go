// Package blocker tracks offending addresses and escalates repeat offenders
// into temporary or permanent blocks.
//
// Each address is in one of three states:
//
//	Clean          no entry, no counter
//	Attempting(n)  1 <= n < threshold recorded attempts
//	Blocked        a block entry with a start time and optional duration
//
// An address never has a block entry and an attempt counter at the same
// time. Whitelisted addresses are never blocked.
package blocker

import (
	"errors"
	"net/netip"
	"slices"
	"sync"
	"time"

	"grimm.is/warden/internal/clock"
)

var (
	// ErrWhitelisted is returned when blocking an exempt address.
	ErrWhitelisted = errors.New("address is whitelisted")
	// ErrNotBlocked is returned when unblocking an address with no entry.
	ErrNotBlocked = errors.New("address is not blocked")
)

// Settings configure a Blocker.
type Settings struct {
	Enabled bool
	// Threshold is the number of attempts that triggers an auto-block.
	Threshold int
	// BlockDuration applies to auto-blocks. Zero blocks permanently.
	BlockDuration time.Duration
	Whitelist     []netip.Addr
}

// Entry is one blocked address.
type Entry struct {
	Addr  netip.Addr `json:"ip"`
	Start time.Time  `json:"start"`
	// Duration is zero for permanent blocks.
	Duration time.Duration `json:"duration,omitempty"`
	// Auto is set when the entry came from threshold escalation.
	Auto bool `json:"auto"`
}

// Permanent reports whether the entry never expires.
func (e Entry) Permanent() bool { return e.Duration <= 0 }

// ExpiresAt returns the expiry instant, or the zero time for permanent entries.
func (e Entry) ExpiresAt() time.Time {
	if e.Permanent() {
		return time.Time{}
	}
	return e.Start.Add(e.Duration)
}

// Expired reports whether now - start >= duration.
func (e Entry) Expired(now time.Time) bool {
	return !e.Permanent() && now.Sub(e.Start) >= e.Duration
}

// Blocker is the dynamic blocklist. All methods are safe for concurrent use;
// a single mutex guards the whole state and is never held across I/O.
type Blocker struct {
	mu        sync.Mutex
	enabled   bool
	threshold int
	duration  time.Duration
	whitelist map[netip.Addr]struct{}
	entries   map[netip.Addr]Entry
	attempts  map[netip.Addr]int
	clock     clock.Clock
}

// Option configures a Blocker.
type Option func(*Blocker)

// WithClock sets the time source used for block starts and expiry.
func WithClock(c clock.Clock) Option {
	return func(b *Blocker) { b.clock = clock.Or(c) }
}

// New creates a Blocker.
func New(s Settings, opts ...Option) *Blocker {
	b := &Blocker{
		entries:  make(map[netip.Addr]Entry),
		attempts: make(map[netip.Addr]int),
		clock:    clock.Real,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Configure(s)
	return b
}

// Configure replaces the settings. Existing entries and counters for
// addresses that become whitelisted are dropped.
func (b *Blocker) Configure(s Settings) {
	wl := make(map[netip.Addr]struct{}, len(s.Whitelist))
	for _, a := range s.Whitelist {
		wl[a.Unmap()] = struct{}{}
	}
	threshold := s.Threshold
	if threshold < 1 {
		threshold = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = s.Enabled
	b.threshold = threshold
	b.duration = s.BlockDuration
	b.whitelist = wl
	for a := range wl {
		delete(b.entries, a)
		delete(b.attempts, a)
	}
}

// Settings returns the active settings.
func (b *Blocker) Settings() Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	wl := make([]netip.Addr, 0, len(b.whitelist))
	for a := range b.whitelist {
		wl = append(wl, a)
	}
	slices.SortFunc(wl, netip.Addr.Compare)
	return Settings{
		Enabled:       b.enabled,
		Threshold:     b.threshold,
		BlockDuration: b.duration,
		Whitelist:     wl,
	}
}

// IsWhitelisted reports whether addr is exempt from all blocking.
func (b *Blocker) IsWhitelisted(addr netip.Addr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.whitelist[addr.Unmap()]
	return ok
}

// IsBlocked reports whether addr has an unexpired entry. It is false when the
// blocker is disabled or addr is whitelisted. Expired entries are left for
// CleanupExpired.
func (b *Blocker) IsBlocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return false
	}
	return b.blockedLocked(addr)
}

func (b *Blocker) blockedLocked(addr netip.Addr) bool {
	if _, ok := b.whitelist[addr]; ok {
		return false
	}
	e, ok := b.entries[addr]
	return ok && !e.Expired(b.clock.Now())
}

// RecordAttempt counts one blockable event for addr. When the count reaches
// the threshold the address is auto-blocked for the configured duration and
// the counter is cleared; the new entry is returned with true.
// Disabled blockers, whitelisted addresses and already blocked addresses
// are ignored.
func (b *Blocker) RecordAttempt(addr netip.Addr) (Entry, bool) {
	addr = addr.Unmap()
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled {
		return Entry{}, false
	}
	if _, ok := b.whitelist[addr]; ok {
		return Entry{}, false
	}
	if e, ok := b.entries[addr]; ok {
		if !e.Expired(b.clock.Now()) {
			return Entry{}, false
		}
		// Expired but not yet swept: the address is clean again.
		delete(b.entries, addr)
	}

	n := b.attempts[addr] + 1
	if n < b.threshold {
		b.attempts[addr] = n
		return Entry{}, false
	}

	delete(b.attempts, addr)
	e := Entry{Addr: addr, Start: b.clock.Now(), Duration: b.duration, Auto: true}
	b.entries[addr] = e
	return e, true
}

// BlockIP blocks addr for d, or permanently when d is zero. Any existing
// entry is replaced and any attempt counter discarded.
func (b *Blocker) BlockIP(addr netip.Addr, d time.Duration) (Entry, error) {
	addr = addr.Unmap()
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.whitelist[addr]; ok {
		return Entry{}, ErrWhitelisted
	}
	if d < 0 {
		d = 0
	}
	e := Entry{Addr: addr, Start: b.clock.Now(), Duration: d}
	b.entries[addr] = e
	delete(b.attempts, addr)
	return e, nil
}

// UnblockIP removes the entry for addr. The address restarts clean.
func (b *Blocker) UnblockIP(addr netip.Addr) error {
	addr = addr.Unmap()
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[addr]; !ok {
		return ErrNotBlocked
	}
	delete(b.entries, addr)
	delete(b.attempts, addr)
	return nil
}

// CleanupExpired removes expired entries and returns them. Permanent and
// unexpired entries are kept.
func (b *Blocker) CleanupExpired() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	var removed []Entry
	for addr, e := range b.entries {
		if e.Expired(now) {
			delete(b.entries, addr)
			removed = append(removed, e)
		}
	}
	sortEntries(removed)
	return removed
}

// Lookup returns the entry for addr, expired or not.
func (b *Blocker) Lookup(addr netip.Addr) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[addr.Unmap()]
	return e, ok
}

// Attempts returns the current attempt count for addr.
func (b *Blocker) Attempts(addr netip.Addr) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[addr.Unmap()]
}

// Entries returns a copy of all entries ordered by address.
func (b *Blocker) Entries() []Entry {
	b.mu.Lock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	b.mu.Unlock()

	sortEntries(out)
	return out
}

// Len returns the number of entries, expired or not.
func (b *Blocker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Restore loads previously saved entries. Expired and whitelisted entries
// are skipped. It returns the number restored.
func (b *Blocker) Restore(entries []Entry) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	n := 0
	for _, e := range entries {
		e.Addr = e.Addr.Unmap()
		if !e.Addr.IsValid() || e.Expired(now) {
			continue
		}
		if _, ok := b.whitelist[e.Addr]; ok {
			continue
		}
		b.entries[e.Addr] = e
		delete(b.attempts, e.Addr)
		n++
	}
	return n
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int { return a.Addr.Compare(b.Addr) })
}
