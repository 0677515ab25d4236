package blocker

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/clock"
)

var (
	attacker = netip.MustParseAddr("203.0.113.50")
	trusted  = netip.MustParseAddr("192.0.2.1")
)

func newTestBlocker(threshold int, d time.Duration) (*Blocker, *clock.MockClock) {
	mc := clock.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	b := New(Settings{
		Enabled:       true,
		Threshold:     threshold,
		BlockDuration: d,
		Whitelist:     []netip.Addr{trusted},
	}, WithClock(mc))
	return b, mc
}

func TestRecordAttemptEscalates(t *testing.T) {
	b, _ := newTestBlocker(3, time.Hour)

	for i := 1; i < 3; i++ {
		_, blocked := b.RecordAttempt(attacker)
		assert.False(t, blocked, "attempt %d should not block", i)
		assert.False(t, b.IsBlocked(attacker))
		assert.Equal(t, i, b.Attempts(attacker))
	}

	e, blocked := b.RecordAttempt(attacker)
	require.True(t, blocked)
	assert.True(t, e.Auto)
	assert.Equal(t, time.Hour, e.Duration)
	assert.True(t, b.IsBlocked(attacker))
	assert.Equal(t, 0, b.Attempts(attacker), "counter is consumed by the block")
}

func TestRecordAttemptIgnoredWhenBlocked(t *testing.T) {
	b, mc := newTestBlocker(1, time.Hour)

	first, blocked := b.RecordAttempt(attacker)
	require.True(t, blocked)

	mc.Advance(30 * time.Minute)
	_, blocked = b.RecordAttempt(attacker)
	assert.False(t, blocked)
	assert.Equal(t, 0, b.Attempts(attacker))

	e, ok := b.Lookup(attacker)
	require.True(t, ok)
	assert.Equal(t, first.Start, e.Start, "repeat attempts do not extend the block")
}

func TestRecordAttemptAfterExpiry(t *testing.T) {
	b, mc := newTestBlocker(2, time.Minute)

	b.RecordAttempt(attacker)
	_, blocked := b.RecordAttempt(attacker)
	require.True(t, blocked)

	mc.Advance(time.Minute)
	assert.False(t, b.IsBlocked(attacker))

	_, blocked = b.RecordAttempt(attacker)
	assert.False(t, blocked)
	assert.Equal(t, 1, b.Attempts(attacker))
	_, ok := b.Lookup(attacker)
	assert.False(t, ok, "expired entry is replaced by a counter, never both")
}

func TestWhitelistDominates(t *testing.T) {
	b, _ := newTestBlocker(1, 0)

	for i := 0; i < 5; i++ {
		_, blocked := b.RecordAttempt(trusted)
		assert.False(t, blocked)
	}
	assert.False(t, b.IsBlocked(trusted))
	assert.Equal(t, 0, b.Attempts(trusted))

	_, err := b.BlockIP(trusted, 0)
	assert.ErrorIs(t, err, ErrWhitelisted)
	assert.True(t, b.IsWhitelisted(trusted))
}

func TestWhitelistMappedAddress(t *testing.T) {
	b, _ := newTestBlocker(1, 0)
	mapped := netip.AddrFrom16(trusted.As16())

	_, err := b.BlockIP(mapped, 0)
	assert.ErrorIs(t, err, ErrWhitelisted)
}

func TestDisabled(t *testing.T) {
	b, _ := newTestBlocker(1, 0)
	b.Configure(Settings{Enabled: false, Threshold: 1})

	_, blocked := b.RecordAttempt(attacker)
	assert.False(t, blocked)
	assert.Equal(t, 0, b.Attempts(attacker))

	_, err := b.BlockIP(attacker, 0)
	require.NoError(t, err)
	assert.False(t, b.IsBlocked(attacker), "disabled blocker reports nothing blocked")
	assert.Equal(t, 1, b.Len())
}

func TestManualBlockOverridesAttempts(t *testing.T) {
	b, _ := newTestBlocker(5, time.Hour)

	b.RecordAttempt(attacker)
	b.RecordAttempt(attacker)
	require.Equal(t, 2, b.Attempts(attacker))

	e, err := b.BlockIP(attacker, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, e.Auto)
	assert.Equal(t, 0, b.Attempts(attacker))
	assert.True(t, b.IsBlocked(attacker))

	e, err = b.BlockIP(attacker, 0)
	require.NoError(t, err)
	assert.True(t, e.Permanent(), "second manual block overwrites the first")
}

func TestUnblock(t *testing.T) {
	b, _ := newTestBlocker(3, time.Hour)

	assert.ErrorIs(t, b.UnblockIP(attacker), ErrNotBlocked)

	_, err := b.BlockIP(attacker, 0)
	require.NoError(t, err)
	require.NoError(t, b.UnblockIP(attacker))
	assert.False(t, b.IsBlocked(attacker))
	assert.Equal(t, 0, b.Attempts(attacker))

	// Restarts clean: a full threshold is needed again.
	b.RecordAttempt(attacker)
	b.RecordAttempt(attacker)
	assert.False(t, b.IsBlocked(attacker))
}

func TestCleanupExpired(t *testing.T) {
	b, mc := newTestBlocker(3, time.Hour)
	permanent := netip.MustParseAddr("198.51.100.1")
	short := netip.MustParseAddr("198.51.100.2")
	long := netip.MustParseAddr("198.51.100.3")

	_, _ = b.BlockIP(permanent, 0)
	_, _ = b.BlockIP(short, time.Minute)
	_, _ = b.BlockIP(long, 24*time.Hour)

	mc.Advance(time.Minute)
	assert.False(t, b.IsBlocked(short), "elapsed == duration counts as expired")
	assert.Equal(t, 3, b.Len(), "IsBlocked has no side effect")

	removed := b.CleanupExpired()
	require.Len(t, removed, 1)
	assert.Equal(t, short, removed[0].Addr)

	mc.Advance(365 * 24 * time.Hour)
	removed = b.CleanupExpired()
	require.Len(t, removed, 1)
	assert.Equal(t, long, removed[0].Addr)

	assert.True(t, b.IsBlocked(permanent), "permanent blocks never expire")
	assert.Equal(t, []Entry{{Addr: permanent, Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}}, b.Entries())
}

func TestConfigurePurgesNewlyWhitelisted(t *testing.T) {
	b, _ := newTestBlocker(3, time.Hour)
	other := netip.MustParseAddr("198.51.100.9")

	_, _ = b.BlockIP(attacker, 0)
	b.RecordAttempt(other)

	b.Configure(Settings{Enabled: true, Threshold: 3, Whitelist: []netip.Addr{attacker, other}})
	_, ok := b.Lookup(attacker)
	assert.False(t, ok)
	assert.Equal(t, 0, b.Attempts(other))
	assert.Len(t, b.Settings().Whitelist, 2)
}

func TestRestore(t *testing.T) {
	b, mc := newTestBlocker(3, time.Hour)
	now := mc.Now()

	n := b.Restore([]Entry{
		{Addr: attacker, Start: now.Add(-time.Minute), Duration: time.Hour},
		{Addr: netip.MustParseAddr("198.51.100.1"), Start: now.Add(-2 * time.Hour), Duration: time.Hour},
		{Addr: trusted, Start: now},
		{Addr: netip.MustParseAddr("2001:db8::1"), Start: now.Add(-48 * time.Hour)},
	})

	assert.Equal(t, 2, n)
	assert.True(t, b.IsBlocked(attacker))
	assert.True(t, b.IsBlocked(netip.MustParseAddr("2001:db8::1")))
	assert.False(t, b.IsBlocked(trusted))
}

func TestConcurrentAccess(t *testing.T) {
	b, _ := newTestBlocker(1000, time.Hour)
	done := make(chan struct{})

	for w := 0; w < 4; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 250; i++ {
				b.RecordAttempt(attacker)
				b.IsBlocked(attacker)
				b.CleanupExpired()
			}
		}()
	}
	for w := 0; w < 4; w++ {
		<-done
	}

	assert.True(t, b.IsBlocked(attacker), "exactly threshold attempts reached")
	assert.Equal(t, 0, b.Attempts(attacker))
}
