package cmd

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/api"
	"grimm.is/warden/internal/capture"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/events"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/traffic"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := Stdout
	Stdout = &buf
	t.Cleanup(func() { Stdout = old })
	return &buf
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
general {
  default_action = "block"
}

rule "allow_ssh" {
  action    = "allow"
  direction = "inbound"
  protocol  = "tcp"
  dst_port  = 22
}

rule "broken" {
  action = "block"
  src    = "10.0.0.0/33"
}
`

func TestRunCheck_ValidConfig(t *testing.T) {
	out := captureStdout(t)
	path := writeFile(t, "valid.hcl", validConfig)

	require.NoError(t, RunCheck(path, true))
	s := out.String()
	assert.Contains(t, s, "Configuration valid!")
	assert.Contains(t, s, "Rules: 2 (1 defective)")
	assert.Contains(t, s, "never match")
	assert.Contains(t, s, "allow_ssh")
	assert.Contains(t, s, "warning: ")
}

func TestRunCheck_InvalidConfig(t *testing.T) {
	captureStdout(t)

	path := writeFile(t, "invalid.hcl", "rule \"x\" {\n  action = \"allow\"\n")
	assert.Error(t, RunCheck(path, false))

	path = writeFile(t, "bad.hcl", "rule \"x\" {\n  action = \"reject\"\n}\n")
	err := RunCheck(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "problem")

	assert.ErrorIs(t, RunCheck("", false), ErrUsage)
}

func TestRunFmt(t *testing.T) {
	out := captureStdout(t)

	path := filepath.Join(t.TempDir(), "warden.hcl")
	require.NoError(t, config.SaveFile(config.Default(), path))
	require.NoError(t, RunFmt(path, false))
	assert.Empty(t, out.String())

	messy := writeFile(t, "messy.hcl", "rule \"allow_ssh\" {\naction=\"allow\"\n  dst_port = 22\n}\n")
	err := RunFmt(messy, false)
	assert.ErrorIs(t, err, ErrNotFormatted)
	assert.Contains(t, out.String(), "--- "+messy)
	assert.Contains(t, out.String(), "+++ "+messy+" (canonical)")

	require.NoError(t, RunFmt(messy, true))
	out.Reset()
	require.NoError(t, RunFmt(messy, false))
	assert.Empty(t, out.String())

	assert.ErrorIs(t, RunFmt("x.json", false), ErrUsage)
}

func TestRunInit(t *testing.T) {
	captureStdout(t)
	path := filepath.Join(t.TempDir(), "etc", "warden.hcl")

	require.NoError(t, RunInit(path, false))
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Rules, 3)

	assert.Error(t, RunInit(path, false))
	assert.NoError(t, RunInit(path, true))
}

func TestRunHashToken(t *testing.T) {
	out := captureStdout(t)
	require.NoError(t, RunHashToken([]string{"secret"}))
	hash := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(hash, "$2"))

	assert.ErrorIs(t, RunHashToken([]string{"a", "b"}), ErrUsage)
}

func TestParseArgs(t *testing.T) {
	fs := newFlagSet("block")
	d := fs.String("duration", "", "")
	pos, err := parseArgs(fs, []string{"192.0.2.1", "--duration", "1h"})
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1"}, pos)
	assert.Equal(t, "1h", *d)

	fs = newFlagSet("country")
	pos, err = parseArgs(fs, []string{"block", "cn"})
	require.NoError(t, err)
	assert.Equal(t, []string{"block", "cn"}, pos)
}

// startDaemon serves the management API over a real firewall fed by a
// channel source.
func startDaemon(t *testing.T) (*firewall.Firewall, chan traffic.Record, []string) {
	t.Helper()
	ch := make(chan traffic.Record, 16)
	fw := firewall.New(firewall.DefaultSettings(), firewall.WithSource(capture.NewChannelSource(ch)))
	srv := api.NewServer(api.Options{Manager: fw, Hub: events.NewHub()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		fw.Stop()
	})
	return fw, ch, []string{"--api", ts.URL}
}

func TestRemoteCommands(t *testing.T) {
	out := captureStdout(t)
	fw, _, remote := startDaemon(t)

	require.NoError(t, RunBlock(append([]string{"203.0.113.5", "--duration", "2h"}, remote...)))
	assert.Contains(t, out.String(), "Blocked 203.0.113.5 until")
	assert.True(t, fw.IsBlocked(netip.MustParseAddr("203.0.113.5")))

	require.NoError(t, RunBlock(append([]string{"203.0.113.6"}, remote...)))
	assert.Contains(t, out.String(), "Blocked 203.0.113.6 permanently")

	out.Reset()
	require.NoError(t, RunBlocklist(remote))
	assert.Contains(t, out.String(), "203.0.113.5")
	assert.Contains(t, out.String(), "never")

	require.NoError(t, RunUnblock(append([]string{"203.0.113.5"}, remote...)))
	assert.False(t, fw.IsBlocked(netip.MustParseAddr("203.0.113.5")))

	err := RunUnblock(append([]string{"203.0.113.5"}, remote...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not blocked")

	err = RunBlock(append([]string{"127.0.0.1"}, remote...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whitelisted")

	require.NoError(t, RunCountry(append([]string{"block", "cn"}, remote...)))
	require.NoError(t, RunCountry(append([]string{"enable"}, remote...)))
	assert.Equal(t, []string{"CN"}, fw.BlockedCountries())
	assert.True(t, fw.GeoEnabled())

	require.NoError(t, RunThreatProtection(remote))
	assert.Equal(t, []string{"CN", "RU", "IR"}, fw.BlockedCountries())

	assert.ErrorIs(t, RunCountry(append([]string{"block"}, remote...)), ErrUsage)

	out.Reset()
	require.NoError(t, RunStatus(remote))
	assert.Contains(t, out.String(), "STOPPED")
	assert.Contains(t, out.String(), "Blocklist: 1 address(es)")

	out.Reset()
	require.NoError(t, RunCapture(true, remote))
	assert.Contains(t, out.String(), "RUNNING")
	assert.True(t, fw.IsRunning())
	require.NoError(t, RunCapture(false, remote))
	assert.False(t, fw.IsRunning())

	// The test server has no reload hook.
	err = RunReload(remote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "501")
}

func TestRemoteUnreachable(t *testing.T) {
	captureStdout(t)
	err := RunStatus([]string{"--api", "127.0.0.1:1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUsage))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "203.0.113.5 auto",
		describe(events.EventBlocklistAdded, []byte(`{"ip":"203.0.113.5","reason":"auto"}`)))
	assert.Equal(t, "enabled=true countries=[CN, RU]",
		describe(events.EventGeoChanged, []byte(`{"enabled":true,"countries":["CN","RU"]}`)))
	assert.Equal(t, "tcp 10.0.0.1 -> 10.0.0.2 (inbound, 60 bytes) blocklist",
		describe(events.EventBlock, []byte(`{"src":"10.0.0.1","dst":"10.0.0.2","protocol":"tcp","direction":"inbound","size":60,"reason":"blocklist"}`)))
	assert.Equal(t, `{"x":1}`, describe("custom", []byte(`{"x":1}`)))
}
