package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHCL = `
schema_version = "1.0"

general {
  interface      = "eth0"
  default_action = "allow"
  log_level      = "debug"
}

rule "block_telnet" {
  action   = "block"
  protocol = "tcp"
  dst_port = 23
}

rule "lan" {
  action = "allow"
  src    = "10.0.0.0/8"
}

blocklist {
  enabled        = true
  threshold      = 3
  block_duration = "30m"
  whitelist      = ["127.0.0.1"]
}

geo {
  enabled           = true
  blocked_countries = ["CN"]
}
`

func TestLoadHCL(t *testing.T) {
	cfg, err := LoadHCL([]byte(sampleHCL), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.General.Interface)
	assert.Equal(t, "allow", cfg.General.DefaultAction)
	assert.Equal(t, "afpacket", cfg.General.Capture, "normalized default")

	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, "block_telnet", cfg.Rules[0].Name)
	assert.Equal(t, 23, cfg.Rules[0].DstPort)
	assert.Equal(t, "10.0.0.0/8", cfg.Rules[1].Src)

	assert.Equal(t, 3, cfg.Blocklist.Threshold)
	assert.Equal(t, []string{"127.0.0.1"}, cfg.Blocklist.Whitelist)
	assert.Equal(t, "1m", cfg.Blocklist.CleanupInterval)
	assert.Equal(t, []string{"CN"}, cfg.Geo.BlockedCountries)
	assert.Nil(t, cfg.State)
}

func TestLoadHCL_EnvAndBrand(t *testing.T) {
	t.Setenv("WARDEN_TEST_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	src := `
api {
  enabled    = true
  token_hash = env.WARDEN_TEST_HASH
}
state {
  path = "${brand.state_dir}/state.db"
}
`
	cfg, err := LoadHCL([]byte(src), "test.hcl")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$abcdefghijklmnopqrstuv", cfg.API.TokenHash)
	assert.Equal(t, "/var/lib/warden/state.db", cfg.State.Path)
	assert.Equal(t, "5m", cfg.State.SnapshotInterval)
}

func TestLoadHCL_Errors(t *testing.T) {
	_, err := LoadHCL([]byte(`general {`), "bad.hcl")
	assert.ErrorContains(t, err, "parse error")

	_, err = LoadHCL([]byte(`rule "x" { protocol = "tcp" }`), "bad.hcl")
	assert.ErrorContains(t, err, "decode error", "action is required")

	_, err = LoadHCL([]byte(`schema_version = "9.9"`), "bad.hcl")
	assert.ErrorContains(t, err, "unsupported config schema version")
}

func TestLoadJSONAndYAML(t *testing.T) {
	jsonSrc := `{"general":{"default_action":"log"},"rules":[{"name":"r","action":"allow","dst_port":22}]}`
	cfg, err := Load([]byte(jsonSrc), "warden.json")
	require.NoError(t, err)
	assert.Equal(t, "log", cfg.General.DefaultAction)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, 22, cfg.Rules[0].DstPort)

	yamlSrc := `
general:
  default_action: block
rules:
  - name: dns
    action: allow
    protocol: udp
    dst_port: 53
geo:
  enabled: true
  threat_protection: true
`
	cfg, err = Load([]byte(yamlSrc), "warden.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "udp", cfg.Rules[0].Protocol)
	assert.True(t, cfg.Geo.ThreatProtection)

	_, err = Load([]byte("bogus_field: 1\n"), "warden.yml")
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Len(t, cfg.Rules, 3)
	assert.Equal(t, "block", cfg.General.DefaultAction)
	assert.True(t, cfg.Blocklist.Enabled)
	assert.Equal(t, 5, cfg.Blocklist.Threshold)
	assert.Equal(t, "1h", cfg.Blocklist.BlockDuration)
	assert.False(t, cfg.Geo.Enabled)
	assert.False(t, cfg.Validate().HasErrors())
}

func TestGenerateHCL_RoundTrip(t *testing.T) {
	orig := Default()
	orig.Geo.BlockedCountries = []string{"RU"}

	out := GenerateHCL(orig)
	assert.Contains(t, string(out), `rule "allow_https"`)

	back, err := LoadHCL(out, "gen.hcl")
	require.NoError(t, err)
	assert.Equal(t, orig.Rules, back.Rules)
	assert.Equal(t, orig.General, back.General)
	assert.Equal(t, orig.Blocklist, back.Blocklist)
	assert.Equal(t, orig.Geo, back.Geo)

	// Formatting canonical output is a no-op.
	again, err := Format(out, "gen.hcl")
	require.NoError(t, err)
	assert.Equal(t, string(out), string(again))
}

func TestSaveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "warden.hcl")
	require.NoError(t, SaveFile(Default(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Rules, 3)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseDuration("0")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseDuration("90s")
	require.NoError(t, err)
	assert.Equal(t, 90.0, d.Seconds())

	_, err = ParseDuration("-1m")
	assert.Error(t, err)
	_, err = ParseDuration("soon")
	assert.Error(t, err)
}
