package cmd

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/logging"
)

func TestLoadConfig(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	path := writeFile(t, "warn.hcl", validConfig)
	cfg, warnings, err := loadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Rules, 2)
	require.NotEmpty(t, warnings)
	assert.True(t, warnings[0].IsWarning())

	path = writeFile(t, "bad.hcl", "blocklist {\n  threshold = -1\n}\n")
	_, errs, err := loadConfig(path)
	require.Error(t, err)
	assert.True(t, errs.HasErrors())
}

func TestSetupLogging(t *testing.T) {
	cfg := config.Default()
	cfg.General.LogLevel = "warn"
	logFile := filepath.Join(t.TempDir(), "warden.log")

	l := setupLogging(cfg, RunOptions{LogFile: logFile})
	assert.Equal(t, logging.LevelWarn, l.GetLevel())

	l = setupLogging(cfg, RunOptions{Verbose: true})
	assert.Equal(t, logging.LevelDebug, l.GetLevel())
	t.Cleanup(func() { logging.SetDefault(nil) })
}

func TestOpenStore(t *testing.T) {
	cfg := config.Default()
	st, err := openStore(cfg)
	require.NoError(t, err)
	assert.Nil(t, st)

	cfg.State = &config.State{Path: filepath.Join(t.TempDir(), "lib", "state.db")}
	st, err = openStore(cfg)
	require.NoError(t, err)
	require.NotNil(t, st)
	require.NoError(t, st.Set("blocklist", "k", []byte("v")))
	require.NoError(t, st.Close())
}
