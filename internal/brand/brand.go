// Package brand holds the product identity and default filesystem layout.
//
// The values are loaded from brand.json at compile time via go:embed so
// packaging scripts can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information.
type Brand struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Description      string `json:"description"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	DefaultStateDir  string `json:"defaultStateDir"`
	DefaultLogDir    string `json:"defaultLogDir"`
	ConfigFileName   string `json:"configFileName"`
	StateFileName    string `json:"stateFileName"`
	DefaultAPIListen string `json:"defaultAPIListen"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}
	Name = b.Name
	LowerName = b.LowerName
	ConfigEnvPrefix = b.ConfigEnvPrefix
}

var (
	Name            string
	LowerName       string
	ConfigEnvPrefix string

	// Set at build time via -ldflags.
	Version   = "dev"
	GitCommit = "unknown"
)

// Get returns the full Brand struct.
func Get() Brand {
	return b
}

// UserAgent returns a User-Agent string for HTTP requests.
func UserAgent() string {
	return LowerName + "/" + Version
}

// Env reads WARDEN_<suffix> from the environment.
func Env(suffix string) string {
	return os.Getenv(ConfigEnvPrefix + "_" + suffix)
}

// ConfigPath returns the default config file path.
// Priority: WARDEN_CONFIG_DIR > DefaultConfigDir.
func ConfigPath() string {
	dir := b.DefaultConfigDir
	if d := Env("CONFIG_DIR"); d != "" {
		dir = d
	}
	return filepath.Join(dir, b.ConfigFileName)
}

// StatePath returns the default state database path.
// Priority: WARDEN_STATE_DIR > DefaultStateDir.
func StatePath() string {
	dir := b.DefaultStateDir
	if d := Env("STATE_DIR"); d != "" {
		dir = d
	}
	return filepath.Join(dir, b.StateFileName)
}
