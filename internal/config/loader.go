package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v2"

	"grimm.is/warden/internal/brand"
)

// LoadFile reads and decodes a config file. The format follows the file
// extension: .json, .yaml/.yml, otherwise HCL.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(data, path)
}

// Load decodes data using the format implied by filename.
func Load(data []byte, filename string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return LoadJSON(data)
	case ".yaml", ".yml":
		return LoadYAML(data)
	default:
		return LoadHCL(data, filename)
	}
}

// LoadHCL decodes HCL bytes. filename is used in diagnostics only.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, EvalContext(), &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	if err := checkVersion(cfg.SchemaVersion); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// LoadJSON decodes a JSON config.
func LoadJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}
	if err := checkVersion(cfg.SchemaVersion); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// LoadYAML decodes a YAML config.
func LoadYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if err := checkVersion(cfg.SchemaVersion); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

func checkVersion(v string) error {
	if v == "" || v == CurrentSchemaVersion {
		return nil
	}
	return fmt.Errorf("unsupported config schema version %q (supported: %s)", v, CurrentSchemaVersion)
}

// EvalContext returns the variables available to HCL expressions.
func EvalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	envVal := cty.EmptyObjectVal
	if len(env) > 0 {
		envVal = cty.ObjectVal(env)
	}

	b := brand.Get()
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": envVal,
			"brand": cty.ObjectVal(map[string]cty.Value{
				"name":       cty.StringVal(b.LowerName),
				"config_dir": cty.StringVal(b.DefaultConfigDir),
				"state_dir":  cty.StringVal(b.DefaultStateDir),
				"log_dir":    cty.StringVal(b.DefaultLogDir),
			}),
		},
	}
}

// GenerateHCL renders cfg in canonical HCL form.
func GenerateHCL(cfg *Config) []byte {
	out := *cfg
	if out.Blocklist != nil && out.Blocklist.Whitelist == nil {
		b := *out.Blocklist
		b.Whitelist = []string{}
		out.Blocklist = &b
	}
	if out.Geo != nil && out.Geo.BlockedCountries == nil {
		g := *out.Geo
		g.BlockedCountries = []string{}
		out.Geo = &g
	}

	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(&out, f.Body())
	return hclwrite.Format(f.Bytes())
}

// Format parses src and re-renders it canonically. Comments are not kept.
func Format(src []byte, filename string) ([]byte, error) {
	cfg, err := Load(src, filename)
	if err != nil {
		return nil, err
	}
	return GenerateHCL(cfg), nil
}

// SaveFile writes cfg as HCL, via a temp file and rename.
func SaveFile(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, GenerateHCL(cfg), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
