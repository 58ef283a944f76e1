// Package config resolves memlog's on-disk configuration the same way the
// teacher resolves bd's: a project-local file found by walking up from the
// working directory, falling back to an XDG/home-directory location, with
// environment variables and explicit flags taking precedence over both.
// Grounded on bd/internal/config/config.go's Initialize() walk-up search.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config is the resolved set of values memlog's CLI needs on every command.
type Config struct {
	DBPath      string
	LogFile     string
	JSON        bool
	ScopeTier   string
	ScopeID     string
	RuleVersion string
	ArtifactDir string

	// ConfigDir is the directory config.yaml was found in (or the cwd, if
	// none was found) -- gates.toml is resolved relative to it.
	ConfigDir string
}

// Load resolves config.yaml by walking up from the current directory looking
// for .memlog/config.yaml, then $XDG_CONFIG_HOME/memlog/config.yaml, then
// ~/.memlog/config.yaml. Environment variables prefixed MEMLOG_ override the
// file; flagOverrides (parsed from cobra flags, only non-zero-value entries)
// override everything.
func Load(flagOverrides Config) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	configDir := ""
	if cwd, err := os.Getwd(); err == nil {
		configDir = cwd
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".memlog", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
				configDir = filepath.Join(dir, ".memlog")
				break
			}
		}
	}
	if !configFileSet {
		if xdgDir, err := os.UserConfigDir(); err == nil {
			candidate := filepath.Join(xdgDir, "memlog", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
				configDir = filepath.Join(xdgDir, "memlog")
			}
		}
	}
	if !configFileSet {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".memlog", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
				configDir = filepath.Join(home, ".memlog")
			}
		}
	}

	v.SetEnvPrefix("MEMLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", ".memlog/memlog.db")
	v.SetDefault("log-file", "")
	v.SetDefault("json", true)
	v.SetDefault("scope-tier", "repo")
	v.SetDefault("scope-id", "")
	v.SetDefault("rule-version", "v1")
	v.SetDefault("artifact-dir", ".memlog/artifacts")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", v.ConfigFileUsed(), err)
		}
	}

	cfg := &Config{
		DBPath:      v.GetString("db"),
		LogFile:     v.GetString("log-file"),
		JSON:        v.GetBool("json"),
		ScopeTier:   v.GetString("scope-tier"),
		ScopeID:     v.GetString("scope-id"),
		RuleVersion: v.GetString("rule-version"),
		ArtifactDir: v.GetString("artifact-dir"),
		ConfigDir:   configDir,
	}

	if flagOverrides.DBPath != "" {
		cfg.DBPath = flagOverrides.DBPath
	}
	if flagOverrides.LogFile != "" {
		cfg.LogFile = flagOverrides.LogFile
	}
	if flagOverrides.ScopeTier != "" {
		cfg.ScopeTier = flagOverrides.ScopeTier
	}
	if flagOverrides.ScopeID != "" {
		cfg.ScopeID = flagOverrides.ScopeID
	}
	if flagOverrides.RuleVersion != "" {
		cfg.RuleVersion = flagOverrides.RuleVersion
	}

	return cfg, nil
}

// GateOverrides holds optional rollout-gate threshold overrides read from a
// gates.toml file sitting next to config.yaml. A zero field means "use the
// policy package's default for this threshold".
type GateOverrides struct {
	MinEpisodesWithOutcomes int     `toml:"min_episodes_with_outcomes"`
	MinPrecisionProxy       float64 `toml:"min_precision_proxy"`
	MaxCorrectionRate       float64 `toml:"max_correction_rate"`
	MinOutcomesPerHalf      int     `toml:"min_outcomes_per_half"`
	MaxSuccessRateDrift     float64 `toml:"max_success_rate_drift"`
	MinEventsLast7Days      int     `toml:"min_events_last_7_days"`
}

// LoadGateOverrides reads gates.toml from the same directory as configDir
// (the directory config.yaml was found in, or the cwd if none was found).
// A missing file is not an error: it returns a zero-value GateOverrides.
func LoadGateOverrides(configDir string) (*GateOverrides, error) {
	path := filepath.Join(configDir, "gates.toml")
	if _, err := os.Stat(path); err != nil {
		return &GateOverrides{}, nil
	}
	var overrides GateOverrides
	if _, err := toml.DecodeFile(path, &overrides); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return &overrides, nil
}
