package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/memlogd/memlog/internal/config"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaultsWithNoConfigFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load(config.Config{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != ".memlog/memlog.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.ScopeTier != "repo" {
		t.Fatalf("expected default scope-tier repo, got %q", cfg.ScopeTier)
	}
	if !cfg.JSON {
		t.Fatal("expected json default to be true")
	}
}

func TestLoadReadsProjectLocalConfigFile(t *testing.T) {
	dir := t.TempDir()
	memlogDir := filepath.Join(dir, ".memlog")
	if err := os.MkdirAll(memlogDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	contents := "db: custom.db\nscope-tier: org\nscope-id: acme\n"
	if err := os.WriteFile(filepath.Join(memlogDir, "config.yaml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	chdir(t, dir)

	cfg, err := config.Load(config.Config{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "custom.db" {
		t.Fatalf("expected db from config file, got %q", cfg.DBPath)
	}
	if cfg.ScopeTier != "org" {
		t.Fatalf("expected scope-tier from config file, got %q", cfg.ScopeTier)
	}
	if cfg.ScopeID != "acme" {
		t.Fatalf("expected scope-id from config file, got %q", cfg.ScopeID)
	}
	if cfg.ConfigDir != memlogDir {
		t.Fatalf("expected ConfigDir %q, got %q", memlogDir, cfg.ConfigDir)
	}
}

func TestLoadWalksUpFromNestedDirectory(t *testing.T) {
	dir := t.TempDir()
	memlogDir := filepath.Join(dir, ".memlog")
	if err := os.MkdirAll(memlogDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(memlogDir, "config.yaml"), []byte("db: nested.db\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	nested := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	chdir(t, nested)

	cfg, err := config.Load(config.Config{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "nested.db" {
		t.Fatalf("expected db from walked-up config file, got %q", cfg.DBPath)
	}
}

func TestFlagOverridesWinOverConfigFile(t *testing.T) {
	dir := t.TempDir()
	memlogDir := filepath.Join(dir, ".memlog")
	if err := os.MkdirAll(memlogDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(memlogDir, "config.yaml"), []byte("db: file.db\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	chdir(t, dir)

	cfg, err := config.Load(config.Config{DBPath: "flag.db"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "flag.db" {
		t.Fatalf("expected flag override to win, got %q", cfg.DBPath)
	}
}

func TestLoadGateOverridesMissingFileIsZeroValue(t *testing.T) {
	overrides, err := config.LoadGateOverrides(t.TempDir())
	if err != nil {
		t.Fatalf("load gate overrides: %v", err)
	}
	if *overrides != (config.GateOverrides{}) {
		t.Fatalf("expected zero-value overrides for a missing file, got %+v", overrides)
	}
}

func TestLoadGateOverridesReadsTOML(t *testing.T) {
	dir := t.TempDir()
	contents := "min_precision_proxy = 0.8\nmin_events_last_7_days = 50\n"
	if err := os.WriteFile(filepath.Join(dir, "gates.toml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write gates.toml: %v", err)
	}

	overrides, err := config.LoadGateOverrides(dir)
	if err != nil {
		t.Fatalf("load gate overrides: %v", err)
	}
	if overrides.MinPrecisionProxy != 0.8 {
		t.Fatalf("expected min_precision_proxy 0.8, got %v", overrides.MinPrecisionProxy)
	}
	if overrides.MinEventsLast7Days != 50 {
		t.Fatalf("expected min_events_last_7_days 50, got %v", overrides.MinEventsLast7Days)
	}
}
