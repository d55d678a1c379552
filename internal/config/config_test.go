package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.HTTP.ListenAddress != ":8080" {
		t.Fatalf("HTTP.ListenAddress = %q, want :8080", cfg.HTTP.ListenAddress)
	}
	if cfg.BringUp.TimeoutMs != 30000 {
		t.Fatalf("BringUp.TimeoutMs = %d, want 30000", cfg.BringUp.TimeoutMs)
	}
}

func TestLoadReadsExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	contents := "log:\n  level: debug\nhttp:\n  listen_address: \":9090\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.HTTP.ListenAddress != ":9090" {
		t.Fatalf("HTTP.ListenAddress = %q, want :9090", cfg.HTTP.ListenAddress)
	}
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	os.Setenv("GATEWAYD_LOG_LEVEL", "warn")
	defer os.Unsetenv("GATEWAYD_LOG_LEVEL")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}
