package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Config{}) {
		t.Errorf("expected a zero Config, got %+v", cfg)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apt-diff.yaml")
	content := `
workers: 8
ignore_conffiles: true
tempdir: /var/tmp/apt-diff
apt_options:
  Dir::Cache: /tmp/apt-cache
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if !cfg.IgnoreConffiles {
		t.Errorf("expected IgnoreConffiles to be true")
	}
	if cfg.TempDir != "/var/tmp/apt-diff" {
		t.Errorf("TempDir = %q, want /var/tmp/apt-diff", cfg.TempDir)
	}
	if cfg.AptOptions["Dir::Cache"] != "/tmp/apt-cache" {
		t.Errorf("AptOptions[Dir::Cache] = %q, want /tmp/apt-cache", cfg.AptOptions["Dir::Cache"])
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml")); err == nil {
		t.Errorf("expected an error for a missing config file")
	}
}
