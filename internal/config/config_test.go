package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4020 || cfg.Bind != "0.0.0.0" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileThenFlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9999\nbind: 127.0.0.1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9999 || cfg.Bind != "127.0.0.1" {
		t.Fatalf("expected file values applied, got %+v", cfg)
	}

	cfg, err = Load(path, []string{"--port", "8080"})
	if err != nil {
		t.Fatalf("Load with flags: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected flag to override file, got port=%d", cfg.Port)
	}
	if cfg.Bind != "127.0.0.1" {
		t.Fatalf("expected unflagged file value preserved, got bind=%s", cfg.Bind)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4020 {
		t.Fatalf("expected default port for missing file, got %d", cfg.Port)
	}
}

func TestDebugEnvVar(t *testing.T) {
	t.Setenv("DEBUG", "1")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Debug {
		t.Fatal("expected DEBUG=1 env var to enable debug logging")
	}
}
