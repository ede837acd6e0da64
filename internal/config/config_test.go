package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultSession: "work"}
	cfg.Server.BaseURL = "https://chat.example.com"
	cfg.Server.Token = "tok"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Server.BaseURL != "https://chat.example.com" {
		t.Errorf("BaseURL = %q", loaded.Server.BaseURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	cfg.Server.BaseURL = "https://chat.example.com"
	cfg.Defaults()

	if cfg.Server.FileBaseURL != cfg.Server.BaseURL {
		t.Errorf("FileBaseURL = %q, want base URL", cfg.Server.FileBaseURL)
	}
	if cfg.Media.MinValidKB != 10 {
		t.Errorf("MinValidKB = %d, want 10", cfg.Media.MinValidKB)
	}
	if cfg.Media.SizeTolerance != 0.05 {
		t.Errorf("SizeTolerance = %v, want 0.05", cfg.Media.SizeTolerance)
	}
	if cfg.BackoffBase() != time.Second {
		t.Errorf("BackoffBase = %v, want 1s", cfg.BackoffBase())
	}
	if cfg.BackoffMax() != 30*time.Second {
		t.Errorf("BackoffMax = %v, want 30s", cfg.BackoffMax())
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
