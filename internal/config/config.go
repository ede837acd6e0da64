package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Server         Server `toml:"server"`
	Media          Media  `toml:"media"`
	Live           Live   `toml:"live"`
}

// Server holds the backend the replica reconciles against.
type Server struct {
	BaseURL string `toml:"base_url"`
	// FileBaseURL prefixes relative file_path values from the server.
	// Defaults to BaseURL when empty.
	FileBaseURL string `toml:"file_base_url"`
	Token       string `toml:"token"`
	UserID      string `toml:"user_id"`
	UserEmail   string `toml:"user_email"`
}

// Media tunes the local blob cache.
type Media struct {
	// MinValidKB is the smallest size a cached blob may have before it is
	// considered a truncated partial and re-fetched.
	MinValidKB int `toml:"min_valid_kb"`
	// SizeTolerance is the accepted relative deviation between downloaded
	// and server-declared byte sizes.
	SizeTolerance float64 `toml:"size_tolerance"`
	// SweepIntervalSec is how often unreferenced blobs are collected.
	SweepIntervalSec int `toml:"sweep_interval_sec"`
	// InMemoryStore switches the replica to a throwaway :memory: database.
	InMemoryStore bool `toml:"in_memory_store"`
}

// Live tunes the streaming channels.
type Live struct {
	BackoffBaseMS int `toml:"backoff_base_ms"`
	BackoffMaxMS  int `toml:"backoff_max_ms"`
}

// Defaults fills zero values with working defaults.
func (c *Config) Defaults() {
	if c.Server.FileBaseURL == "" {
		c.Server.FileBaseURL = c.Server.BaseURL
	}
	if c.Media.MinValidKB <= 0 {
		c.Media.MinValidKB = 10
	}
	if c.Media.SizeTolerance <= 0 {
		c.Media.SizeTolerance = 0.05
	}
	if c.Media.SweepIntervalSec <= 0 {
		c.Media.SweepIntervalSec = 300
	}
	if c.Live.BackoffBaseMS <= 0 {
		c.Live.BackoffBaseMS = 1000
	}
	if c.Live.BackoffMaxMS <= 0 {
		c.Live.BackoffMaxMS = 30000
	}
}

// BackoffBase returns the live-channel reconnect base delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Live.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the live-channel reconnect delay ceiling.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Live.BackoffMaxMS) * time.Millisecond
}

// SweepInterval returns how often the media sweep runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Media.SweepIntervalSec) * time.Second
}

// Load reads config from the given path. Returns zero config and error if
// the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.Defaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
