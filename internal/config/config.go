package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.appealsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	ServerURL      string `toml:"server_url"`
	RealtimeURL    string `toml:"realtime_url"`

	// Tunables, zero means default.
	OutboxRetrySeconds  int `toml:"outbox_retry_seconds"`
	PresencePollSeconds int `toml:"presence_poll_seconds"`
	ReadArmDelayMs      int `toml:"read_arm_delay_ms"`
	ReadFlushDelayMs    int `toml:"read_flush_delay_ms"`
}

const (
	defaultOutboxRetry  = 30 * time.Second
	defaultPresencePoll = 45 * time.Second
)

// OutboxRetryInterval returns the configured sweep interval or the
// default.
func (c *Config) OutboxRetryInterval() time.Duration {
	if c.OutboxRetrySeconds > 0 {
		return time.Duration(c.OutboxRetrySeconds) * time.Second
	}
	return defaultOutboxRetry
}

// PresencePollInterval returns the configured poll interval or the
// default.
func (c *Config) PresencePollInterval() time.Duration {
	if c.PresencePollSeconds > 0 {
		return time.Duration(c.PresencePollSeconds) * time.Second
	}
	return defaultPresencePoll
}

// ReadArmDelay returns the read-receipt arm debounce.
func (c *Config) ReadArmDelay() time.Duration {
	if c.ReadArmDelayMs > 0 {
		return time.Duration(c.ReadArmDelayMs) * time.Millisecond
	}
	return 0 // readreceipt applies its own default
}

// ReadFlushDelay returns the read-receipt flush debounce.
func (c *Config) ReadFlushDelay() time.Duration {
	if c.ReadFlushDelayMs > 0 {
		return time.Duration(c.ReadFlushDelayMs) * time.Millisecond
	}
	return 0
}

// Load reads config from the given path. Returns zero config and error
// if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
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
