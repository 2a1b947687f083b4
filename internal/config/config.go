// Package config loads the daemon configuration from ~/.evasync/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	Profile ProfileConfig `toml:"profile"`
	Sync    SyncConfig    `toml:"sync"`
	Remote  RemoteConfig  `toml:"remote"`
	Blob    BlobConfig    `toml:"blob"`
}

// ProfileConfig identifies the signed-in user the daemon syncs for.
type ProfileConfig struct {
	UserID string `toml:"user_id"`
}

// SyncConfig holds the coordinator settings. These are also mutable at
// runtime through the control API.
type SyncConfig struct {
	AutoSync            bool     `toml:"auto_sync"`
	IntervalSeconds     int      `toml:"interval_seconds"`
	BatchSize           int      `toml:"batch_size"`
	RetryAttempts       int      `toml:"retry_attempts"`
	ConflictResolution  string   `toml:"conflict_resolution"`
	PriorityCollections []string `toml:"priority_collections"`
}

// Interval returns the sync loop period.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RemoteConfig holds the hosted backend connection settings.
type RemoteConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	HealthURL string `toml:"health_url"`
}

// BlobConfig holds the backup bucket settings.
type BlobConfig struct {
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			AutoSync:           true,
			IntervalSeconds:    30,
			BatchSize:          50,
			RetryAttempts:      3,
			ConflictResolution: "last_write_wins",
			PriorityCollections: []string{
				"symptom_entries",
				"nutrition_entries",
				"medical_events",
			},
		},
	}
}

// Load reads config from the given path, layering it over Default. A
// missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
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
