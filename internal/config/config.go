// Package config provides application configuration management for thinkt-browse.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Environment variables that override the config file.
const (
	EnvServer   = "THINKT_BROWSE_SERVER"
	EnvToken    = "THINKT_BROWSE_TOKEN"
	EnvPageSize = "THINKT_BROWSE_PAGE_SIZE"
)

// Config holds the thinkt-browse configuration.
type Config struct {
	Server ServerConfig `json:"server"` // Feed server the viewer connects to
	Sync   SyncConfig   `json:"sync"`   // Synchronization engine settings
	Feed   FeedConfig   `json:"feed"`   // Settings for `thinkt-browse serve`
}

// ServerConfig describes the remote feed server.
type ServerConfig struct {
	URL   string `json:"url,omitempty"`   // Base URL (empty = discover a local instance)
	Token string `json:"token,omitempty"` // Bearer token
}

// SyncConfig holds synchronization engine settings.
type SyncConfig struct {
	PageSize             int    `json:"page_size"`              // Messages per page
	Coalesce             string `json:"coalesce"`               // Invalidation coalescing window (e.g. "500ms")
	MaxReconnectFailures int    `json:"max_reconnect_failures"` // Give up the live channel after this many failed dials
}

// FeedConfig holds settings for the reference feed server.
type FeedConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Token    string `json:"token,omitempty"`
	WatchDir string `json:"watch_dir,omitempty"` // JSONL transcripts to tail
}

// CoalesceWindow returns the parsed coalescing window (default: 500ms).
func (c SyncConfig) CoalesceWindow() time.Duration {
	if c.Coalesce != "" {
		if d, err := time.ParseDuration(c.Coalesce); err == nil && d > 0 {
			return d
		}
	}
	return 500 * time.Millisecond
}

// Dir returns the path to the .thinkt directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".thinkt"), nil
}

// Path returns the path to the browse config file.
func Path() (string, error) {
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "browse.json"), nil
}

// Load loads the configuration from ~/.thinkt/browse.json and applies
// environment overrides. A missing file yields the defaults.
func Load() (Config, error) {
	configPath, err := Path()
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing keys get correct values.
	config := Default()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, err
	}
	if err == nil {
		if err := json.Unmarshal(data, &config); err != nil {
			return Config{}, err
		}
	}

	if config.Sync.PageSize <= 0 {
		config.Sync.PageSize = 50
	}
	applyEnv(&config)
	return config, nil
}

// applyEnv overlays the THINKT_BROWSE_* environment variables. Call
// godotenv.Load beforehand to pick up a .env file.
func applyEnv(config *Config) {
	if v := os.Getenv(EnvServer); v != "" {
		config.Server.URL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		config.Server.Token = v
	}
	if v := os.Getenv(EnvPageSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Sync.PageSize = n
		}
	}
}

// Default returns a default configuration with all defaults set.
func Default() Config {
	return Config{
		Sync: SyncConfig{
			PageSize:             50,
			Coalesce:             "500ms",
			MaxReconnectFailures: 5,
		},
		Feed: FeedConfig{
			Host: "localhost",
			Port: 8786,
		},
	}
}

// Save saves the configuration to ~/.thinkt/browse.json.
func Save(config Config) error {
	configPath, err := Path()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}
