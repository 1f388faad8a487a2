// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file in the current directory.
// It looks for browserd.hjson first, then browserd.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"browserd.hjson",
		"browserd.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for browserd.hjson, browserd.json)")
}

// Default returns a Config with every default applied, for running without a
// config file.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for missing config fields.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.WSHost == "" {
		cfg.Server.WSHost = "127.0.0.1"
	}
	if cfg.Server.WSPort == 0 {
		cfg.Server.WSPort = 9222
	}
	if cfg.Server.SocketPath == "" {
		cfg.Server.SocketPath = "/tmp/browserd.sock"
	}
	if cfg.Server.HeartbeatInterval == 0 {
		cfg.Server.HeartbeatInterval = 30000
	}
	// An explicitly configured heartbeat timeout doubles as the command
	// timeout when no command timeout is set. Resolve this before applying
	// the heartbeat default so the fallback only fires for explicit values.
	if cfg.Server.CommandTimeout == 0 && cfg.Server.HeartbeatTimeout > 0 {
		cfg.Server.CommandTimeout = cfg.Server.HeartbeatTimeout
	}
	if cfg.Server.HeartbeatTimeout == 0 {
		cfg.Server.HeartbeatTimeout = 5000
	}
	if cfg.Server.BrowserLaunchTimeout == 0 {
		cfg.Server.BrowserLaunchTimeout = 30000
	}
	if cfg.Server.CommandTimeout == 0 {
		cfg.Server.CommandTimeout = 30000
	}

	// Browser defaults
	if cfg.Browser.GetCommand() == nil {
		cfg.Browser.Command = "google-chrome"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
