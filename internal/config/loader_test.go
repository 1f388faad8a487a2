// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "browserd.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	return cfg
}

func TestLoader_Load_ValidConfig(t *testing.T) {
	cfg := loadFromString(t, `{
		version: "1.0"
		server: {
			ws_host: "127.0.0.1"
			ws_port: 9300
			socket_path: "/tmp/test-browserd.sock"
			heartbeat_interval: 10000
			heartbeat_timeout: 3000
		}
		browser: {
			command: "chromium"
			args: ["--new-window"]
		}
		logging: {
			level: "debug"
			format: "json"
		}
	}`)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "127.0.0.1", cfg.Server.WSHost)
	assert.Equal(t, 9300, cfg.Server.WSPort)
	assert.Equal(t, "/tmp/test-browserd.sock", cfg.Server.SocketPath)
	assert.Equal(t, 10000, cfg.Server.HeartbeatInterval)
	assert.Equal(t, []string{"chromium"}, cfg.Browser.GetCommand())
	assert.Equal(t, []string{"--new-window"}, cfg.Browser.Args)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoader_Load_HJSONFeatures(t *testing.T) {
	// Comments, unquoted strings, trailing commas
	cfg := loadFromString(t, `{
		// extension endpoint
		version: "1.0"
		server: {
			ws_port: 9400,
		}
		# hash comment
		browser: {
			command: google-chrome
		}
	}`)

	assert.Equal(t, 9400, cfg.Server.WSPort)
	assert.Equal(t, []string{"google-chrome"}, cfg.Browser.GetCommand())
}

func TestLoader_Load_CommandAsArray(t *testing.T) {
	cfg := loadFromString(t, `{
		browser: {
			command: ["flatpak", "run", "org.chromium.Chromium"]
		}
	}`)
	assert.Equal(t, []string{"flatpak", "run", "org.chromium.Chromium"}, cfg.Browser.GetCommand())
}

func TestLoader_Load_MissingFile(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), "/nonexistent/browserd.hjson")
	require.Error(t, err)
}

func TestApplyDefaults_Empty(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "127.0.0.1", cfg.Server.WSHost)
	assert.Equal(t, 9222, cfg.Server.WSPort)
	assert.Equal(t, "/tmp/browserd.sock", cfg.Server.SocketPath)
	assert.Equal(t, 30000, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 5000, cfg.Server.HeartbeatTimeout)
	assert.Equal(t, 30000, cfg.Server.BrowserLaunchTimeout)
	assert.Equal(t, 30000, cfg.Server.CommandTimeout)
	assert.Equal(t, []string{"google-chrome"}, cfg.Browser.GetCommand())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestApplyDefaults_CommandTimeoutInheritsExplicitHeartbeatTimeout(t *testing.T) {
	cfg := &Config{}
	cfg.Server.HeartbeatTimeout = 8000
	ApplyDefaults(cfg)

	assert.Equal(t, 8000, cfg.Server.CommandTimeout)
}

func TestApplyDefaults_CommandTimeoutNotInheritedFromDefault(t *testing.T) {
	// The default heartbeat timeout must not leak into the command timeout.
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, 5000, cfg.Server.HeartbeatTimeout)
	assert.Equal(t, 30000, cfg.Server.CommandTimeout)
}

func TestApplyDefaults_ExplicitCommandTimeoutWins(t *testing.T) {
	cfg := &Config{}
	cfg.Server.HeartbeatTimeout = 8000
	cfg.Server.CommandTimeout = 12000
	ApplyDefaults(cfg)

	assert.Equal(t, 12000, cfg.Server.CommandTimeout)
}

func TestServerConfig_DurationHelpers(t *testing.T) {
	s := ServerConfig{
		HeartbeatInterval:    30000,
		HeartbeatTimeout:     5000,
		BrowserLaunchTimeout: 20000,
		CommandTimeout:       15000,
	}
	assert.Equal(t, 30*time.Second, s.HeartbeatIntervalDuration())
	assert.Equal(t, 5*time.Second, s.HeartbeatTimeoutDuration())
	assert.Equal(t, 20*time.Second, s.BrowserLaunchTimeoutDuration())
	assert.Equal(t, 15*time.Second, s.CommandTimeoutDuration())
}

func TestLoader_FindConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "browserd.hjson"), []byte("{}"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	path, err := NewLoader().FindConfig()
	require.NoError(t, err)
	assert.Equal(t, "browserd.hjson", filepath.Base(path))
}

func TestLoader_FindConfig_NotFound(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	_, err = NewLoader().FindConfig()
	require.Error(t, err)
}
