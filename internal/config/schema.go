// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the daemon.
package config

import "time"

// Config is the root configuration structure for browserd.
type Config struct {
	Version string        `json:"version"`
	Server  ServerConfig  `json:"server"`
	Browser BrowserConfig `json:"browser"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig configures the two listeners and the daemon's timers.
// All timeouts are integer milliseconds; zero means "use the default".
type ServerConfig struct {
	WSHost               string `json:"ws_host"`    // bind host for extension channels
	WSPort               int    `json:"ws_port"`    // listen port for extension channels
	SocketPath           string `json:"socket_path"` // filesystem path for the client socket
	HeartbeatInterval    int    `json:"heartbeat_interval"`     // ping cadence per extension channel (ms)
	HeartbeatTimeout     int    `json:"heartbeat_timeout"`      // pong deadline (ms)
	BrowserLaunchTimeout int    `json:"browser_launch_timeout"` // wait for extension connect after launch (ms)
	CommandTimeout       int    `json:"command_timeout"`        // per-command deadline (ms)
}

// BrowserConfig configures how the supervisor launches a browser for a session.
type BrowserConfig struct {
	Command interface{}       `json:"command"` // string or []string
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// LoggingConfig configures the daemon logger.
type LoggingConfig struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "text" or "json"
}

// GetCommand returns the browser command as a string slice, supporting both
// string and array forms in the config file.
func (b BrowserConfig) GetCommand() []string {
	switch c := b.Command.(type) {
	case string:
		if c == "" {
			return nil
		}
		return []string{c}
	case []string:
		return c
	case []interface{}:
		result := make([]string, 0, len(c))
		for _, v := range c {
			if s, ok := v.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}

// Duration helpers. The wire-level contract and the config file speak
// milliseconds; the runtime wants time.Duration.

// HeartbeatIntervalDuration returns the ping cadence.
func (s ServerConfig) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(s.HeartbeatInterval) * time.Millisecond
}

// HeartbeatTimeoutDuration returns the pong deadline.
func (s ServerConfig) HeartbeatTimeoutDuration() time.Duration {
	return time.Duration(s.HeartbeatTimeout) * time.Millisecond
}

// BrowserLaunchTimeoutDuration returns the extension-connect deadline.
func (s ServerConfig) BrowserLaunchTimeoutDuration() time.Duration {
	return time.Duration(s.BrowserLaunchTimeout) * time.Millisecond
}

// CommandTimeoutDuration returns the per-command deadline.
func (s ServerConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(s.CommandTimeout) * time.Millisecond
}
