// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client is the Go client for a running browserd daemon. Each call
// dials the daemon's unix socket, writes one request envelope and reads the
// single reply; the daemon closes the connection afterwards.
package client

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/browserd/browserd/internal/protocol"
)

// DefaultSocketPath is where the daemon listens unless configured otherwise.
const DefaultSocketPath = "/tmp/browserd.sock"

const dialTimeout = 2 * time.Second

// Client talks to a browserd daemon over its unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request read timeout. Command requests block for
// the daemon-side command lifetime, so this should comfortably exceed the
// daemon's command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for the daemon at socketPath. An empty path selects
// DefaultSocketPath.
func New(socketPath string, opts ...Option) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	c := &Client{socketPath: socketPath, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// roundTrip performs one request/reply exchange.
func (c *Client) roundTrip(reqType string, payload interface{}) (*protocol.Envelope, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))
	if err := protocol.WriteEnvelope(conn, reqType, payload); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	env, err := protocol.NewLineReader(conn).ReadEnvelope()
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}
	if env.Type == protocol.TypeError {
		var info protocol.ErrorInfo
		if json.Unmarshal(env.Payload, &info) == nil && info.Error != "" {
			return nil, fmt.Errorf("daemon error: %s", info.Error)
		}
		return nil, fmt.Errorf("daemon error")
	}
	return env, nil
}

// Ping checks that the daemon is alive.
func (c *Client) Ping() error {
	env, err := c.roundTrip(protocol.TypePing, nil)
	if err != nil {
		return err
	}
	if env.Type != protocol.TypePong {
		return fmt.Errorf("unexpected reply type %q", env.Type)
	}
	return nil
}

// IsRunning reports whether a daemon answers on the socket.
func (c *Client) IsRunning() bool {
	return c.Ping() == nil
}

// Command submits one command for a session and returns its result. The
// result's Success and Error fields carry command-level failures; the
// returned error covers transport problems only.
func (c *Client) Command(cmd protocol.Command) (*protocol.CommandResult, error) {
	env, err := c.roundTrip(protocol.TypeCommand, cmd)
	if err != nil {
		return nil, err
	}
	if env.Type != protocol.TypeResponse {
		return nil, fmt.Errorf("unexpected reply type %q", env.Type)
	}
	var result protocol.CommandResult
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}

// GetEndpoint returns the WebSocket endpoint extensions connect to.
func (c *Client) GetEndpoint() (*protocol.EndpointInfo, error) {
	env, err := c.roundTrip(protocol.TypeGetEndpoint, nil)
	if err != nil {
		return nil, err
	}
	if env.Type != protocol.TypeEndpoint {
		return nil, fmt.Errorf("unexpected reply type %q", env.Type)
	}
	var info protocol.EndpointInfo
	if err := json.Unmarshal(env.Payload, &info); err != nil {
		return nil, fmt.Errorf("failed to decode endpoint: %w", err)
	}
	return &info, nil
}

// RegisterExtension pre-creates a session awaiting an extension and returns
// the session id plus the endpoint the extension should dial.
func (c *Client) RegisterExtension() (*protocol.RegistrationInfo, error) {
	env, err := c.roundTrip(protocol.TypeRegisterExtension, nil)
	if err != nil {
		return nil, err
	}
	if env.Type != protocol.TypeRegistration {
		return nil, fmt.Errorf("unexpected reply type %q", env.Type)
	}
	var info protocol.RegistrationInfo
	if err := json.Unmarshal(env.Payload, &info); err != nil {
		return nil, fmt.Errorf("failed to decode registration: %w", err)
	}
	return &info, nil
}

// ListSessions returns every live session, oldest first.
func (c *Client) ListSessions() ([]protocol.SessionInfo, error) {
	env, err := c.roundTrip(protocol.TypeListSessions, nil)
	if err != nil {
		return nil, err
	}
	if env.Type != protocol.TypeSessions {
		return nil, fmt.Errorf("unexpected reply type %q", env.Type)
	}
	var payload struct {
		Sessions []protocol.SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return payload.Sessions, nil
}
