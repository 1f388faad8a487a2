// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire types spoken on the local client socket
// and on the extension channel, plus the two frame codecs used to carry them.
package protocol

import "encoding/json"

// Envelope wraps every message on the local client socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client-to-daemon envelope types.
const (
	TypePing              = "ping"
	TypeCommand           = "command"
	TypeGetEndpoint       = "get_endpoint"
	TypeRegisterExtension = "register_extension"
	TypeListSessions      = "list_sessions"
)

// Daemon-to-client envelope types.
const (
	TypePong         = "pong"
	TypeResponse     = "response"
	TypeEndpoint     = "endpoint"
	TypeRegistration = "registration"
	TypeSessions     = "sessions"
	TypeError        = "error"
)

// Command is a client-submitted unit of automation work directed at a session.
// Commands never mutate after submission.
type Command struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"sessionId"`
	Type      string                 `json:"type"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// CommandResult is the terminal outcome of a command.
type CommandResult struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ExtensionCommand is the extension-facing command shape. It is sent on the
// channel without an envelope.
type ExtensionCommand struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// RegisterMessage is the first message an extension sends after connecting.
type RegisterMessage struct {
	Type            string `json:"type"`
	WindowID        int    `json:"windowId"`
	CachedSessionID string `json:"cachedSessionId,omitempty"`
}

// SessionAssigned tells the extension which session its connection serves.
type SessionAssigned struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// EndpointInfo describes the WebSocket endpoint for extension channels.
type EndpointInfo struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// RegistrationInfo is the reply to register_extension: the session the
// extension should connect as, plus the channel endpoint.
type RegistrationInfo struct {
	SessionID string `json:"sessionId"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
}

// SessionInfo is one entry in a list_sessions reply.
type SessionInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	CreatedAt string `json:"createdAt"`
}

// ErrorInfo is the payload of an error envelope.
type ErrorInfo struct {
	Error string `json:"error"`
}

// Extension channel close codes.
const (
	CloseNormal           = 1000 // server shutting down
	CloseProtocolError    = 4000 // protocol error / not ready
	CloseSessionTakenOver = 4001 // new connection for session
	CloseHeartbeatTimeout = 4002 // heartbeat timeout
)

// commandTypes is the closed command vocabulary. The router rejects anything
// not listed here.
var commandTypes = map[string]bool{
	// navigation
	"navigate": true,
	"open":     true,
	"back":     true,
	"forward":  true,
	"reload":   true,
	"close":    true,
	// snapshot
	"snapshot": true,
	// element interactions
	"click":    true,
	"dblclick": true,
	"fill":     true,
	"type":     true,
	"press":    true,
	"hover":    true,
	"focus":    true,
	"check":    true,
	"uncheck":  true,
	"select":   true,
	// scroll
	"scroll":         true,
	"scrollintoview": true,
	// queries
	"get":  true,
	"is":   true,
	"find": true,
	// advanced
	"drag":   true,
	"upload": true,
	"mouse":  true,
	"wait":   true,
	// tab management
	"tab":        true,
	"tab_new":    true,
	"tab_close":  true,
	"tab_switch": true,
	"tab_list":   true,
	// capture
	"screenshot": true,
	"pdf":        true,
	// scripting
	"eval": true,
}

// ValidCommandType reports whether t is part of the command vocabulary.
func ValidCommandType(t string) bool {
	return commandTypes[t]
}
