// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session owns the session registry and its state machine. A session
// is the one-to-one binding between a browser window and a daemon-side
// coordination unit; every other component refers to it by opaque id.
package session

import "time"

// State is a session lifecycle state.
type State string

const (
	// StatePending: created, no browser yet.
	StatePending State = "pending"
	// StateAwaitingExtension: a browser has been (or is being) launched and
	// its extension is expected to connect.
	StateAwaitingExtension State = "awaiting_extension"
	// StateConnected: an extension channel is attached and healthy.
	StateConnected State = "connected"
	// StateDisconnected: was connected, channel lost; reattach is possible.
	StateDisconnected State = "disconnected"
	// StateClosed: terminal.
	StateClosed State = "closed"
)

// Session is one addressable browser-window binding. Values handed out by the
// registry are snapshots; the registry owns the live record.
type Session struct {
	ID        string
	Name      string
	State     State
	CreatedAt time.Time
	// ChannelID is the opaque id of the attached extension channel, or ""
	// when no channel is attached. Lookup only, never lifetime.
	ChannelID string
}

// Attached reports whether an extension channel is attached.
func (s Session) Attached() bool {
	return s.ChannelID != ""
}
