// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the in-process event bus that carries extension
// channel notifications between the channel server and the command router.
package events

import (
	"context"
	"time"
)

// Event types published by the extension channel server.
const (
	EventExtensionConnected    = "extension.connected"
	EventExtensionDisconnected = "extension.disconnected"
	EventExtensionResponse     = "extension.response"
)

// Event is one notification on the bus. SessionID identifies the session the
// event concerns; Payload carries event-specific data.
type Event struct {
	ID        string
	Type      string
	SessionID string
	Timestamp time.Time
	Payload   map[string]interface{}
}

// EventHandler processes a single event. Handlers run synchronously on the
// publisher's goroutine; panics are recovered and logged.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID identifies a subscription for removal.
type SubscriptionID string

// EventBus is the pub/sub contract between daemon components.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	Close() error
}
