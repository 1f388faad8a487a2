// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// ErrSubscriptionNotFound is returned when unsubscribing with invalid ID.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// ErrBadPattern is returned for an invalid subscription pattern.
var ErrBadPattern = errors.New("invalid subscription pattern")

// MemoryEventBus is an in-memory event bus. Delivery is synchronous: Publish
// returns after every matching handler has run, which is what the router's
// ordering guarantees rely on.
type MemoryEventBus struct {
	mu            sync.RWMutex
	subscriptions map[SubscriptionID]*subscription
	closed        atomic.Bool
	nextID        uint64
}

type subscription struct {
	id      SubscriptionID
	pattern string
	handler EventHandler
}

// NewMemoryEventBus creates a new in-memory event bus.
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{
		subscriptions: make(map[SubscriptionID]*subscription),
	}
}

// Publish emits an event to all matching subscribers.
func (bus *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	if bus.closed.Load() {
		return ErrBusClosed
	}

	if event.ID == "" {
		event.ID = bus.generateID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	bus.mu.RLock()
	subs := make([]*subscription, 0, len(bus.subscriptions))
	for _, sub := range bus.subscriptions {
		subs = append(subs, sub)
	}
	bus.mu.RUnlock()

	for _, sub := range subs {
		if !matchPattern(sub.pattern, event.Type) {
			continue
		}
		// Synchronous call with panic protection
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Event handler panic for %s: %v", event.Type, r)
				}
			}()
			sub.handler(ctx, event)
		}()
	}

	return nil
}

// Subscribe registers a synchronous handler for events matching pattern.
// A pattern is either an exact event type or a prefix ending in ".*"
// (e.g. "extension.*").
func (bus *MemoryEventBus) Subscribe(pattern string, handler EventHandler) (SubscriptionID, error) {
	if bus.closed.Load() {
		return "", ErrBusClosed
	}
	if pattern == "" {
		return "", ErrBadPattern
	}

	id := SubscriptionID(bus.generateID())

	bus.mu.Lock()
	bus.subscriptions[id] = &subscription{
		id:      id,
		pattern: pattern,
		handler: handler,
	}
	bus.mu.Unlock()

	return id, nil
}

// Unsubscribe removes a subscription.
func (bus *MemoryEventBus) Unsubscribe(id SubscriptionID) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if _, ok := bus.subscriptions[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(bus.subscriptions, id)
	return nil
}

// Close shuts down the event bus. Publish and Subscribe fail afterwards.
func (bus *MemoryEventBus) Close() error {
	if bus.closed.Swap(true) {
		return nil // Already closed
	}

	bus.mu.Lock()
	bus.subscriptions = make(map[SubscriptionID]*subscription)
	bus.mu.Unlock()

	return nil
}

// matchPattern reports whether an event type matches a subscription pattern.
func matchPattern(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return pattern == eventType
}

// generateID generates a unique ID.
func (bus *MemoryEventBus) generateID() string {
	n := atomic.AddUint64(&bus.nextID, 1)
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b) + "-" + strconv.FormatUint(n, 10)
}
