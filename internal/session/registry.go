// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for operations on unknown or closed session ids.
var ErrNotFound = errors.New("session not found")

// ErrAlreadyAttached is returned when attaching a channel to a session that
// already has one. The caller must tear the existing channel down first.
var ErrAlreadyAttached = errors.New("session already has an attached channel")

// Registry owns all session records. Ids are uuids and are never reused
// within the process lifetime. All methods are safe for concurrent use and
// never suspend.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	seq      uint64 // creation order tie-breaker for equal timestamps
	order    map[string]uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		order:    make(map[string]uint64),
	}
}

// Create atomically creates a new session in the pending state. An empty name
// gets a window-<timestamp> default.
func (r *Registry) Create(name string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if name == "" {
		name = fmt.Sprintf("window-%d", now.UnixMilli())
	}

	s := &Session{
		ID:        uuid.NewString(),
		Name:      name,
		State:     StatePending,
		CreatedAt: now,
	}
	r.seq++
	r.sessions[s.ID] = s
	r.order[s.ID] = r.seq
	return *s
}

// Get returns a snapshot of the session, or false if the id is unknown.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ListByState returns snapshots of all sessions in the given state, oldest
// first by creation order.
func (r *Registry) ListByState(state State) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Session
	for _, s := range r.sessions {
		if s.State == state {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return r.order[result[i].ID] < r.order[result[j].ID]
	})
	return result
}

// List returns snapshots of all sessions, oldest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool {
		return r.order[result[i].ID] < r.order[result[j].ID]
	})
	return result
}

// SetState moves a session to the given state.
func (r *Registry) SetState(id string, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.State = state
	return nil
}

// AttachExtension binds an extension channel (by opaque id) to the session.
// At most one channel may be attached at any instant; a second attach is
// rejected until DetachExtension runs.
func (r *Registry) AttachExtension(id, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.ChannelID != "" {
		return ErrAlreadyAttached
	}
	s.ChannelID = channelID
	return nil
}

// DetachExtension clears the session's channel binding.
func (r *Registry) DetachExtension(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.ChannelID = ""
	return nil
}

// Close destroys the session. The id is never handed out again; subsequent
// operations on it return ErrNotFound.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.State = StateClosed
	delete(r.sessions, id)
	delete(r.order, id)
	return nil
}

// CloseAll destroys every session. Used on daemon shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		s.State = StateClosed
		delete(r.sessions, id)
		delete(r.order, id)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
