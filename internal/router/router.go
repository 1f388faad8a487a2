// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package router dispatches client commands to extension channels. It
// enforces at most one in-flight command per session, queues the rest in
// arrival order, applies per-command deadlines and launches a browser when a
// session has none.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/browserd/browserd/internal/config"
	"github.com/browserd/browserd/internal/protocol"
	"github.com/browserd/browserd/internal/session"
)

// Stable error strings surfaced to clients.
const (
	errSessionNotFound = "Session not found"
	errLaunchFailed    = "Failed to launch browser"
	errConnectTimeout  = "Extension did not connect in time"
	errSendFailed      = "Failed to send command to extension"
	errCommandTimeout  = "Command timed out"
	errDisconnected    = "Extension disconnected"
	errShuttingDown    = "Command cancelled: daemon shutting down"
)

// ChannelSender is the slice of the channel server the router needs.
type ChannelSender interface {
	SendCommand(sessionID string, msg interface{}) error
	HasChannel(sessionID string) bool
}

// Supervisor launches and kills browsers for sessions.
type Supervisor interface {
	HasBrowser(sessionID string) bool
	LaunchBrowser(sessionID string) error
	KillBrowser(sessionID string) error
}

type pendingEntry struct {
	cmd   protocol.Command
	done  chan protocol.CommandResult // buffered, capacity 1
	timer *time.Timer
}

type queuedCommand struct {
	cmd  protocol.Command
	done chan protocol.CommandResult
}

// Router owns the per-session dispatch state.
type Router struct {
	cfg      config.ServerConfig
	registry *session.Registry
	sender   ChannelSender
	log      logrus.FieldLogger

	mu         sync.Mutex
	supervisor Supervisor
	pending    map[string]*pendingEntry
	queues     map[string][]*queuedCommand
	waiters    map[string][]chan struct{} // connection waiters per session
	closed     bool
}

// New creates a router. SetSupervisor must be called before commands that
// need a browser launch arrive.
func New(cfg config.ServerConfig, registry *session.Registry, sender ChannelSender, log logrus.FieldLogger) *Router {
	return &Router{
		cfg:      cfg,
		registry: registry,
		sender:   sender,
		log:      log.WithField("component", "router"),
		pending:  make(map[string]*pendingEntry),
		queues:   make(map[string][]*queuedCommand),
		waiters:  make(map[string][]chan struct{}),
	}
}

// SetSupervisor wires the browser supervisor in. Separate from New because
// the supervisor needs the channel endpoint, which exists only after the
// channel server starts.
func (rt *Router) SetSupervisor(sup Supervisor) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.supervisor = sup
}

// SubmitCommand runs one command to completion and returns its result. It
// blocks the caller for the command's full lifetime: behind the queue if the
// session is busy, through a browser launch if the session has no extension,
// and until the extension answers or the deadline fires.
func (rt *Router) SubmitCommand(ctx context.Context, cmd protocol.Command) protocol.CommandResult {
	if cmd.ID == "" {
		return failure(cmd.ID, "Invalid command: missing id")
	}
	if cmd.SessionID == "" {
		return failure(cmd.ID, "Invalid command: missing sessionId")
	}
	if !protocol.ValidCommandType(cmd.Type) {
		return failure(cmd.ID, fmt.Sprintf("Unknown command type: %s", cmd.Type))
	}

	sess, ok := rt.registry.Get(cmd.SessionID)
	if !ok || sess.State == session.StateClosed {
		return failure(cmd.ID, errSessionNotFound)
	}

	if result, ok := rt.ensureConnected(ctx, cmd); !ok {
		return result
	}

	done := make(chan protocol.CommandResult, 1)

	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return failure(cmd.ID, errShuttingDown)
	}
	if _, busy := rt.pending[cmd.SessionID]; busy {
		rt.queues[cmd.SessionID] = append(rt.queues[cmd.SessionID], &queuedCommand{cmd: cmd, done: done})
		rt.mu.Unlock()
	} else {
		rt.installPendingLocked(cmd, done)
		rt.mu.Unlock()
		rt.dispatch(cmd, done)
	}

	return <-done
}

// ensureConnected makes sure the session has a live extension channel,
// launching a browser and waiting for its extension when necessary. Returns
// (failure result, false) when the command cannot proceed.
func (rt *Router) ensureConnected(ctx context.Context, cmd protocol.Command) (protocol.CommandResult, bool) {
	if rt.sender.HasChannel(cmd.SessionID) {
		return protocol.CommandResult{}, true
	}

	rt.mu.Lock()
	sup := rt.supervisor
	rt.mu.Unlock()
	if sup == nil {
		return failure(cmd.ID, errDisconnected), false
	}

	if !sup.HasBrowser(cmd.SessionID) {
		rt.registry.SetState(cmd.SessionID, session.StateAwaitingExtension)
		rt.log.WithField("session", cmd.SessionID).Info("Launching browser for session")
		if err := sup.LaunchBrowser(cmd.SessionID); err != nil {
			rt.log.WithError(err).WithField("session", cmd.SessionID).Error("Browser launch failed")
			rt.registry.SetState(cmd.SessionID, session.StateDisconnected)
			return failure(cmd.ID, errLaunchFailed), false
		}
	}

	if err := rt.waitForConnection(ctx, cmd.SessionID); err != nil {
		rt.log.WithField("session", cmd.SessionID).Warn("Extension did not connect before deadline")
		sup.KillBrowser(cmd.SessionID)
		rt.registry.SetState(cmd.SessionID, session.StateDisconnected)
		return failure(cmd.ID, errConnectTimeout), false
	}
	return protocol.CommandResult{}, true
}

// waitForConnection blocks until the session's extension connects, the
// launch deadline passes, or ctx is cancelled.
func (rt *Router) waitForConnection(ctx context.Context, sessionID string) error {
	ready := make(chan struct{})

	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return fmt.Errorf("router closed")
	}
	rt.waiters[sessionID] = append(rt.waiters[sessionID], ready)
	rt.mu.Unlock()

	// Connection may have raced the waiter registration.
	if rt.sender.HasChannel(sessionID) {
		rt.removeWaiter(sessionID, ready)
		return nil
	}

	timer := time.NewTimer(rt.cfg.BrowserLaunchTimeoutDuration())
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-timer.C:
		rt.removeWaiter(sessionID, ready)
		return fmt.Errorf("extension connect deadline passed")
	case <-ctx.Done():
		rt.removeWaiter(sessionID, ready)
		return ctx.Err()
	}
}

func (rt *Router) removeWaiter(sessionID string, ready chan struct{}) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ws := rt.waiters[sessionID]
	for i, w := range ws {
		if w == ready {
			rt.waiters[sessionID] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

// installPendingLocked records cmd as the session's in-flight command and
// arms its deadline. Caller holds rt.mu.
func (rt *Router) installPendingLocked(cmd protocol.Command, done chan protocol.CommandResult) {
	entry := &pendingEntry{cmd: cmd, done: done}
	entry.timer = time.AfterFunc(rt.cfg.CommandTimeoutDuration(), func() {
		rt.expire(cmd.SessionID, cmd.ID)
	})
	rt.pending[cmd.SessionID] = entry
}

// dispatch sends the already-installed in-flight command to the extension.
// The pending entry is installed before the write so a response cannot
// outrun its bookkeeping.
func (rt *Router) dispatch(cmd protocol.Command, done chan protocol.CommandResult) {
	msg := translate(cmd)
	if err := rt.sender.SendCommand(cmd.SessionID, msg); err != nil {
		rt.log.WithError(err).WithField("session", cmd.SessionID).Warn("Command write failed")
		rt.mu.Lock()
		entry := rt.pending[cmd.SessionID]
		owned := entry != nil && entry.cmd.ID == cmd.ID
		if owned {
			entry.timer.Stop()
			delete(rt.pending, cmd.SessionID)
		}
		rt.mu.Unlock()
		// A disconnect or cancel may already have completed the command;
		// only the goroutine that removed the entry delivers the result.
		if owned {
			done <- failure(cmd.ID, errSendFailed)
		}
		rt.drainNext(cmd.SessionID)
	}
}

// expire fails the in-flight command when its deadline passes. A response
// that arrives later is dropped by HandleResponse.
func (rt *Router) expire(sessionID, cmdID string) {
	rt.mu.Lock()
	entry := rt.pending[sessionID]
	if entry == nil || entry.cmd.ID != cmdID {
		rt.mu.Unlock()
		return
	}
	delete(rt.pending, sessionID)
	rt.mu.Unlock()

	rt.log.WithFields(logrus.Fields{"session": sessionID, "command": cmdID}).Warn("Command timed out")
	entry.done <- failure(cmdID, errCommandTimeout)
	rt.drainNext(sessionID)
}

// HandleResponse matches an extension response to the session's in-flight
// command. Responses for anything else (late, duplicate, unknown) are
// dropped with a debug log.
func (rt *Router) HandleResponse(sessionID string, result protocol.CommandResult) {
	rt.mu.Lock()
	entry := rt.pending[sessionID]
	if entry == nil || entry.cmd.ID != result.ID {
		rt.mu.Unlock()
		rt.log.WithFields(logrus.Fields{"session": sessionID, "command": result.ID}).
			Debug("Dropping response with no matching in-flight command")
		return
	}
	entry.timer.Stop()
	delete(rt.pending, sessionID)
	rt.mu.Unlock()

	entry.done <- result
	rt.drainNext(sessionID)
}

// HandleConnected releases callers waiting for the session's extension.
func (rt *Router) HandleConnected(sessionID string) {
	rt.mu.Lock()
	ws := rt.waiters[sessionID]
	delete(rt.waiters, sessionID)
	rt.mu.Unlock()

	for _, w := range ws {
		close(w)
	}
}

// HandleDisconnected fails the in-flight command and everything queued
// behind it for the session.
func (rt *Router) HandleDisconnected(sessionID string) {
	rt.mu.Lock()
	entry := rt.pending[sessionID]
	delete(rt.pending, sessionID)
	queued := rt.queues[sessionID]
	delete(rt.queues, sessionID)
	rt.mu.Unlock()

	if entry != nil {
		entry.timer.Stop()
		entry.done <- failure(entry.cmd.ID, errDisconnected)
	}
	for _, q := range queued {
		q.done <- failure(q.cmd.ID, errDisconnected)
	}
}

// CancelAll fails every outstanding command and rejects new submissions.
// Called once at shutdown, after the client socket stops accepting.
func (rt *Router) CancelAll() {
	rt.mu.Lock()
	rt.closed = true
	pending := rt.pending
	queues := rt.queues
	waiters := rt.waiters
	rt.pending = make(map[string]*pendingEntry)
	rt.queues = make(map[string][]*queuedCommand)
	rt.waiters = make(map[string][]chan struct{})
	rt.mu.Unlock()

	for _, entry := range pending {
		entry.timer.Stop()
		entry.done <- failure(entry.cmd.ID, errShuttingDown)
	}
	for _, qs := range queues {
		for _, q := range qs {
			q.done <- failure(q.cmd.ID, errShuttingDown)
		}
	}
	for _, ws := range waiters {
		for _, w := range ws {
			close(w)
		}
	}
}

// drainNext promotes the head of the session's queue to in-flight. Runs
// after every completion; loops past commands whose write fails so a dead
// channel cannot wedge the queue.
func (rt *Router) drainNext(sessionID string) {
	for {
		rt.mu.Lock()
		if rt.closed {
			rt.mu.Unlock()
			return
		}
		if _, busy := rt.pending[sessionID]; busy {
			rt.mu.Unlock()
			return
		}
		queue := rt.queues[sessionID]
		if len(queue) == 0 {
			rt.mu.Unlock()
			return
		}
		next := queue[0]
		rt.queues[sessionID] = queue[1:]
		rt.installPendingLocked(next.cmd, next.done)
		rt.mu.Unlock()

		msg := translate(next.cmd)
		if err := rt.sender.SendCommand(sessionID, msg); err != nil {
			rt.log.WithError(err).WithField("session", sessionID).Warn("Queued command write failed")
			rt.mu.Lock()
			entry := rt.pending[sessionID]
			owned := entry != nil && entry.cmd.ID == next.cmd.ID
			if owned {
				entry.timer.Stop()
				delete(rt.pending, sessionID)
			}
			rt.mu.Unlock()
			if owned {
				next.done <- failure(next.cmd.ID, errSendFailed)
			}
			continue
		}
		return
	}
}

// InFlight reports whether the session has an in-flight command.
func (rt *Router) InFlight(sessionID string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, busy := rt.pending[sessionID]
	return busy
}

// QueueLen returns the number of commands queued behind the in-flight one.
func (rt *Router) QueueLen(sessionID string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.queues[sessionID])
}

func failure(id, msg string) protocol.CommandResult {
	return protocol.CommandResult{ID: id, Success: false, Error: msg}
}
