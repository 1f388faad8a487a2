// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/browserd/browserd/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Channel is one live extension connection bound to a session. It owns the
// heartbeat timers and the single-writer discipline for the underlying
// WebSocket (gorilla/websocket requires one writer at a time).
type Channel struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	log       logrus.FieldLogger

	hbInterval time.Duration
	hbTimeout  time.Duration

	// Mutex to protect concurrent WebSocket writes
	writeMu sync.Mutex

	mu              sync.Mutex
	pingOutstanding bool
	lastPongAt      time.Time
	hbDeadline      *time.Timer

	done      chan struct{}
	closeOnce sync.Once

	// ready is set once the registration reply has been written. Until then
	// the channel is invisible to senders, so no command frame can precede
	// session_assigned on the wire.
	ready atomic.Bool
}

func newChannel(id, sessionID string, conn *websocket.Conn, hbInterval, hbTimeout time.Duration, log logrus.FieldLogger) *Channel {
	return &Channel{
		id:         id,
		sessionID:  sessionID,
		conn:       conn,
		log:        log.WithField("channel", id).WithField("session", sessionID),
		hbInterval: hbInterval,
		hbTimeout:  hbTimeout,
		done:       make(chan struct{}),
	}
}

// SessionID returns the session this channel serves.
func (c *Channel) SessionID() string { return c.sessionID }

// ID returns the channel's opaque id.
func (c *Channel) ID() string { return c.id }

// LastPongAt returns the monotonic time of the latest acknowledgement.
func (c *Channel) LastPongAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPongAt
}

// writeJSON writes one JSON message under the single-writer mutex.
func (c *Channel) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// startHeartbeat begins the ping cadence. On each tick, if no ping is
// outstanding, a ping is sent and a deadline timer armed; only an explicit
// pong cancels the deadline. A missed deadline closes the channel with 4002.
func (c *Channel) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(c.hbInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sendPing()
			case <-c.done:
				return
			}
		}
	}()
}

func (c *Channel) sendPing() {
	c.mu.Lock()
	if c.pingOutstanding {
		c.mu.Unlock()
		return
	}
	c.pingOutstanding = true
	c.hbDeadline = time.AfterFunc(c.hbTimeout, c.heartbeatExpired)
	c.mu.Unlock()

	if err := c.writeJSON(map[string]string{"type": "ping"}); err != nil {
		c.log.WithError(err).Debug("heartbeat ping write failed")
		c.Close(protocol.CloseProtocolError, "write failed")
	}
}

func (c *Channel) heartbeatExpired() {
	c.log.Warn("heartbeat timeout, closing channel")
	c.Close(protocol.CloseHeartbeatTimeout, "heartbeat timeout")
}

// handlePong records the acknowledgement and disarms the deadline. Only
// explicit pongs count as liveness; other traffic does not.
func (c *Channel) handlePong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingOutstanding = false
	c.lastPongAt = time.Now()
	if c.hbDeadline != nil {
		c.hbDeadline.Stop()
		c.hbDeadline = nil
	}
}

// stopTimers cancels the heartbeat machinery. Safe to call on every exit path.
func (c *Channel) stopTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hbDeadline != nil {
		c.hbDeadline.Stop()
		c.hbDeadline = nil
	}
}

// Close sends a close frame with the given code and closes the connection.
// Idempotent; the read loop unblocks and runs the server's teardown.
func (c *Channel) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
		close(c.done)
	})
}
