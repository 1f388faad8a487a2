// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package channel runs the WebSocket server that browser extensions connect
// to. Each accepted connection registers, gets bound to exactly one session,
// and then carries command traffic and heartbeats until it drops.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/browserd/browserd/internal/config"
	"github.com/browserd/browserd/internal/events"
	"github.com/browserd/browserd/internal/protocol"
	"github.com/browserd/browserd/internal/session"
)

const (
	registerTimeout = 10 * time.Second

	// maxMalformed is the number of undecodable frames tolerated on one
	// connection before it is closed as a protocol error.
	maxMalformed = 5
)

// ErrNoChannel is returned by SendCommand when the session has no live
// extension connection.
var ErrNoChannel = errors.New("no extension channel attached")

// Server accepts extension connections, runs the registration handshake and
// owns the session-to-channel table.
type Server struct {
	cfg      config.ServerConfig
	registry *session.Registry
	bus      events.EventBus
	log      logrus.FieldLogger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	channels map[string]*Channel // session id -> live channel
	stopping bool

	listener net.Listener
	httpSrv  *http.Server
}

// NewServer creates a channel server. Start must be called before use.
func NewServer(cfg config.ServerConfig, registry *session.Registry, bus events.EventBus, log logrus.FieldLogger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		bus:      bus,
		log:      log.WithField("component", "channel"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Connections only come from the local extension; the Origin
			// header is browser-controlled and not meaningful here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		channels: make(map[string]*Channel),
	}
}

// Start binds the listener and begins serving. Port 0 picks a free port;
// Endpoint reports the bound address.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.WSHost, strconv.Itoa(s.cfg.WSPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind extension endpoint %s: %w", addr, err)
	}
	s.listener = ln

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.httpSrv = &http.Server{Handler: r}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("Extension endpoint stopped")
		}
	}()

	host, port := s.Endpoint()
	s.log.WithFields(logrus.Fields{"host": host, "port": port}).Info("Extension endpoint listening")
	return nil
}

// Endpoint returns the bound host and port.
func (s *Server) Endpoint() (string, int) {
	if s.listener == nil {
		return s.cfg.WSHost, s.cfg.WSPort
	}
	tcpAddr := s.listener.Addr().(*net.TCPAddr)
	host := s.cfg.WSHost
	if host == "" {
		host = "127.0.0.1"
	}
	return host, tcpAddr.Port
}

// Stop closes every live channel with a normal close and shuts the listener
// down. Safe to call once.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopping = true
	chans := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		chans = append(chans, ch)
	}
	s.channels = make(map[string]*Channel)
	s.mu.Unlock()

	for _, ch := range chans {
		ch.Close(protocol.CloseNormal, "server shutting down")
	}

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// SendCommand writes one message to the session's extension channel. A
// channel that has not finished its registration handshake does not count.
func (s *Server) SendCommand(sessionID string, msg interface{}) error {
	s.mu.Lock()
	ch := s.channels[sessionID]
	s.mu.Unlock()
	if ch == nil || !ch.ready.Load() {
		return ErrNoChannel
	}
	return ch.writeJSON(msg)
}

// HasChannel reports whether the session has a live extension connection
// whose registration handshake has completed.
func (s *Server) HasChannel(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channels[sessionID]
	return ch != nil && ch.ready.Load()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"sessions": s.registry.Count(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	reg, err := s.readRegistration(conn)
	if err != nil {
		s.log.WithError(err).Warn("Registration failed, closing connection")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(protocol.CloseProtocolError, "registration required"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	sessionID := s.resolveSession(reg)
	ch := newChannel(uuid.NewString(), sessionID, conn, s.cfg.HeartbeatIntervalDuration(), s.cfg.HeartbeatTimeoutDuration(), s.log)

	if !s.bindChannel(ch) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(protocol.CloseProtocolError, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	if err := ch.writeJSON(protocol.SessionAssigned{Type: "session_assigned", SessionID: sessionID}); err != nil {
		s.log.WithError(err).Warn("Failed to send session assignment")
		ch.Close(protocol.CloseProtocolError, "write failed")
		s.teardown(ch)
		return
	}
	// Commands may flow only now that the assignment is on the wire.
	ch.ready.Store(true)

	ch.startHeartbeat()
	s.publish(events.EventExtensionConnected, sessionID, nil)
	s.log.WithFields(logrus.Fields{"session": sessionID, "windowId": reg.WindowID}).Info("Extension connected")

	s.readLoop(ch)
	s.teardown(ch)
}

// readRegistration reads the mandatory first message. Anything that is not a
// well-formed register message within the deadline is a protocol error.
func (s *Server) readRegistration(conn *websocket.Conn) (*protocol.RegisterMessage, error) {
	conn.SetReadDeadline(time.Now().Add(registerTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read registration: %w", err)
	}

	var reg protocol.RegisterMessage
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("invalid registration message: %w", err)
	}
	if reg.Type != "register" {
		return nil, fmt.Errorf("expected register message, got %q", reg.Type)
	}
	return &reg, nil
}

// resolveSession picks the session a registering connection serves:
// the oldest session awaiting an extension wins; otherwise a live cached
// session id is honored; otherwise a fresh session is created on the spot.
func (s *Server) resolveSession(reg *protocol.RegisterMessage) string {
	if awaiting := s.registry.ListByState(session.StateAwaitingExtension); len(awaiting) > 0 {
		return awaiting[0].ID
	}
	if reg.CachedSessionID != "" {
		if _, ok := s.registry.Get(reg.CachedSessionID); ok {
			return reg.CachedSessionID
		}
		// Cached id from a previous daemon run or a closed session: the
		// extension is adopted under a fresh session instead.
	}
	return s.registry.Create("").ID
}

// bindChannel installs ch as the session's connection, displacing any
// previous one with a takeover close. The map swap and the registry rebind
// happen under one lock so a racing teardown of the old channel sees a
// consistent picture. Returns false during shutdown.
func (s *Server) bindChannel(ch *Channel) bool {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return false
	}
	old := s.channels[ch.sessionID]
	s.channels[ch.sessionID] = ch
	if old != nil {
		s.registry.DetachExtension(ch.sessionID)
	}
	if err := s.registry.AttachExtension(ch.sessionID, ch.id); err != nil {
		s.log.WithError(err).WithField("session", ch.sessionID).Error("Failed to attach channel")
	}
	s.registry.SetState(ch.sessionID, session.StateConnected)
	s.mu.Unlock()

	if old != nil {
		old.Close(protocol.CloseSessionTakenOver, "new connection for session")
		s.log.WithField("session", ch.sessionID).Info("Extension channel taken over by new connection")
	}
	return true
}

// teardown runs after a channel's read loop exits. Only the session's
// current channel may detach the registry binding and report the
// disconnect; a superseded or stale channel must leave the replacement's
// state alone, so the ownership check and the registry mutations share one
// critical section.
func (s *Server) teardown(ch *Channel) {
	ch.Close(protocol.CloseProtocolError, "connection lost")
	ch.stopTimers()

	s.mu.Lock()
	if s.stopping || s.channels[ch.sessionID] != ch {
		s.mu.Unlock()
		return
	}
	delete(s.channels, ch.sessionID)
	s.registry.DetachExtension(ch.sessionID)
	s.registry.SetState(ch.sessionID, session.StateDisconnected)
	s.publish(events.EventExtensionDisconnected, ch.sessionID, nil)
	s.mu.Unlock()

	s.log.WithField("session", ch.sessionID).Info("Extension disconnected")
}

// inboundMessage is the shape probe for extension traffic. Responses arrive
// either wrapped ({"type":"response","payload":{...}}) or bare ({"id":...,
// "success":...}); both are accepted.
type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) readLoop(ch *Channel) {
	malformed := 0
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			malformed++
			ch.log.WithError(err).Debug("Dropping malformed frame")
			if malformed >= maxMalformed {
				ch.Close(protocol.CloseProtocolError, "too many malformed frames")
				return
			}
			continue
		}

		switch msg.Type {
		case "pong":
			ch.handlePong()
		case "ping":
			if err := ch.writeJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		case "response":
			var result protocol.CommandResult
			if err := json.Unmarshal(msg.Payload, &result); err != nil || result.ID == "" {
				ch.log.Debug("Dropping response with unusable payload")
				continue
			}
			s.publishResponse(ch.sessionID, result)
		case "":
			// Bare result, no type field.
			if msg.ID != "" && msg.Success != nil {
				s.publishResponse(ch.sessionID, protocol.CommandResult{
					ID:      msg.ID,
					Success: *msg.Success,
					Data:    msg.Data,
					Error:   msg.Error,
				})
				continue
			}
			ch.log.Debug("Dropping untyped frame")
		default:
			ch.log.WithField("type", msg.Type).Debug("Dropping frame with unknown type")
		}
	}
}

func (s *Server) publishResponse(sessionID string, result protocol.CommandResult) {
	s.publish(events.EventExtensionResponse, sessionID, map[string]interface{}{
		"response": result,
	})
}

func (s *Server) publish(eventType, sessionID string, payload map[string]interface{}) {
	if err := s.bus.Publish(context.Background(), events.Event{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   payload,
	}); err != nil {
		s.log.WithError(err).WithField("event", eventType).Debug("Event publish failed")
	}
}
