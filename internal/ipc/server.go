// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ipc serves local clients over a unix domain socket. Each
// connection carries exactly one request envelope and receives exactly one
// reply; the daemon closes the connection after writing it.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/browserd/browserd/internal/protocol"
	"github.com/browserd/browserd/internal/session"
)

// connTimeout bounds how long one client connection may take to deliver its
// request. Command execution itself is bounded by the router, not here.
const connTimeout = 10 * time.Second

// CommandHandler runs one command to completion.
type CommandHandler interface {
	SubmitCommand(ctx context.Context, cmd protocol.Command) protocol.CommandResult
}

// EndpointProvider reports where extensions connect.
type EndpointProvider interface {
	Endpoint() (string, int)
}

// Server is the unix-socket listener for CLI clients.
type Server struct {
	path     string
	registry *session.Registry
	handler  CommandHandler
	endpoint EndpointProvider
	log      logrus.FieldLogger

	listener net.Listener
	wg       sync.WaitGroup

	mu      sync.Mutex
	closing bool
}

// NewServer creates an ipc server bound to path once Start runs.
func NewServer(path string, registry *session.Registry, handler CommandHandler, endpoint EndpointProvider, log logrus.FieldLogger) *Server {
	return &Server{
		path:     path,
		registry: registry,
		handler:  handler,
		endpoint: endpoint,
		log:      log.WithField("component", "ipc"),
	}
}

// Start binds the socket and begins accepting. A leftover socket file from a
// dead daemon is removed; a live one means another daemon owns the path.
func (s *Server) Start() error {
	if err := s.cleanupStaleSocket(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to bind client socket %s: %w", s.path, err)
	}
	// Same-user access only.
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		os.Remove(s.path)
		return fmt.Errorf("failed to restrict client socket permissions: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.WithField("path", s.path).Info("Client socket listening")
	return nil
}

// cleanupStaleSocket removes a socket file nobody answers on.
func (s *Server) cleanupStaleSocket() error {
	if _, err := os.Stat(s.path); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", s.path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is in use by another daemon", s.path)
	}
	s.log.WithField("path", s.path).Info("Removing stale client socket")
	return os.Remove(s.path)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Warn("Accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop closes the listener, waits for in-flight connections and removes the
// socket file.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.path)
	return nil
}

// handleConn serves one request/reply exchange, then closes.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(connTimeout))

	env, err := protocol.NewLineReader(conn).ReadEnvelope()
	if err != nil {
		if err == io.EOF {
			return
		}
		s.log.WithError(err).Debug("Rejecting malformed client request")
		s.writeError(conn, err.Error())
		return
	}
	conn.SetReadDeadline(time.Time{})

	switch env.Type {
	case protocol.TypePing:
		s.write(conn, protocol.TypePong, nil)

	case protocol.TypeCommand:
		s.handleCommand(conn, env)

	case protocol.TypeGetEndpoint:
		ip, port := s.endpoint.Endpoint()
		s.write(conn, protocol.TypeEndpoint, protocol.EndpointInfo{IP: ip, Port: port})

	case protocol.TypeRegisterExtension:
		s.handleRegisterExtension(conn)

	case protocol.TypeListSessions:
		s.handleListSessions(conn)

	default:
		s.writeError(conn, fmt.Sprintf("unknown request type: %s", env.Type))
	}
}

func (s *Server) handleCommand(conn net.Conn, env *protocol.Envelope) {
	cmd, err := protocol.DecodeCommand(env.Payload)
	if err != nil {
		s.writeError(conn, err.Error())
		return
	}
	result := s.handler.SubmitCommand(context.Background(), *cmd)
	s.write(conn, protocol.TypeResponse, result)
}

// handleRegisterExtension hands out a session expecting an extension and
// tells the caller where the extension should connect. An existing awaiting
// session is reused before a new one is created.
func (s *Server) handleRegisterExtension(conn net.Conn) {
	var sess session.Session
	if awaiting := s.registry.ListByState(session.StateAwaitingExtension); len(awaiting) > 0 {
		sess = awaiting[0]
	} else {
		sess = s.registry.Create("")
		s.registry.SetState(sess.ID, session.StateAwaitingExtension)
	}
	ip, port := s.endpoint.Endpoint()
	s.write(conn, protocol.TypeRegistration, protocol.RegistrationInfo{
		SessionID: sess.ID,
		IP:        ip,
		Port:      port,
	})
}

func (s *Server) handleListSessions(conn net.Conn) {
	sessions := s.registry.List()
	infos := make([]protocol.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, protocol.SessionInfo{
			ID:        sess.ID,
			Name:      sess.Name,
			State:     string(sess.State),
			CreatedAt: sess.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.write(conn, protocol.TypeSessions, map[string]interface{}{"sessions": infos})
}

func (s *Server) write(conn net.Conn, typ string, payload interface{}) {
	conn.SetWriteDeadline(time.Now().Add(connTimeout))
	if err := protocol.WriteEnvelope(conn, typ, payload); err != nil {
		s.log.WithError(err).Debug("Failed to write reply")
	}
}

func (s *Server) writeError(conn net.Conn, msg string) {
	s.write(conn, protocol.TypeError, protocol.ErrorInfo{Error: msg})
}
