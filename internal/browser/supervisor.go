// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package browser launches and tracks one browser process per session.
package browser

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	ps "github.com/mitchellh/go-ps"
	"github.com/sirupsen/logrus"

	"github.com/browserd/browserd/internal/config"
)

// Handle is a started browser process.
type Handle struct {
	PID  int
	Kill func() error
	Wait func() error
}

// Executor starts browser processes. Tests swap in a fake.
type Executor interface {
	Start(command []string, env map[string]string) (*Handle, error)
}

// RealExecutor launches browsers with os/exec.
type RealExecutor struct{}

// Start launches command with the daemon's environment plus env overrides.
// The child gets its own process group so killing it takes helpers with it.
func (RealExecutor) Start(command []string, env map[string]string) (*Handle, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("no browser command configured")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	pid := cmd.Process.Pid
	return &Handle{
		PID: pid,
		Kill: func() error {
			// Negative pid signals the whole process group.
			return syscall.Kill(-pid, syscall.SIGTERM)
		},
		Wait: cmd.Wait,
	}, nil
}

// Supervisor tracks the browser process belonging to each session.
type Supervisor struct {
	cfg      config.BrowserConfig
	executor Executor
	log      logrus.FieldLogger

	// Endpoint the launched browser's extension should dial back to,
	// exported to the child through environment variables.
	wsHost string
	wsPort int

	mu       sync.Mutex
	browsers map[string]*Handle // session id -> process
}

// NewSupervisor creates a supervisor that launches browsers pointing their
// extensions at the given channel endpoint.
func NewSupervisor(cfg config.BrowserConfig, executor Executor, wsHost string, wsPort int, log logrus.FieldLogger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		executor: executor,
		log:      log.WithField("component", "browser"),
		wsHost:   wsHost,
		wsPort:   wsPort,
		browsers: make(map[string]*Handle),
	}
}

// HasBrowser reports whether the session's browser process is still alive.
// A recorded pid is verified against the process table; stale entries are
// dropped on the spot.
func (s *Supervisor) HasBrowser(sessionID string) bool {
	s.mu.Lock()
	h := s.browsers[sessionID]
	s.mu.Unlock()
	if h == nil {
		return false
	}

	proc, err := ps.FindProcess(h.PID)
	if err != nil || proc == nil {
		s.mu.Lock()
		if s.browsers[sessionID] == h {
			delete(s.browsers, sessionID)
		}
		s.mu.Unlock()
		return false
	}
	return true
}

// LaunchBrowser starts a browser for the session. The session id and the
// channel endpoint are handed to the child via BROWSERD_* environment
// variables so the extension knows where to register.
func (s *Supervisor) LaunchBrowser(sessionID string) error {
	command := s.cfg.GetCommand()
	if len(command) == 0 {
		return fmt.Errorf("no browser command configured")
	}
	command = append(command, s.cfg.Args...)

	env := map[string]string{
		"BROWSERD_SESSION_ID": sessionID,
		"BROWSERD_WS_HOST":    s.wsHost,
		"BROWSERD_WS_PORT":    fmt.Sprintf("%d", s.wsPort),
	}
	for k, v := range s.cfg.Env {
		env[k] = v
	}

	h, err := s.executor.Start(command, env)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	s.mu.Lock()
	s.browsers[sessionID] = h
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"session": sessionID, "pid": h.PID}).Info("Browser launched")

	// Reap the child so it never lingers as a zombie.
	go func() {
		if h.Wait != nil {
			h.Wait()
		}
		s.mu.Lock()
		if s.browsers[sessionID] == h {
			delete(s.browsers, sessionID)
		}
		s.mu.Unlock()
		s.log.WithFields(logrus.Fields{"session": sessionID, "pid": h.PID}).Debug("Browser exited")
	}()

	return nil
}

// KillBrowser terminates the session's browser. Best effort; the process may
// already be gone.
func (s *Supervisor) KillBrowser(sessionID string) error {
	s.mu.Lock()
	h := s.browsers[sessionID]
	delete(s.browsers, sessionID)
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	s.log.WithFields(logrus.Fields{"session": sessionID, "pid": h.PID}).Info("Killing browser")
	if h.Kill != nil {
		if err := h.Kill(); err != nil {
			s.log.WithError(err).Debug("Browser kill failed, process likely already exited")
		}
	}
	return nil
}

// Count returns the number of tracked browser processes.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.browsers)
}
