// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package browser

import (
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserd/browserd/internal/config"
)

type fakeExecutor struct {
	mu       sync.Mutex
	startErr error
	commands [][]string
	envs     []map[string]string
	killed   int
	exited   chan struct{} // closed when the fake process "exits"
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{exited: make(chan struct{})}
}

func (f *fakeExecutor) Start(command []string, env map[string]string) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.commands = append(f.commands, command)
	f.envs = append(f.envs, env)

	return &Handle{
		// The test process itself: a pid that is definitely alive.
		PID: os.Getpid(),
		Kill: func() error {
			f.mu.Lock()
			f.killed++
			f.mu.Unlock()
			return nil
		},
		Wait: func() error {
			<-f.exited
			return nil
		},
	}, nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		Command: "test-browser",
		Args:    []string{"--new-window"},
		Env:     map[string]string{"EXTRA": "1"},
	}
}

func TestSupervisor_LaunchBrowser(t *testing.T) {
	exec := newFakeExecutor()
	sup := NewSupervisor(testBrowserConfig(), exec, "127.0.0.1", 9222, testLogger())

	require.NoError(t, sup.LaunchBrowser("s1"))
	assert.True(t, sup.HasBrowser("s1"))
	assert.Equal(t, 1, sup.Count())

	require.Len(t, exec.commands, 1)
	assert.Equal(t, []string{"test-browser", "--new-window"}, exec.commands[0])

	env := exec.envs[0]
	assert.Equal(t, "s1", env["BROWSERD_SESSION_ID"])
	assert.Equal(t, "127.0.0.1", env["BROWSERD_WS_HOST"])
	assert.Equal(t, "9222", env["BROWSERD_WS_PORT"])
	assert.Equal(t, "1", env["EXTRA"])
}

func TestSupervisor_LaunchBrowser_NoCommand(t *testing.T) {
	sup := NewSupervisor(config.BrowserConfig{}, newFakeExecutor(), "127.0.0.1", 9222, testLogger())
	err := sup.LaunchBrowser("s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser command")
}

func TestSupervisor_LaunchBrowser_StartError(t *testing.T) {
	exec := newFakeExecutor()
	exec.startErr = errors.New("exec: not found")
	sup := NewSupervisor(testBrowserConfig(), exec, "127.0.0.1", 9222, testLogger())

	require.Error(t, sup.LaunchBrowser("s1"))
	assert.False(t, sup.HasBrowser("s1"))
}

func TestSupervisor_HasBrowser_Unknown(t *testing.T) {
	sup := NewSupervisor(testBrowserConfig(), newFakeExecutor(), "127.0.0.1", 9222, testLogger())
	assert.False(t, sup.HasBrowser("nope"))
}

func TestSupervisor_HasBrowser_DeadProcessDropped(t *testing.T) {
	exec := newFakeExecutor()
	sup := NewSupervisor(testBrowserConfig(), exec, "127.0.0.1", 9222, testLogger())
	require.NoError(t, sup.LaunchBrowser("s1"))

	// Rewrite the tracked handle to a pid that cannot exist.
	sup.mu.Lock()
	sup.browsers["s1"].PID = 1 << 30
	sup.mu.Unlock()

	assert.False(t, sup.HasBrowser("s1"))
	assert.Equal(t, 0, sup.Count())
}

func TestSupervisor_KillBrowser(t *testing.T) {
	exec := newFakeExecutor()
	sup := NewSupervisor(testBrowserConfig(), exec, "127.0.0.1", 9222, testLogger())
	require.NoError(t, sup.LaunchBrowser("s1"))

	require.NoError(t, sup.KillBrowser("s1"))
	assert.False(t, sup.HasBrowser("s1"))

	exec.mu.Lock()
	assert.Equal(t, 1, exec.killed)
	exec.mu.Unlock()

	// Killing an unknown session is a no-op.
	require.NoError(t, sup.KillBrowser("s1"))
}

func TestSupervisor_ExitedBrowserReaped(t *testing.T) {
	exec := newFakeExecutor()
	sup := NewSupervisor(testBrowserConfig(), exec, "127.0.0.1", 9222, testLogger())
	require.NoError(t, sup.LaunchBrowser("s1"))

	close(exec.exited)

	require.Eventually(t, func() bool {
		return sup.Count() == 0
	}, time.Second, time.Millisecond)
}

func TestRealExecutor_Start(t *testing.T) {
	h, err := RealExecutor{}.Start([]string{"/bin/sh", "-c", "exit 0"}, map[string]string{"X": "1"})
	require.NoError(t, err)
	assert.Greater(t, h.PID, 0)
	require.NoError(t, h.Wait())
}

func TestRealExecutor_Start_Empty(t *testing.T) {
	_, err := RealExecutor{}.Start(nil, nil)
	require.Error(t, err)
}
