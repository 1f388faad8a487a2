// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/protocol"
	"github.com/browserd/browserd/pkg/client"
)

type noopExecutor struct{}

func (noopExecutor) Start(command []string, env map[string]string) (*browser.Handle, error) {
	return &browser.Handle{PID: os.Getpid(), Kill: func() error { return nil }}, nil
}

func startApp(t *testing.T) (*App, *client.Client) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "browserd.sock")
	application, err := New(Options{
		SocketPath: socketPath,
		WSPort:     0,
		Version:    "test",
		Executor:   noopExecutor{},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, application.Initialize(ctx))
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() { application.Shutdown(context.Background()) })

	return application, client.New(socketPath, client.WithTimeout(5*time.Second))
}

func TestApp_New_AppliesOverrides(t *testing.T) {
	application, err := New(Options{
		SocketPath: "/tmp/override.sock",
		WSPort:     1234,
		Version:    "test",
		Executor:   noopExecutor{},
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.sock", application.Config().Server.SocketPath)
	assert.Equal(t, 1234, application.Config().Server.WSPort)
}

func TestApp_New_LoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "browserd.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		server: {
			ws_port: 9555
			command_timeout: 7000
		}
	}`), 0o644))

	application, err := New(Options{ConfigPath: path, WSPort: -1, Executor: noopExecutor{}})
	require.NoError(t, err)
	assert.Equal(t, 9555, application.Config().Server.WSPort)
	assert.Equal(t, 7000, application.Config().Server.CommandTimeout)
}

func TestApp_PingAndEndpoint(t *testing.T) {
	_, c := startApp(t)

	require.NoError(t, c.Ping())

	info, err := c.GetEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", info.IP)
	assert.NotZero(t, info.Port)
}

func TestApp_CommandRoundTrip(t *testing.T) {
	_, c := startApp(t)

	reg, err := c.RegisterExtension()
	require.NoError(t, err)

	// Connect as the extension for the registered session.
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s:%d/ws", reg.IP, reg.Port), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(protocol.RegisterMessage{Type: "register", WindowID: 7, CachedSessionID: reg.SessionID}))
	var assigned protocol.SessionAssigned
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&assigned))
	require.Equal(t, reg.SessionID, assigned.SessionID)

	// Answer the first command that arrives.
	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] == "ping" {
				conn.WriteJSON(map[string]string{"type": "pong"})
				continue
			}
			if id, ok := msg["id"].(string); ok {
				data, _ := json.Marshal(map[string]string{"finalUrl": "https://example.com/"})
				conn.WriteJSON(map[string]interface{}{
					"id":      id,
					"success": msg["type"] == "open", // navigate must arrive as "open"
					"data":    json.RawMessage(data),
				})
			}
		}
	}()

	result, err := c.Command(protocol.Command{
		ID:        "c1",
		SessionID: reg.SessionID,
		Type:      "navigate",
		Params:    map[string]interface{}{"url": "https://example.com"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.JSONEq(t, `{"finalUrl":"https://example.com/"}`, string(result.Data))

	sessions, err := c.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "connected", sessions[0].State)
}

func TestApp_Shutdown(t *testing.T) {
	application, c := startApp(t)
	socketPath := application.Config().Server.SocketPath

	require.NoError(t, application.Shutdown(context.Background()))

	assert.Error(t, c.Ping())
	_, err := os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}
