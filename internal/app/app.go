// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the daemon's components together and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/channel"
	"github.com/browserd/browserd/internal/config"
	"github.com/browserd/browserd/internal/events"
	"github.com/browserd/browserd/internal/ipc"
	"github.com/browserd/browserd/internal/logging"
	"github.com/browserd/browserd/internal/protocol"
	"github.com/browserd/browserd/internal/router"
	"github.com/browserd/browserd/internal/session"
)

// App is the daemon container.
type App struct {
	config  *config.Config
	version string
	log     *logrus.Logger

	eventBus      events.EventBus
	registry      *session.Registry
	channelServer *channel.Server
	commandRouter *router.Router
	supervisor    *browser.Supervisor
	ipcServer     *ipc.Server

	executor browser.Executor

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds construction options for the daemon.
type Options struct {
	ConfigPath string // empty: search cwd, fall back to built-in defaults
	SocketPath string // override server.socket_path
	WSPort     int    // override server.ws_port; -1 leaves config untouched
	Version    string
	Executor   browser.Executor // nil: real processes
}

// New creates the daemon from options. Components are created but not wired;
// Initialize does that.
func New(opts Options) (*App, error) {
	loader := config.NewLoader()

	var cfg *config.Config
	switch {
	case opts.ConfigPath != "":
		loaded, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	default:
		if path, err := loader.FindConfig(); err == nil {
			loaded, err := loader.LoadWithDefaults(context.Background(), path)
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded
		} else {
			cfg = config.Default()
		}
	}

	if opts.SocketPath != "" {
		cfg.Server.SocketPath = opts.SocketPath
	}
	if opts.WSPort >= 0 {
		cfg.Server.WSPort = opts.WSPort
	}

	executor := opts.Executor
	if executor == nil {
		executor = browser.RealExecutor{}
	}

	return &App{
		config:   cfg,
		version:  opts.Version,
		log:      logging.New(cfg.Logging),
		executor: executor,
		done:     make(chan struct{}),
	}, nil
}

// Config returns the effective configuration.
func (app *App) Config() *config.Config {
	return app.config
}

// Initialize constructs and wires all components. No listeners are bound yet.
func (app *App) Initialize(ctx context.Context) error {
	app.eventBus = events.NewMemoryEventBus()
	app.registry = session.NewRegistry()

	app.channelServer = channel.NewServer(app.config.Server, app.registry, app.eventBus, app.log)
	app.commandRouter = router.New(app.config.Server, app.registry, app.channelServer, app.log)
	app.ipcServer = ipc.NewServer(app.config.Server.SocketPath, app.registry, app.commandRouter, app.channelServer, app.log)

	// Channel events drive the router's dispatch state.
	if _, err := app.eventBus.Subscribe("extension.*", func(ctx context.Context, event events.Event) error {
		switch event.Type {
		case events.EventExtensionConnected:
			app.commandRouter.HandleConnected(event.SessionID)
		case events.EventExtensionDisconnected:
			app.commandRouter.HandleDisconnected(event.SessionID)
		case events.EventExtensionResponse:
			result, ok := event.Payload["response"].(protocol.CommandResult)
			if !ok {
				app.log.WithField("session", event.SessionID).Debug("Response event with unusable payload")
				return nil
			}
			app.commandRouter.HandleResponse(event.SessionID, result)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to subscribe to channel events: %w", err)
	}

	return nil
}

// Start binds the listeners. The extension endpoint comes up first so its
// bound port is known; the client socket comes up last so clients never see
// a daemon that cannot serve them.
func (app *App) Start(ctx context.Context) error {
	if err := app.channelServer.Start(); err != nil {
		return err
	}

	wsHost, wsPort := app.channelServer.Endpoint()
	app.supervisor = browser.NewSupervisor(app.config.Browser, app.executor, wsHost, wsPort, app.log)
	app.commandRouter.SetSupervisor(app.supervisor)

	if err := app.ipcServer.Start(); err != nil {
		app.channelServer.Stop()
		return err
	}

	app.log.WithField("version", app.version).Info("browserd started")
	return nil
}

// Run starts the daemon and blocks until a signal or Stop.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		app.log.WithField("signal", sig.String()).Info("Received signal, shutting down")
	case <-ctx.Done():
		app.log.Info("Context cancelled, shutting down")
	case <-app.done:
		app.log.Info("Shutdown requested")
	}

	return app.Shutdown(context.Background())
}

// Shutdown tears everything down in dependency order: stop accepting client
// requests, fail outstanding commands, close extension channels, destroy
// sessions. Launched browsers are left running; they belong to the user.
func (app *App) Shutdown(ctx context.Context) error {
	app.log.Info("Shutting down")

	if app.ipcServer != nil {
		if err := app.ipcServer.Stop(); err != nil {
			app.log.WithError(err).Warn("Error stopping client socket")
		}
	}

	if app.commandRouter != nil {
		app.commandRouter.CancelAll()
	}

	if app.channelServer != nil {
		if err := app.channelServer.Stop(); err != nil {
			app.log.WithError(err).Warn("Error stopping extension endpoint")
		}
	}

	if app.registry != nil {
		app.registry.CloseAll()
	}

	if app.eventBus != nil {
		app.eventBus.Close()
	}

	app.log.Info("Shutdown complete")
	return nil
}

// Stop signals Run to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
