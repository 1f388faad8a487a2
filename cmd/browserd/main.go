// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/browserd/browserd/internal/app"
	"github.com/browserd/browserd/internal/hostmsg"
	"github.com/browserd/browserd/pkg/client"
)

var (
	version = "0.9"
)

func main() {
	var (
		configPath  string
		socketPath  string
		wsPort      int
		showVersion bool
		query       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&socketPath, "socket", "", "Client socket path (overrides config)")
	flag.IntVar(&wsPort, "ws-port", -1, "Extension endpoint port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.BoolVar(&query, "query", false, "Run as a native-messaging host instead of a daemon")
	flag.Parse()

	if showVersion {
		fmt.Printf("browserd %s\n", version)
		os.Exit(0)
	}

	if query {
		path := socketPath
		if path == "" {
			path = client.DefaultSocketPath
		}
		if err := hostmsg.Run(os.Stdin, os.Stdout, path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		SocketPath: socketPath,
		WSPort:     wsPort,
		Version:    version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
