// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hostmsg implements the native-messaging query mode: the browser
// launches the binary as a messaging host, speaks length-prefixed JSON on
// stdin/stdout, and uses it to discover the daemon's extension endpoint.
package hostmsg

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/browserd/browserd/internal/protocol"
	"github.com/browserd/browserd/pkg/client"
)

type request struct {
	Type string `json:"type"`
}

type endpointReply struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

type registrationReply struct {
	SessionID string `json:"sessionId"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
}

type errorReply struct {
	Error string `json:"error"`
}

// Run serves query requests from in until EOF. Each request is one
// length-prefixed JSON frame; each gets exactly one reply frame. A daemon
// that cannot be reached produces an error frame and a non-nil return so the
// process exits nonzero.
func Run(in io.Reader, out io.Writer, socketPath string) error {
	c := client.New(socketPath)
	var lastErr error

	for {
		frame, err := protocol.ReadFrame(in)
		if err != nil {
			if err == io.EOF {
				return lastErr
			}
			return fmt.Errorf("failed to read request frame: %w", err)
		}

		var req request
		if err := json.Unmarshal(frame, &req); err != nil {
			writeReply(out, errorReply{Error: "invalid request"})
			lastErr = fmt.Errorf("invalid request frame: %w", err)
			continue
		}

		if err := handle(out, c, req.Type); err != nil {
			lastErr = err
		}
	}
}

func handle(out io.Writer, c *client.Client, reqType string) error {
	switch reqType {
	case "get_endpoint":
		info, err := c.GetEndpoint()
		if err != nil {
			writeReply(out, errorReply{Error: err.Error()})
			return err
		}
		return writeReply(out, endpointReply{IP: info.IP, Port: info.Port})

	// "register_extension" matches the daemon's socket vocabulary; "register"
	// is the short form older extension builds send.
	case "register", "register_extension":
		info, err := c.RegisterExtension()
		if err != nil {
			writeReply(out, errorReply{Error: err.Error()})
			return err
		}
		return writeReply(out, registrationReply{SessionID: info.SessionID, IP: info.IP, Port: info.Port})

	default:
		err := fmt.Errorf("unknown request type: %s", reqType)
		writeReply(out, errorReply{Error: err.Error()})
		return err
	}
}

func writeReply(out io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(out, data)
}
