// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package router

import "github.com/browserd/browserd/internal/protocol"

// tabActions maps the client-side tab command aliases to the action the
// extension's single "tab" handler expects.
var tabActions = map[string]string{
	"tab_new":    "new",
	"tab_close":  "close",
	"tab_switch": "switch",
	"tab_list":   "list",
}

// translate rewrites a client command into the shape the extension speaks:
// "navigate" becomes "open", and the tab_* aliases collapse into "tab" with
// an action parameter. Everything else passes through unchanged.
func translate(cmd protocol.Command) protocol.ExtensionCommand {
	out := protocol.ExtensionCommand{
		ID:     cmd.ID,
		Type:   cmd.Type,
		Params: cmd.Params,
	}

	switch {
	case cmd.Type == "navigate":
		out.Type = "open"
	case tabActions[cmd.Type] != "":
		out.Type = "tab"
		params := make(map[string]interface{}, len(cmd.Params)+1)
		for k, v := range cmd.Params {
			params[k] = v
		}
		params["action"] = tabActions[cmd.Type]
		out.Params = params
	}
	return out
}
