// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/wingedpig/crucible/internal/manager"
)

// Handler serves the MCP endpoint.
type Handler struct {
	mgr     *manager.Manager
	version string
}

// NewHandler creates a new MCP handler.
func NewHandler(mgr *manager.Manager, version string) *Handler {
	return &Handler{mgr: mgr, version: version}
}

// ServeHTTP decodes one JSON-RPC request and dispatches it.
// Notifications are acknowledged with 202 and no body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeResponse(w, errorResponse(nil, codeInternalError, "read request: "+err.Error()))
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, errorResponse(nil, codeParseError, "parse error"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, errorResponse(req.ID, codeInvalidRequest, "invalid request"))
		return
	}

	if req.isNotification() {
		h.handleNotification(&req)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	writeResponse(w, h.dispatch(r, &req))
}

func (h *Handler) handleNotification(req *request) {
	switch req.Method {
	case "notifications/initialized":
		// Client handshake complete; nothing to do.
	default:
		log.Printf("[mcp] ignoring notification %s", req.Method)
	}
}

func (h *Handler) dispatch(r *http.Request, req *request) response {
	switch req.Method {
	case "initialize":
		return h.initialize(req)
	case "ping":
		return resultResponse(req.ID, map[string]interface{}{})
	case "tools/list":
		return h.toolsList(req)
	case "tools/call":
		return h.toolsCall(r, req)
	case "resources/list":
		return h.resourcesList(req)
	case "resources/read":
		return h.resourcesRead(req)
	case "prompts/list":
		return h.promptsList(req)
	case "prompts/get":
		return h.promptsGet(req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method)
	}
}

func (h *Handler) initialize(req *request) response {
	return resultResponse(req.ID, map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
			"prompts":   map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "crucible",
			"version": h.version,
		},
	})
}

func writeResponse(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[mcp] write response: %v", err)
	}
}
