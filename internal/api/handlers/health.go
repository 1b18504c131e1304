// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wingedpig/crucible/internal/manager"
)

// HealthHandler serves the health and service-metadata endpoints, which
// bypass the response envelope.
type HealthHandler struct {
	mgr         *manager.Manager
	version     string
	apiEndpoint string
	mcpEndpoint string
	startedAt   time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(mgr *manager.Manager, version, apiEndpoint, mcpEndpoint string) *HealthHandler {
	return &HealthHandler{
		mgr:         mgr,
		version:     version,
		apiEndpoint: apiEndpoint,
		mcpEndpoint: mcpEndpoint,
		startedAt:   time.Now(),
	}
}

// Health reports server liveness.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "healthy",
		"version":         h.version,
		"active_sessions": h.mgr.ActiveCount(),
		"uptime":          time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Root serves service metadata at /.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"name":         "crucible",
		"version":      h.version,
		"status":       "running",
		"api_endpoint": h.apiEndpoint,
		"mcp_endpoint": h.mcpEndpoint,
	})
}
