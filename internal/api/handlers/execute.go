// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the HTTP API handlers.
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/wingedpig/crucible/internal/manager"
)

// ExecuteHandler handles code execution requests.
type ExecuteHandler struct {
	mgr *manager.Manager
}

// NewExecuteHandler creates a new execute handler.
func NewExecuteHandler(mgr *manager.Manager) *ExecuteHandler {
	return &ExecuteHandler{mgr: mgr}
}

// executeRequest is the body of POST /execute and /execute_sync. A nil
// Timeout selects the server default; an explicit 0 times out on the
// first tick.
type executeRequest struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id"`
	Timeout   *int   `json:"timeout"`
}

func (req *executeRequest) timeout() time.Duration {
	if req.Timeout == nil {
		return manager.UseDefaultTimeout
	}
	return time.Duration(*req.Timeout) * time.Second
}

func decodeExecuteRequest(w http.ResponseWriter, r *http.Request) (*executeRequest, bool) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if req.Code == "" {
		WriteError(w, http.StatusBadRequest, "code is required")
		return nil, false
	}
	return &req, true
}

// Execute streams execution output as NDJSON, one event per line,
// flushed as produced.
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeExecuteRequest(w, r)
	if !ok {
		return
	}

	ch, sessionID, err := h.mgr.ExecuteStream(r.Context(), req.Code, req.SessionID, req.timeout())
	if err != nil {
		WriteManagerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range ch {
		if err := enc.Encode(ev); err != nil {
			// Client gone; the context cancellation stops the execution.
			log.Printf("[api] execute stream write: %v", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// ExecuteSync runs code to completion and returns the aggregated output
// in one envelope.
func (h *ExecuteHandler) ExecuteSync(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeExecuteRequest(w, r)
	if !ok {
		return
	}

	res, sessionID, err := h.mgr.ExecuteSync(r.Context(), req.Code, req.SessionID, req.timeout())
	if err != nil {
		WriteManagerError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"session_id": sessionID,
		"texts":      res.Texts,
		"images":     res.Images,
		"errors":     res.Errors,
	})
}
