// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/crucible/internal/history"
	"github.com/wingedpig/crucible/internal/manager"
	"github.com/wingedpig/crucible/internal/session"
)

// SessionHandler handles session lifecycle requests.
type SessionHandler struct {
	mgr   *manager.Manager
	store *history.Store
}

// NewSessionHandler creates a new session handler. store may be nil when
// history is disabled.
func NewSessionHandler(mgr *manager.Manager, store *history.Store) *SessionHandler {
	return &SessionHandler{mgr: mgr, store: store}
}

// createRequest is the body of POST /sessions.
type createRequest struct {
	SessionID string             `json:"session_id"`
	FileURLs  []string           `json:"file_urls"`
	Files     []manager.FileSpec `json:"files"`
	Timeout   int                `json:"timeout"` // per-download budget, seconds
}

// Create binds a session (creating or reusing) and downloads any
// requested files into its working directory.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.mgr.Acquire(r.Context(), req.SessionID, req.FileURLs, req.Files, time.Duration(req.Timeout)*time.Second)
	if err != nil {
		WriteManagerError(w, err)
		return
	}

	downloaded := res.Downloaded
	if downloaded == nil {
		downloaded = []string{}
	}
	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}
	WriteSuccess(w, map[string]interface{}{
		"session_id":        res.Session.ID(),
		"working_directory": res.Session.Workdir(),
		"downloaded_files":  downloaded,
		"errors":            errs,
	})
}

// List returns every active session keyed by id.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := h.mgr.List()

	sessions := make(map[string]session.Info, len(infos))
	for _, info := range infos {
		sessions[info.ID] = info
	}
	WriteSuccess(w, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// Get returns the detail view of one session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.mgr.Detail(mux.Vars(r)["id"])
	if err != nil {
		WriteManagerError(w, err)
		return
	}
	WriteSuccess(w, detail)
}

// Delete terminates a session.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.mgr.Terminate(r.Context(), id); err != nil {
		WriteManagerError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"session_id": id,
		"status":     "terminated",
	})
}

// Interrupt forwards an interrupt to the session's worker.
func (h *SessionHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.mgr.Interrupt(id); err != nil {
		WriteManagerError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"session_id": id,
		"status":     "interrupted",
	})
}

// History returns the most recent executions for a session, newest
// first. The route is only registered when the history store is enabled.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit: "+v)
			return
		}
		limit = n
	}

	entries, err := h.store.BySession(r.Context(), id, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	WriteSuccess(w, map[string]interface{}{
		"session_id": id,
		"executions": entries,
		"total":      len(entries),
	})
}
