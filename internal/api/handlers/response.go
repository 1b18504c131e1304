// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wingedpig/crucible/internal/manager"
)

// Envelope is the standard API response wrapper. Success bodies carry
// resultCode 0; error bodies carry the HTTP status as resultCode.
type Envelope struct {
	ResultCode int         `json:"resultCode"`
	ResultMsg  string      `json:"resultMsg"`
	Data       interface{} `json:"data,omitempty"`
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Envelope{
		ResultCode: 0,
		ResultMsg:  "success",
		Data:       data,
	})
}

// WriteError writes an error envelope with the given HTTP status.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{
		ResultCode: status,
		ResultMsg:  message,
	})
}

// WriteManagerError maps manager sentinel errors to HTTP statuses.
func WriteManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrSessionNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, manager.ErrSessionBusy):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, manager.ErrManagerClosed):
		WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
