// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import "time"

// SessionInfo describes a live session.
type SessionInfo struct {
	// SessionID is the client-chosen (or server-generated) identifier.
	SessionID string `json:"session_id"`

	// CreatedAt is when the session's worker was bound to this identifier.
	CreatedAt time.Time `json:"created_at"`

	// LastActivity is the time of the most recent execution or touch.
	LastActivity time.Time `json:"last_activity"`

	// Busy reports whether an execution is currently running.
	Busy bool `json:"busy"`

	// ExecCount is the number of executions run in this session.
	ExecCount int `json:"exec_count"`
}

// SessionDetail is SessionInfo plus the working directory contents.
type SessionDetail struct {
	SessionInfo

	// WorkingDirectory is the session's isolated directory on the server.
	WorkingDirectory string `json:"working_directory"`

	// Files maps file names in the working directory to human-readable sizes.
	Files map[string]string `json:"files"`
}

// SessionList is the result of listing sessions.
type SessionList struct {
	Sessions map[string]SessionInfo `json:"sessions"`
	Total    int                    `json:"total"`
}

// CreateSessionRequest configures a new (or existing) session.
//
// All fields are optional. An empty SessionID asks the server to generate
// one. FileURLs and Files stage remote files into the session's working
// directory before any code runs.
type CreateSessionRequest struct {
	// SessionID is the identifier to bind. Reusing an existing id is
	// idempotent: the session is touched and any new files downloaded.
	SessionID string `json:"session_id,omitempty"`

	// FileURLs are downloaded into the working directory, named after the
	// last path segment of each URL.
	FileURLs []string `json:"file_urls,omitempty"`

	// Files are downloads tracked by id in the session's file manifest.
	// A file whose id is already in the manifest, with its file still
	// present, is not re-fetched.
	Files []FileSpec `json:"files,omitempty"`

	// Timeout bounds each download, in seconds. Zero uses the server
	// default.
	Timeout int `json:"timeout,omitempty"`
}

// FileSpec is one id-bearing file to download into the session working
// directory. The saved filename comes from the origin's
// Content-Disposition header.
type FileSpec struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateSessionResponse reports the outcome of a session create.
//
// Download failures do not fail the create; they are collected in Errors.
type CreateSessionResponse struct {
	SessionID        string   `json:"session_id"`
	WorkingDirectory string   `json:"working_directory"`
	DownloadedFiles  []string `json:"downloaded_files"`
	Errors           []string `json:"errors"`
}

// OutputEvent is one event from a streaming execution.
//
// Exactly one of Text, Image, or Error is set.
type OutputEvent struct {
	// Text is a chunk of stdout or stderr output.
	Text string `json:"text,omitempty"`

	// Image is base64-encoded image data; Format names its encoding.
	Image  string `json:"image,omitempty"`
	Format string `json:"format,omitempty"`

	// Error is a Python error message; Traceback carries the frames.
	Error     string   `json:"error,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// IsText reports whether the event is a text chunk.
func (e *OutputEvent) IsText() bool { return e.Text != "" }

// IsImage reports whether the event is an image.
func (e *OutputEvent) IsImage() bool { return e.Image != "" }

// IsError reports whether the event is an execution error.
func (e *OutputEvent) IsError() bool { return e.Error != "" }

// SyncResult is the aggregated output of a buffered execution.
type SyncResult struct {
	SessionID string        `json:"session_id"`
	Texts     []string      `json:"texts"`
	Images    []string      `json:"images"`
	Errors    []ResultError `json:"errors"`
}

// ResultError is one Python error from a buffered execution.
type ResultError struct {
	Error     string   `json:"error"`
	Traceback []string `json:"traceback"`
}

// ExecutionRecord is one row of a session's execution history.
type ExecutionRecord struct {
	RequestID  string    `json:"request_id"`
	SessionID  string    `json:"session_id"`
	Code       string    `json:"code"`
	Status     string    `json:"status"`
	Events     int       `json:"events"`
	Texts      int       `json:"texts"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// HistoryPage is a session's execution history.
type HistoryPage struct {
	SessionID  string            `json:"session_id"`
	Executions []ExecutionRecord `json:"executions"`
	Total      int               `json:"total"`
}

// HealthStatus is the server health report.
type HealthStatus struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
	Uptime         string `json:"uptime"`
}

// ServerInfo is the root endpoint's service description.
type ServerInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
	APIEndpoint string `json:"api_endpoint"`
	MCPEndpoint string `json:"mcp_endpoint"`
}
