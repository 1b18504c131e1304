// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/crucible/internal/config"
	"github.com/wingedpig/crucible/internal/history"
	"github.com/wingedpig/crucible/internal/kernel"
	"github.com/wingedpig/crucible/internal/manager"
	"github.com/wingedpig/crucible/internal/mcp"
)

type testEnv struct {
	router http.Handler
	mgr    *manager.Manager
	store  *history.Store
	apiKey string
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	mgr := manager.New(manager.Config{WorkdirRoot: t.TempDir()}, func(workdir string) kernel.Worker {
		return kernel.NewFakeWorker()
	}, nil, nil)
	t.Cleanup(func() { _ = mgr.Stop(context.Background()) })

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.Server.APIKey = apiKey

	deps := Dependencies{
		Manager: mgr,
		History: store,
		MCP:     mcp.NewHandler(mgr, "1.0.0"),
		Config:  cfg,
		Version: "1.0.0",
	}
	return &testEnv{router: NewRouter(deps), mgr: mgr, store: store, apiKey: apiKey}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) (int, map[string]interface{}) {
	t.Helper()
	var env struct {
		ResultCode int                    `json:"resultCode"`
		ResultMsg  string                 `json:"resultMsg"`
		Data       map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.ResultCode, env.Data
}

func TestRouter_Root(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "crucible", body["name"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, APIPrefix, body["api_endpoint"])
	assert.Equal(t, MCPPath, body["mcp_endpoint"])
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, APIPrefix+"/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.Contains(t, body, "active_sessions")
	assert.Contains(t, body, "uptime")
}

func TestRouter_ExecuteStreamsNDJSON(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, APIPrefix+"/execute", `{"code":"print(1)","session_id":"tenant-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "tenant-1", rec.Header().Get("X-Session-Id"))

	// Every line is a standalone JSON event.
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
	}
}

func TestRouter_Execute_BadRequests(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, APIPrefix+"/execute", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, APIPrefix+"/execute", `{"session_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	code, _ := envelope(t, rec)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRouter_ExecuteSync(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, APIPrefix+"/execute_sync", `{"code":"print(1)"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	code, data := envelope(t, rec)
	assert.Equal(t, 0, code)
	assert.NotEmpty(t, data["session_id"])
	assert.Contains(t, data, "texts")
	assert.Contains(t, data, "images")
	assert.Contains(t, data, "errors")
}

func TestRouter_Execute_BusyConflict(t *testing.T) {
	env := newTestEnv(t, "")

	res, err := env.mgr.Acquire(context.Background(), "tenant-1", nil, nil, 0)
	require.NoError(t, err)
	require.True(t, res.Session.TryMarkBusy())

	rec := env.do(t, http.MethodPost, APIPrefix+"/execute_sync", `{"code":"print(1)","session_id":"tenant-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouter_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	// Create
	rec := env.do(t, http.MethodPost, APIPrefix+"/sessions", `{"session_id":"tenant-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	code, data := envelope(t, rec)
	require.Equal(t, 0, code)
	assert.Equal(t, "tenant-1", data["session_id"])
	assert.NotEmpty(t, data["working_directory"])
	assert.NotNil(t, data["downloaded_files"])
	assert.NotNil(t, data["errors"])

	// List
	rec = env.do(t, http.MethodGet, APIPrefix+"/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, data = envelope(t, rec)
	assert.Equal(t, float64(1), data["total"])
	sessions := data["sessions"].(map[string]interface{})
	assert.Contains(t, sessions, "tenant-1")

	// Get
	rec = env.do(t, http.MethodGet, APIPrefix+"/sessions/tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, data = envelope(t, rec)
	assert.Equal(t, "tenant-1", data["session_id"])
	assert.Contains(t, data, "working_directory")
	assert.Contains(t, data, "files")

	// Interrupt
	rec = env.do(t, http.MethodPost, APIPrefix+"/sessions/tenant-1/interrupt", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// History (empty, store enabled)
	rec = env.do(t, http.MethodGet, APIPrefix+"/sessions/tenant-1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, data = envelope(t, rec)
	assert.Equal(t, float64(0), data["total"])

	// Delete
	rec = env.do(t, http.MethodDelete, APIPrefix+"/sessions/tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Gone now
	rec = env.do(t, http.MethodGet, APIPrefix+"/sessions/tenant-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_SessionNotFound(t *testing.T) {
	env := newTestEnv(t, "")

	for _, probe := range []struct{ method, path string }{
		{http.MethodGet, APIPrefix + "/sessions/nope"},
		{http.MethodDelete, APIPrefix + "/sessions/nope"},
		{http.MethodPost, APIPrefix + "/sessions/nope/interrupt"},
	} {
		rec := env.do(t, probe.method, probe.path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", probe.method, probe.path)
		code, _ := envelope(t, rec)
		assert.Equal(t, http.StatusNotFound, code)
	}
}

func TestRouter_AuthRequired(t *testing.T) {
	env := newTestEnv(t, "secret")

	// Exempt paths stay open.
	req := httptest.NewRequest(http.MethodGet, APIPrefix+"/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Everything else requires the key.
	req = httptest.NewRequest(http.MethodGet, APIPrefix+"/sessions", nil)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, APIPrefix+"/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, APIPrefix+"/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// WebSocket-style query token is accepted too.
	req = httptest.NewRequest(http.MethodGet, APIPrefix+"/sessions?access_token=secret", nil)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_MCPGuardedByAuth(t *testing.T) {
	env := newTestEnv(t, "secret")

	req := httptest.NewRequest(http.MethodPost, MCPPath, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, MCPPath, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, APIPrefix+"/health", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, APIPrefix+"/health", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec2 := httptest.NewRecorder()
	env.router.ServeHTTP(rec2, req)
	assert.Equal(t, "req-42", rec2.Header().Get("X-Request-Id"))
}

func TestRouter_CORSPreflight(t *testing.T) {
	env := newTestEnv(t, "secret")

	// Preflight is answered without auth.
	req := httptest.NewRequest(http.MethodOptions, APIPrefix+"/sessions", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
