// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/crucible/internal/kernel"
	"github.com/wingedpig/crucible/internal/manager"
)

func newTestHandler(t *testing.T) (*Handler, *manager.Manager) {
	t.Helper()
	m := manager.New(manager.Config{WorkdirRoot: t.TempDir()}, func(workdir string) kernel.Worker {
		return kernel.NewFakeWorker()
	}, nil, nil)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return NewHandler(m, "1.0.0"), m
}

func rpc(t *testing.T, h *Handler, body string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ai/sandbox/v1/mcp", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func resultMap(t *testing.T, resp response) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error)
	m, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "result is not an object: %#v", resp.Result)
	return m
}

// toolText decodes the JSON text content of a tools/call result.
func toolText(t *testing.T, resp response) (map[string]interface{}, bool) {
	t.Helper()
	res := resultMap(t, resp)
	content, ok := res["content"].([]interface{})
	require.True(t, ok)
	require.Len(t, content, 1)
	text := content[0].(map[string]interface{})["text"].(string)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	isError, _ := res["isError"].(bool)
	return payload, isError
}

func TestHandler_Initialize(t *testing.T) {
	h, _ := newTestHandler(t)

	code, resp := rpc(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	require.Equal(t, http.StatusOK, code)

	res := resultMap(t, resp)
	assert.Equal(t, "2024-11-05", res["protocolVersion"])
	info := res["serverInfo"].(map[string]interface{})
	assert.Equal(t, "crucible", info["name"])
	assert.Equal(t, "1.0.0", info["version"])
	caps := res["capabilities"].(map[string]interface{})
	assert.Contains(t, caps, "tools")
	assert.Contains(t, caps, "resources")
	assert.Contains(t, caps, "prompts")
}

func TestHandler_Ping(t *testing.T) {
	h, _ := newTestHandler(t)

	_, resp := rpc(t, h, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Nil(t, resp.Error)
}

func TestHandler_NotificationAccepted(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestHandler_ErrorCodes(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{not json`, codeParseError},
		{"invalid request", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, codeInvalidRequest},
		{"method not found", `{"jsonrpc":"2.0","id":1,"method":"bogus"}`, codeMethodNotFound},
		{"unknown tool", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"bogus","arguments":{}}}`, codeInvalidParams},
		{"missing code", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"execute_python_code","arguments":{}}}`, codeInvalidParams},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, resp := rpc(t, h, tc.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestHandler_ToolsList(t *testing.T) {
	h, _ := newTestHandler(t)

	_, resp := rpc(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	res := resultMap(t, resp)

	tools := res["tools"].([]interface{})
	require.Len(t, tools, 3)
	names := make([]string, 0, 3)
	for _, tool := range tools {
		names = append(names, tool.(map[string]interface{})["name"].(string))
	}
	assert.ElementsMatch(t, []string{"execute_python_code", "list_active_sessions", "terminate_session"}, names)
}

func TestHandler_ExecutePythonCode(t *testing.T) {
	h, _ := newTestHandler(t)

	_, resp := rpc(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"execute_python_code","arguments":{"code":"print(1)","session_id":"tenant-1"}}}`)

	payload, isError := toolText(t, resp)
	assert.False(t, isError)
	assert.Equal(t, "tenant-1", payload["session_id"])
	assert.Contains(t, payload, "output")
	assert.Contains(t, payload, "images")
}

func TestHandler_ListActiveSessions(t *testing.T) {
	h, m := newTestHandler(t)
	_, err := m.Acquire(context.Background(), "tenant-1", nil, nil, 0)
	require.NoError(t, err)

	_, resp := rpc(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_active_sessions","arguments":{}}}`)

	payload, isError := toolText(t, resp)
	assert.False(t, isError)
	assert.Equal(t, float64(1), payload["total"])
	sessions := payload["sessions"].(map[string]interface{})
	entry := sessions["tenant-1"].(map[string]interface{})
	assert.Equal(t, "idle", entry["status"])
}

func TestHandler_TerminateSession(t *testing.T) {
	h, m := newTestHandler(t)
	_, err := m.Acquire(context.Background(), "tenant-1", nil, nil, 0)
	require.NoError(t, err)

	_, resp := rpc(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"terminate_session","arguments":{"session_id":"tenant-1"}}}`)
	payload, isError := toolText(t, resp)
	assert.False(t, isError)
	assert.Equal(t, "terminated", payload["status"])
	assert.Equal(t, 0, m.ActiveCount())

	_, resp = rpc(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"terminate_session","arguments":{"session_id":"tenant-1"}}}`)
	payload, isError = toolText(t, resp)
	assert.True(t, isError)
	assert.Contains(t, payload["message"], "not found")
}

func TestHandler_Resources(t *testing.T) {
	h, m := newTestHandler(t)
	_, err := m.Acquire(context.Background(), "tenant-1", nil, nil, 0)
	require.NoError(t, err)

	_, resp := rpc(t, h, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	res := resultMap(t, resp)
	templates := res["resourceTemplates"].([]interface{})
	require.Len(t, templates, 1)
	assert.Equal(t, "session://{session_id}", templates[0].(map[string]interface{})["uriTemplate"])

	_, resp = rpc(t, h, `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"session://tenant-1"}}`)
	res = resultMap(t, resp)
	contents := res["contents"].([]interface{})
	require.Len(t, contents, 1)
	entry := contents[0].(map[string]interface{})
	assert.Equal(t, "application/json", entry["mimeType"])
	assert.Contains(t, entry["text"], "tenant-1")

	_, resp = rpc(t, h, `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"file:///etc/passwd"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestHandler_Prompts(t *testing.T) {
	h, _ := newTestHandler(t)

	_, resp := rpc(t, h, `{"jsonrpc":"2.0","id":1,"method":"prompts/list"}`)
	res := resultMap(t, resp)
	prompts := res["prompts"].([]interface{})
	require.Len(t, prompts, 1)

	_, resp = rpc(t, h, `{"jsonrpc":"2.0","id":2,"method":"prompts/get","params":{"name":"code_execution_prompt","arguments":{"task_description":"sum a list","code_style":"minimal","include_comments":"false"}}}`)
	res = resultMap(t, resp)
	messages := res["messages"].([]interface{})
	require.Len(t, messages, 1)
	content := messages[0].(map[string]interface{})["content"].(map[string]interface{})
	text := content["text"].(string)
	assert.Contains(t, text, "sum a list")
	assert.Contains(t, text, "concise, minimal Python code")
	assert.NotContains(t, text, "helpful comments")

	_, resp = rpc(t, h, `{"jsonrpc":"2.0","id":3,"method":"prompts/get","params":{"name":"other"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}
