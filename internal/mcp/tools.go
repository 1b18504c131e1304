// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wingedpig/crucible/internal/manager"
)

// toolDescriptor describes one tool for tools/list.
type toolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var toolDescriptors = []toolDescriptor{
	{
		Name:        "execute_python_code",
		Description: "Execute Python code in a secure sandbox environment with optional session persistence.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code":       map[string]interface{}{"type": "string", "description": "The Python code to execute"},
				"session_id": map[string]interface{}{"type": "string", "description": "Optional session ID for persistent execution context"},
				"timeout":    map[string]interface{}{"type": "integer", "description": "Optional timeout in seconds (default: 30)"},
			},
			"required": []string{"code"},
		},
	},
	{
		Name:        "list_active_sessions",
		Description: "List all active Python execution sessions.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
	{
		Name:        "terminate_session",
		Description: "Terminate a specific Python execution session.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"session_id": map[string]interface{}{"type": "string", "description": "The ID of the session to terminate"},
			},
			"required": []string{"session_id"},
		},
	},
}

func (h *Handler) toolsList(req *request) response {
	return resultResponse(req.ID, map[string]interface{}{"tools": toolDescriptors})
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (h *Handler) toolsCall(r *http.Request, req *request) response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}

	var (
		result toolResult
		err    error
	)
	switch params.Name {
	case "execute_python_code":
		result, err = h.executePythonCode(r, params.Arguments)
	case "list_active_sessions":
		result, err = h.listActiveSessions()
	case "terminate_session":
		result, err = h.terminateSession(r, params.Arguments)
	default:
		return errorResponse(req.ID, codeInvalidParams, "unknown tool: "+params.Name)
	}
	if err != nil {
		var perr *paramError
		if errors.As(err, &perr) {
			return errorResponse(req.ID, codeInvalidParams, perr.Error())
		}
		return errorResponse(req.ID, codeInternalError, err.Error())
	}
	return resultResponse(req.ID, result)
}

// paramError marks argument problems so the dispatcher can return
// -32602 instead of -32603.
type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

type executeArgs struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id"`
	Timeout   *int   `json:"timeout"`
}

func (h *Handler) executePythonCode(r *http.Request, raw json.RawMessage) (toolResult, error) {
	var args executeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return toolResult{}, &paramError{"invalid arguments: " + err.Error()}
	}
	if args.Code == "" {
		return toolResult{}, &paramError{"code is required"}
	}

	timeout := manager.UseDefaultTimeout
	if args.Timeout != nil {
		timeout = time.Duration(*args.Timeout) * time.Second
	}

	res, sessionID, err := h.mgr.ExecuteSync(r.Context(), args.Code, args.SessionID, timeout)
	if err != nil {
		return textResult(map[string]interface{}{
			"error":      err.Error(),
			"traceback":  []string{},
			"session_id": args.SessionID,
		}, true)
	}

	if len(res.Errors) > 0 {
		first := res.Errors[0]
		return textResult(map[string]interface{}{
			"error":      first.Error,
			"traceback":  first.Traceback,
			"session_id": sessionID,
		}, true)
	}

	return textResult(map[string]interface{}{
		"output":     strings.Join(res.Texts, ""),
		"images":     res.Images,
		"session_id": sessionID,
	}, false)
}

func (h *Handler) listActiveSessions() (toolResult, error) {
	infos := h.mgr.List()

	sessions := make(map[string]interface{}, len(infos))
	for _, info := range infos {
		status := "idle"
		if info.Busy {
			status = "busy"
		}
		sessions[info.ID] = map[string]interface{}{
			"execution_count": info.ExecCount,
			"last_activity":   info.LastActivity,
			"status":          status,
		}
	}
	return textResult(map[string]interface{}{
		"total":    len(sessions),
		"sessions": sessions,
	}, false)
}

type terminateArgs struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) terminateSession(r *http.Request, raw json.RawMessage) (toolResult, error) {
	var args terminateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return toolResult{}, &paramError{"invalid arguments: " + err.Error()}
	}
	if args.SessionID == "" {
		return toolResult{}, &paramError{"session_id is required"}
	}

	if err := h.mgr.Terminate(r.Context(), args.SessionID); err != nil {
		if errors.Is(err, manager.ErrSessionNotFound) {
			return textResult(map[string]interface{}{
				"status":  "error",
				"message": fmt.Sprintf("Session %s not found or already terminated", args.SessionID),
			}, true)
		}
		return toolResult{}, err
	}
	return textResult(map[string]interface{}{
		"status":  "terminated",
		"message": fmt.Sprintf("Session %s terminated", args.SessionID),
	}, false)
}
