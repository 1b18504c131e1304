// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"strings"
)

const sessionURIPrefix = "session://"

func (h *Handler) resourcesList(req *request) response {
	return resultResponse(req.ID, map[string]interface{}{
		"resources": []interface{}{},
		"resourceTemplates": []map[string]interface{}{
			{
				"uriTemplate": sessionURIPrefix + "{session_id}",
				"name":        "Session information",
				"description": "Detailed information about a specific execution session",
				"mimeType":    "application/json",
			},
		},
	})
}

type readParams struct {
	URI string `json:"uri"`
}

func (h *Handler) resourcesRead(req *request) response {
	var params readParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}
	if !strings.HasPrefix(params.URI, sessionURIPrefix) {
		return errorResponse(req.ID, codeInvalidParams, "unsupported resource uri: "+params.URI)
	}
	sessionID := strings.TrimPrefix(params.URI, sessionURIPrefix)

	var payload interface{}
	if detail, err := h.mgr.Detail(sessionID); err == nil {
		payload = detail
	} else {
		payload = map[string]string{"error": "Session " + sessionID + " not found"}
	}

	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errorResponse(req.ID, codeInternalError, err.Error())
	}
	return resultResponse(req.ID, map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"uri":      params.URI,
				"mimeType": "application/json",
				"text":     string(text),
			},
		},
	})
}
