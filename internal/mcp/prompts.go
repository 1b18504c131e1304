// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"strings"
)

var promptDescriptors = []map[string]interface{}{
	{
		"name":        "code_execution_prompt",
		"description": "Generate a prompt for Python code execution tasks",
		"arguments": []map[string]interface{}{
			{"name": "task_description", "description": "Description of what the code should accomplish", "required": true},
			{"name": "code_style", "description": "Style of code to generate (clean, verbose, minimal)", "required": false},
			{"name": "include_comments", "description": `Whether to include explanatory comments ("true" or "false")`, "required": false},
		},
	},
}

func (h *Handler) promptsList(req *request) response {
	return resultResponse(req.ID, map[string]interface{}{"prompts": promptDescriptors})
}

type promptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (h *Handler) promptsGet(req *request) response {
	var params promptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}
	if params.Name != "code_execution_prompt" {
		return errorResponse(req.ID, codeInvalidParams, "unknown prompt: "+params.Name)
	}
	task := params.Arguments["task_description"]
	if task == "" {
		return errorResponse(req.ID, codeInvalidParams, "task_description is required")
	}

	text := buildCodeExecutionPrompt(
		task,
		params.Arguments["code_style"],
		params.Arguments["include_comments"],
	)
	return resultResponse(req.ID, map[string]interface{}{
		"description": "Prompt for a Python code execution task",
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": map[string]interface{}{
					"type": "text",
					"text": text,
				},
			},
		},
	})
}

var styleInstructions = map[string]string{
	"clean":   "Write clean, readable Python code with proper formatting",
	"verbose": "Write detailed Python code with extensive explanations",
	"minimal": "Write concise, minimal Python code without extra explanations",
}

func buildCodeExecutionPrompt(task, style, includeComments string) string {
	instruction, ok := styleInstructions[style]
	if !ok {
		instruction = styleInstructions["clean"]
	}

	var b strings.Builder
	b.WriteString("Please write Python code to accomplish the following task: ")
	b.WriteString(task)
	b.WriteString("\n\n")
	b.WriteString(instruction)
	b.WriteString(".")

	if includeComments == "" || strings.EqualFold(includeComments, "true") {
		b.WriteString(" Include helpful comments to explain the code logic.")
	}

	b.WriteString("\n\nThe code will be executed in a secure sandbox environment with access to common Python libraries like numpy, matplotlib, etc.")
	return b.String()
}
