// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package kernel runs Python interpreter workers and exposes their
// message streams to the rest of the server.
package kernel

import (
	"encoding/json"
	"fmt"
)

// MessageKind identifies a worker message variant.
type MessageKind string

const (
	KindStream        MessageKind = "stream"
	KindDisplayData   MessageKind = "display_data"
	KindExecuteResult MessageKind = "execute_result"
	KindError         MessageKind = "error"
	KindStatus        MessageKind = "status"
	KindExecuteInput  MessageKind = "execute_input"
)

// ExecState is the interpreter state carried by status messages.
type ExecState string

const (
	StateStarting ExecState = "starting"
	StateBusy     ExecState = "busy"
	StateIdle     ExecState = "idle"
)

// Mime types surfaced from display_data / execute_result bundles.
const (
	MimePNG  = "image/png"
	MimeText = "text/plain"
)

// Message is one worker output message. Kind selects which fields are
// meaningful:
//
//	stream          Name, Text
//	display_data    Data (mime → payload; image/png values are base64)
//	execute_result  Data
//	error           Ename, Evalue, Traceback
//	status          State
//	execute_input   Code
//
// RequestID ties the message to the submission that produced it. It is
// empty only for the boot status message.
type Message struct {
	Kind      MessageKind       `json:"kind"`
	RequestID string            `json:"id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Text      string            `json:"text,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Ename     string            `json:"ename,omitempty"`
	Evalue    string            `json:"evalue,omitempty"`
	Traceback []string          `json:"traceback,omitempty"`
	State     ExecState         `json:"state,omitempty"`
	Code      string            `json:"code,omitempty"`
}

// ParseMessage decodes one wire line into a Message. Lines with an
// unrecognized kind are rejected so the caller can log and drop them.
func ParseMessage(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("decode worker message: %w", err)
	}
	switch m.Kind {
	case KindStream, KindDisplayData, KindExecuteResult, KindError, KindStatus, KindExecuteInput:
		return m, nil
	default:
		return Message{}, fmt.Errorf("unknown worker message kind %q", m.Kind)
	}
}

// IsIdle reports whether m is a status message signalling the end of an
// execution.
func (m Message) IsIdle() bool {
	return m.Kind == KindStatus && m.State == StateIdle
}
