// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package manager

import "encoding/json"

// EventKind discriminates OutputEvent variants.
type EventKind int

const (
	EventText EventKind = iota
	EventImage
	EventError
)

// OutputEvent is one client-visible execution event. Exactly one variant
// is populated, selected by Kind; the wire form is one of
//
//	{"text":"..."}
//	{"image":"<base64>","format":"png"}
//	{"error":"...","traceback":["..."]}
type OutputEvent struct {
	Kind      EventKind
	Text      string
	Image     string
	Format    string
	Error     string
	Traceback []string
}

// TextEvent wraps plain text output.
func TextEvent(text string) OutputEvent {
	return OutputEvent{Kind: EventText, Text: text}
}

// ImageEvent wraps a base64-encoded PNG.
func ImageEvent(b64 string) OutputEvent {
	return OutputEvent{Kind: EventImage, Image: b64, Format: "png"}
}

// ErrorEvent wraps an execution error. An empty traceback is emitted as []
// rather than omitted.
func ErrorEvent(msg string, traceback []string) OutputEvent {
	if traceback == nil {
		traceback = []string{}
	}
	return OutputEvent{Kind: EventError, Error: msg, Traceback: traceback}
}

type textWire struct {
	Text string `json:"text"`
}

type imageWire struct {
	Image  string `json:"image"`
	Format string `json:"format"`
}

type errorWire struct {
	Error     string   `json:"error"`
	Traceback []string `json:"traceback"`
}

// MarshalJSON emits the variant's wire form.
func (e OutputEvent) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventImage:
		return json.Marshal(imageWire{Image: e.Image, Format: e.Format})
	case EventError:
		tb := e.Traceback
		if tb == nil {
			tb = []string{}
		}
		return json.Marshal(errorWire{Error: e.Error, Traceback: tb})
	default:
		return json.Marshal(textWire{Text: e.Text})
	}
}

// UnmarshalJSON decodes a wire event back into its variant. Used by the Go
// client when reading NDJSON streams.
func (e *OutputEvent) UnmarshalJSON(data []byte) error {
	var probe struct {
		Text      *string  `json:"text"`
		Image     *string  `json:"image"`
		Format    string   `json:"format"`
		Error     *string  `json:"error"`
		Traceback []string `json:"traceback"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch {
	case probe.Error != nil:
		*e = ErrorEvent(*probe.Error, probe.Traceback)
	case probe.Image != nil:
		*e = OutputEvent{Kind: EventImage, Image: *probe.Image, Format: probe.Format}
	default:
		var text string
		if probe.Text != nil {
			text = *probe.Text
		}
		*e = TextEvent(text)
	}
	return nil
}

// ExecErrorDetail is the aggregated form of an error event.
type ExecErrorDetail struct {
	Error     string   `json:"error"`
	Traceback []string `json:"traceback"`
}

// SyncResult aggregates a whole event stream, the shape returned by the
// synchronous execution route and the MCP tools.
type SyncResult struct {
	Texts  []string          `json:"texts"`
	Images []string          `json:"images"`
	Errors []ExecErrorDetail `json:"errors"`
}

// Collect folds events into a SyncResult with non-nil slices.
func Collect(events []OutputEvent) SyncResult {
	res := SyncResult{
		Texts:  []string{},
		Images: []string{},
		Errors: []ExecErrorDetail{},
	}
	for _, ev := range events {
		switch ev.Kind {
		case EventText:
			res.Texts = append(res.Texts, ev.Text)
		case EventImage:
			res.Images = append(res.Images, ev.Image)
		case EventError:
			res.Errors = append(res.Errors, ExecErrorDetail{Error: ev.Error, Traceback: ev.Traceback})
		}
	}
	return res
}
