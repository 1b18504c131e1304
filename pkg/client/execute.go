// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ExecuteClient provides access to code execution.
//
// Access this client through [Client.Execute]:
//
//	res, err := client.Execute.Sync(ctx, "print(40 + 2)", "", nil)
type ExecuteClient struct {
	c *Client
}

// ExecuteOptions tune a single execution.
type ExecuteOptions struct {
	// Timeout bounds the execution wall clock, in seconds. Nil uses the
	// server default; zero expires immediately (useful for testing).
	Timeout *int
}

type executeRequest struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id,omitempty"`
	Timeout   *int   `json:"timeout,omitempty"`
}

// Sync runs code and returns the aggregated output once the execution
// completes. An empty sessionID creates a fresh session.
func (e *ExecuteClient) Sync(ctx context.Context, code, sessionID string, opts *ExecuteOptions) (*SyncResult, error) {
	req := executeRequest{Code: code, SessionID: sessionID}
	if opts != nil {
		req.Timeout = opts.Timeout
	}

	data, err := e.c.postJSON(ctx, APIPrefix+"/execute_sync", req)
	if err != nil {
		return nil, err
	}

	var res SyncResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}

	return &res, nil
}

// Stream runs code and returns the output as it is produced. An empty
// sessionID creates a fresh session; the resolved id is available from
// [ExecutionStream.SessionID] immediately.
//
// The caller must drain or close the stream. Cancelling ctx interrupts
// the execution server-side.
func (e *ExecuteClient) Stream(ctx context.Context, code, sessionID string, opts *ExecuteOptions) (*ExecutionStream, error) {
	req := executeRequest{Code: code, SessionID: sessionID}
	if opts != nil {
		req.Timeout = opts.Timeout
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := e.c.newRequest(ctx, http.MethodPost, APIPrefix+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := e.c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		if _, err := e.c.parseResponse(resp); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return &ExecutionStream{
		sessionID: resp.Header.Get("X-Session-Id"),
		body:      resp.Body,
		scanner:   newEventScanner(resp.Body),
	}, nil
}

// ExecutionStream iterates over the NDJSON events of a streaming
// execution. It is not safe for concurrent use.
type ExecutionStream struct {
	sessionID string
	body      io.ReadCloser
	scanner   *bufio.Scanner
	err       error
}

// SessionID returns the id of the session running the code.
func (s *ExecutionStream) SessionID() string {
	return s.sessionID
}

// Next returns the next output event. It returns io.EOF when the
// execution has completed and the stream is exhausted.
func (s *ExecutionStream) Next() (*OutputEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			s.err = err
		} else {
			s.err = io.EOF
		}
		return nil, s.err
	}

	var ev OutputEvent
	if err := json.Unmarshal(s.scanner.Bytes(), &ev); err != nil {
		s.err = fmt.Errorf("failed to parse event: %w", err)
		return nil, s.err
	}
	return &ev, nil
}

// Close releases the underlying connection. Closing before the stream is
// drained abandons the rest of the output; the execution itself keeps
// running unless the request context is cancelled.
func (s *ExecutionStream) Close() error {
	return s.body.Close()
}

// newEventScanner builds a line scanner with room for large events
// (base64 images routinely exceed the default token size).
func newEventScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return scanner
}
