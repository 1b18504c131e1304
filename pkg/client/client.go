// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client library for the Crucible API.
//
// Crucible is a sandboxed Python execution server. This client library
// provides typed access to all Crucible API endpoints: executing code,
// managing sessions, and reading execution history.
//
// # Getting Started
//
// Create a client pointing to your Crucible server:
//
//	c := client.New("http://localhost:16010")
//
// The client provides access to different API resources through sub-clients:
//
//	// Execute code and collect the output
//	res, err := c.Execute.Sync(ctx, "print('hello')", "", nil)
//
//	// Create a session with pre-staged files
//	created, err := c.Sessions.Create(ctx, &client.CreateSessionRequest{
//	    SessionID: "tenant-1",
//	    FileURLs:  []string{"https://example.com/data.csv"},
//	})
//
//	// List active sessions
//	sessions, err := c.Sessions.List(ctx)
//
// # Authentication
//
// If the server requires an API key, configure it with [WithAPIKey]:
//
//	c := client.New("http://localhost:16010", client.WithAPIKey("secret"))
//
// The key is sent as a bearer token on every request.
//
// # Error Handling
//
// API errors are returned as *APIError values, which carry the HTTP status
// code and the server's message:
//
//	detail, err := c.Sessions.Get(ctx, "unknown")
//	if err != nil {
//	    if apiErr, ok := err.(*client.APIError); ok {
//	        fmt.Printf("API error %d: %s\n", apiErr.Code, apiErr.Message)
//	    }
//	}
//
// # Context Support
//
// All API methods accept a context.Context for cancellation and timeouts.
// Cancelling the context of a streaming execution interrupts it server-side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// APIPrefix is the path prefix of every versioned API endpoint.
const APIPrefix = "/ai/sandbox/v1/api"

// Client is a Crucible API client.
//
// A Client provides access to the Crucible API through resource-specific
// sub-clients. Use [New] to create a Client instance.
//
// The Client is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Execute provides access to code execution, streaming and buffered.
	Execute *ExecuteClient

	// Sessions provides access to session lifecycle operations.
	Sessions *SessionClient
}

// Option configures a [Client]. Options are passed to [New] to customize
// client behavior.
type Option func(*Client)

// New creates a new Crucible API client with the given base URL and options.
//
// The baseURL should be the root URL of the Crucible server
// (e.g., "http://localhost:16010"). Any trailing slash is removed.
//
// By default, the client uses no API key and a 60-second HTTP timeout.
// Use options like [WithAPIKey], [WithTimeout], or [WithHTTPClient] to
// customize.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Execute = &ExecuteClient{c: c}
	c.Sessions = &SessionClient{c: c}

	return c
}

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client for making requests.
//
// This is useful for advanced configurations like custom TLS settings or
// proxy configuration.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP client timeout for all requests.
//
// The default timeout is 60 seconds. Note that the timeout covers streaming
// executions too; use a longer timeout (or zero for none) when running
// long code.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// BaseURL returns the base URL of the API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiResponse is the standard API response envelope.
type apiResponse struct {
	ResultCode int             `json:"resultCode"`
	ResultMsg  string          `json:"resultMsg"`
	Data       json.RawMessage `json:"data"`
}

// APIError represents an error response from the Crucible API.
type APIError struct {
	// Code is the HTTP status code the server reported.
	Code int `json:"resultCode"`

	// Message is a human-readable description of the error.
	Message string `json:"resultMsg"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%d: %s", e.Code, e.Message)
	}
	return e.Message
}

// get performs a GET request to the given path.
func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// post performs a POST request to the given path with no body.
func (c *Client) post(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, nil)
}

// postJSON performs a POST request with a JSON body.
func (c *Client) postJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data))
}

// delete performs a DELETE request to the given path.
func (c *Client) delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// newRequest builds a request with auth and content headers set.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do performs an HTTP request and parses the enveloped response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

// parseResponse reads and parses an API response.
func (c *Client) parseResponse(resp *http.Response) (json.RawMessage, error) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Try to parse as standard envelope
	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil
	}

	if apiResp.ResultCode != 0 {
		return nil, &APIError{Code: apiResp.ResultCode, Message: apiResp.ResultMsg}
	}
	if apiResp.ResultMsg == "" && len(apiResp.Data) == 0 {
		// Health and the root endpoint respond without the envelope
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	return apiResp.Data, nil
}
