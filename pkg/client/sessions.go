// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// SessionClient provides access to session lifecycle operations.
//
// Sessions are isolated Python processes with their own working directory
// and interpreter state. Access this client through [Client.Sessions]:
//
//	sessions, err := client.Sessions.List(ctx)
type SessionClient struct {
	c *Client
}

// Create creates a session, optionally staging files into its working
// directory. A nil request creates a session with a server-generated id.
//
// Creating an existing session is idempotent: the session is reused and
// any newly listed files are downloaded.
func (s *SessionClient) Create(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	if req == nil {
		req = &CreateSessionRequest{}
	}
	data, err := s.c.postJSON(ctx, APIPrefix+"/sessions", req)
	if err != nil {
		return nil, err
	}

	var created CreateSessionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}

	return &created, nil
}

// List returns all live sessions keyed by id.
func (s *SessionClient) List(ctx context.Context) (*SessionList, error) {
	data, err := s.c.get(ctx, APIPrefix+"/sessions")
	if err != nil {
		return nil, err
	}

	var list SessionList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse sessions: %w", err)
	}

	return &list, nil
}

// Get returns a specific session with its working directory contents.
//
// Returns an error if the session does not exist.
func (s *SessionClient) Get(ctx context.Context, id string) (*SessionDetail, error) {
	data, err := s.c.get(ctx, APIPrefix+"/sessions/"+id)
	if err != nil {
		return nil, err
	}

	var detail SessionDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}

	return &detail, nil
}

// Delete terminates a session. Its interpreter state and working directory
// are discarded; the worker may be recycled into the server's warm pool.
func (s *SessionClient) Delete(ctx context.Context, id string) error {
	_, err := s.c.delete(ctx, APIPrefix+"/sessions/"+id)
	return err
}

// Interrupt stops the session's currently running execution without
// destroying the session.
func (s *SessionClient) Interrupt(ctx context.Context, id string) error {
	_, err := s.c.post(ctx, APIPrefix+"/sessions/"+id+"/interrupt")
	return err
}

// History returns up to limit recent executions for a session, newest
// first. limit <= 0 uses the server default.
//
// Returns an error if the server runs without a history store.
func (s *SessionClient) History(ctx context.Context, id string, limit int) (*HistoryPage, error) {
	path := APIPrefix + "/sessions/" + id + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	data, err := s.c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var page HistoryPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}

	return &page, nil
}
