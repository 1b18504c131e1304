// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// Health returns the server health report.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	data, err := c.get(ctx, APIPrefix+"/health")
	if err != nil {
		return nil, err
	}

	var health HealthStatus
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health: %w", err)
	}

	return &health, nil
}

// Info returns the root endpoint's service description.
func (c *Client) Info(ctx context.Context) (*ServerInfo, error) {
	data, err := c.get(ctx, "/")
	if err != nil {
		return nil, err
	}

	var info ServerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse server info: %w", err)
	}

	return &info, nil
}
