// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading, environment
// overrides, and hot reload of the runtime-adjustable subset.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the root configuration structure for Crucible. Interval and
// timeout fields hold whole seconds; the accessor methods convert.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Kernel  KernelConfig  `json:"kernel"`
	Pool    PoolConfig    `json:"pool"`
	History HistoryConfig `json:"history"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Debug  bool   `json:"debug"`
	APIKey string `json:"api_key"` // empty disables authentication

	// TailscaleTLS serves HTTPS with certificates fetched from the local
	// tailscaled instead of plain HTTP.
	TailscaleTLS bool `json:"tailscale_tls"`

	AllowedOrigins []string `json:"allowed_origins"`
}

// ListenAddr returns the host:port the server binds to.
func (c *ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// KernelConfig configures the interpreter workers and their lifecycle.
type KernelConfig struct {
	Python           string `json:"python"`             // interpreter binary
	WorkdirRoot      string `json:"workdir_root"`       // parent of all session directories
	Timeout          int    `json:"timeout"`            // idle seconds before a session is reaped
	MaxKernels       int    `json:"max_kernels"`        // active session cap
	CleanupInterval  int    `json:"cleanup_interval"`   // idle-reaper period, seconds
	MaxExecutionTime int    `json:"max_execution_time"` // default per-execution wall clock, seconds
	DisableNetwork   bool   `json:"disable_network"`    // prime workers with the socket kill switch
}

// IdleTTL returns the session idle bound.
func (c *KernelConfig) IdleTTL() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// CleanupEvery returns the idle-reaper period.
func (c *KernelConfig) CleanupEvery() time.Duration {
	return time.Duration(c.CleanupInterval) * time.Second
}

// ExecTimeout returns the default execution wall-clock budget.
func (c *KernelConfig) ExecTimeout() time.Duration {
	return time.Duration(c.MaxExecutionTime) * time.Second
}

// PoolConfig configures the warm session pool.
type PoolConfig struct {
	Size           int `json:"size"`
	RefillInterval int `json:"refill_interval"` // seconds
}

// RefillEvery returns the pool refill period.
func (c *PoolConfig) RefillEvery() time.Duration {
	return time.Duration(c.RefillInterval) * time.Second
}

// HistoryConfig configures the execution history store.
type HistoryConfig struct {
	DB string `json:"db"` // sqlite path; empty disables history
}

// Default returns a configuration with every default applied, the shape
// used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 16010
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}

	if cfg.Kernel.Python == "" {
		cfg.Kernel.Python = "python3"
	}
	if cfg.Kernel.WorkdirRoot == "" {
		cfg.Kernel.WorkdirRoot = "/tmp/sandbox_sessions"
	}
	if cfg.Kernel.Timeout == 0 {
		cfg.Kernel.Timeout = 300
	}
	if cfg.Kernel.MaxKernels == 0 {
		cfg.Kernel.MaxKernels = 10
	}
	if cfg.Kernel.CleanupInterval == 0 {
		cfg.Kernel.CleanupInterval = 60
	}
	if cfg.Kernel.MaxExecutionTime == 0 {
		cfg.Kernel.MaxExecutionTime = 30
	}

	if cfg.Pool.Size == 0 {
		cfg.Pool.Size = 2
	}
	if cfg.Pool.RefillInterval == 0 {
		cfg.Pool.RefillInterval = 30
	}
}
