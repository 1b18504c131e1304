// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads the file, then applies defaults, environment
// overrides, and validation, in that order. An empty path means no
// config file: the defaults plus the environment are the configuration.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		cfg, err = l.Load(ctx, path)
		if err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfig searches the candidate locations for a crucible.hjson.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{"crucible.hjson"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "crucible", "crucible.hjson"))
	}
	candidates = append(candidates, "/etc/crucible/crucible.hjson")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for %v)", candidates)
}

// ApplyEnv overlays environment variables onto cfg. File values lose to
// the environment; CLI flags are applied later and win over both.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if err := envInt("PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := envBool("DEBUG", &cfg.Server.Debug); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("API_KEY"); ok {
		cfg.Server.APIKey = v
	}
	if err := envInt("KERNEL_TIMEOUT", &cfg.Kernel.Timeout); err != nil {
		return err
	}
	if err := envInt("MAX_KERNELS", &cfg.Kernel.MaxKernels); err != nil {
		return err
	}
	if err := envInt("KERNEL_CLEANUP_INTERVAL", &cfg.Kernel.CleanupInterval); err != nil {
		return err
	}
	if err := envInt("MAX_EXECUTION_TIME", &cfg.Kernel.MaxExecutionTime); err != nil {
		return err
	}
	if err := envInt("SESSION_POOL_SIZE", &cfg.Pool.Size); err != nil {
		return err
	}
	if err := envInt("SESSION_POOL_REFILL_INTERVAL", &cfg.Pool.RefillInterval); err != nil {
		return err
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

func envBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = b
	return nil
}
