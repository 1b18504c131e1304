// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity. It expects defaults to have
// been applied already.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateServer(cfg, errs)
	v.validateKernel(cfg, errs)
	v.validatePool(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs.Add("server.port", "must be between 1 and 65535")
	}
	for i, origin := range cfg.Server.AllowedOrigins {
		if origin == "" {
			errs.Add(fmt.Sprintf("server.allowed_origins[%d]", i), "must not be empty")
		}
	}
}

func (v *Validator) validateKernel(cfg *Config, errs *ValidationError) {
	if cfg.Kernel.Python == "" {
		errs.Add("kernel.python", "is required")
	}
	if cfg.Kernel.WorkdirRoot == "" {
		errs.Add("kernel.workdir_root", "is required")
	}
	if cfg.Kernel.Timeout < 1 {
		errs.Add("kernel.timeout", "must be at least 1 second")
	}
	if cfg.Kernel.MaxKernels < 1 {
		errs.Add("kernel.max_kernels", "must be at least 1")
	}
	if cfg.Kernel.CleanupInterval < 1 {
		errs.Add("kernel.cleanup_interval", "must be at least 1 second")
	}
	if cfg.Kernel.MaxExecutionTime < 1 {
		errs.Add("kernel.max_execution_time", "must be at least 1 second")
	}
}

func (v *Validator) validatePool(cfg *Config, errs *ValidationError) {
	if cfg.Pool.Size < 0 {
		errs.Add("pool.size", "must not be negative")
	}
	if cfg.Pool.Size > cfg.Kernel.MaxKernels {
		errs.Add("pool.size", "must not exceed kernel.max_kernels")
	}
	if cfg.Pool.RefillInterval < 1 {
		errs.Add("pool.refill_interval", "must be at least 1 second")
	}
}
