// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{ kernel: { max_execution_time: 30 } }`), 0o644))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, Default(), func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{ kernel: { max_execution_time: 45 } }`), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Kernel.MaxExecutionTime == 45
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	var mu sync.Mutex
	reloads := 0
	w, err := NewWatcher(path, Default(), func(cfg *Config) {
		mu.Lock()
		reloads++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	// Broken HJSON must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte(`{ server: { port: }`), 0o644))
	time.Sleep(2 * reloadDebounce)

	mu.Lock()
	assert.Equal(t, 0, reloads)
	mu.Unlock()
}

func TestWatcher_SurvivesFileReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crucible.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, Default(), func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	// Editor-style save: write a temp file, then rename over the target.
	tmp := filepath.Join(dir, ".crucible.hjson.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{ pool: { size: 5 }, kernel: { max_kernels: 10 } }`), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Pool.Size == 5
	}, 5*time.Second, 50*time.Millisecond)
}
