// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session implements sandbox sessions: an interpreter worker bound
// to a working directory, plus the durable file manifest and the URL
// downloader that populate it.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ManifestFileName is the manifest document inside each working directory.
const ManifestFileName = ".session_files.json"

// Manifest is the per-session {file id → filename} map, persisted as a
// single JSON document in the working directory. Every mutation rewrites
// the document atomically (temp file + rename).
type Manifest struct {
	mu      sync.RWMutex
	dir     string
	entries map[string]string
}

// LoadManifest reads the manifest in dir. A missing document yields an
// empty manifest; a malformed one is logged and also yields an empty
// manifest — loading never fails.
func LoadManifest(dir string) *Manifest {
	m := &Manifest{dir: dir, entries: make(map[string]string)}

	raw, err := os.ReadFile(m.path())
	if err != nil {
		return m
	}
	if err := json.Unmarshal(raw, &m.entries); err != nil {
		log.Printf("[session] malformed manifest in %s, starting empty: %v", dir, err)
		m.entries = make(map[string]string)
	}
	return m
}

func (m *Manifest) path() string {
	return filepath.Join(m.dir, ManifestFileName)
}

// Has reports whether a file id is tracked.
func (m *Manifest) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

// NameOf returns the filename recorded for id.
func (m *Manifest) NameOf(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.entries[id]
	return name, ok
}

// Put records id → name and persists.
func (m *Manifest) Put(id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = name
	return m.persist()
}

// Remove deletes the entry for id and persists.
func (m *Manifest) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return m.persist()
}

// All returns a copy of the entries.
func (m *Manifest) All() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of tracked files.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear drops every entry and persists.
func (m *Manifest) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]string)
	return m.persist()
}

// Reconcile purges entries whose backing file no longer exists in the
// working directory and returns the purged ids. The document is rewritten
// only when something was purged.
func (m *Manifest) Reconcile() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged []string
	for id, name := range m.entries {
		if _, err := os.Stat(filepath.Join(m.dir, name)); err != nil {
			purged = append(purged, id)
		}
	}
	if len(purged) == 0 {
		return nil
	}

	sort.Strings(purged)
	for _, id := range purged {
		delete(m.entries, id)
	}
	if err := m.persist(); err != nil {
		log.Printf("[session] persist manifest after reconcile: %v", err)
	}
	return purged
}

// persist writes the full document. Callers hold m.mu.
func (m *Manifest) persist() error {
	raw, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(m.dir, ManifestFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close manifest temp file: %w", err)
	}
	if err := os.Rename(tmpName, m.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
