// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wingedpig/crucible/internal/kernel"
)

const (
	// primingTimeout bounds each start-time priming submission.
	primingTimeout = 10 * time.Second
	// rebindTimeout bounds the chdir submission when a pooled session is
	// dispensed. A session that cannot settle in this budget is destroyed.
	rebindTimeout = 2 * time.Second
)

// PrimingFontSetup configures plotting fonts once per worker so figures
// with CJK labels render instead of producing glyph boxes. Failures are
// tolerated: a worker without matplotlib still executes code.
const PrimingFontSetup = `import matplotlib.pyplot as plt
from mplfonts import use_font

try:
    use_font('Noto Sans CJK SC')
    plt.rcParams['axes.unicode_minus'] = False
except Exception:
    plt.rcParams['font.sans-serif'] = ['SimHei', 'DejaVu Sans', 'Arial Unicode MS', 'sans-serif']
    plt.rcParams['axes.unicode_minus'] = False
`

// PrimingDisableNetwork rebinds the socket constructor inside the worker.
// This is a non-robust fallback; deployments that need real isolation
// should confine the worker process at the OS level.
const PrimingDisableNetwork = `import socket

def _disabled_socket(*args, **kwargs):
    raise OSError("Network access is disabled for security reasons")

socket.socket = _disabled_socket
`

// Session binds an interpreter worker to a stable identity: an id, a
// working directory, and the file manifest rooted there. Executions are
// serialized by the busy flag, which only the execution loop toggles.
type Session struct {
	worker  kernel.Worker
	priming []string

	mu           sync.Mutex
	id           string
	workdir      string
	manifest     *Manifest
	createdAt    time.Time
	lastActivity time.Time
	busy         bool
	execCount    int
}

// Info is the client-visible session snapshot.
type Info struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Busy         bool      `json:"busy"`
	ExecCount    int       `json:"exec_count"`
}

// New wraps worker in a session rooted at workdir. The directory must
// already exist; its manifest is loaded (or started empty). priming
// fragments run silently once during Start.
func New(id, workdir string, worker kernel.Worker, priming []string) *Session {
	now := time.Now()
	return &Session{
		worker:       worker,
		priming:      priming,
		id:           id,
		workdir:      workdir,
		manifest:     LoadManifest(workdir),
		createdAt:    now,
		lastActivity: now,
	}
}

// Start launches the worker and runs the priming submissions. Priming
// problems are logged and never fail the start.
func (s *Session) Start(ctx context.Context) error {
	if err := s.worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker for session %s: %w", s.ID(), err)
	}

	for _, code := range s.priming {
		reqID, err := s.worker.Submit(code, true)
		if err != nil {
			log.Printf("[session] %s: priming submit failed: %v", s.ID(), err)
			continue
		}
		if errMsg, err := s.drainUntilIdle(reqID, primingTimeout); err != nil {
			log.Printf("[session] %s: priming did not settle: %v", s.ID(), err)
		} else if errMsg != nil {
			log.Printf("[session] %s: priming raised %s: %s", s.ID(), errMsg.Ename, errMsg.Evalue)
		}
	}
	return nil
}

// Stop shuts the worker down and removes the working directory. Both
// steps are attempted; failures are aggregated.
func (s *Session) Stop(ctx context.Context) error {
	var errs []error
	if err := s.worker.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown worker: %w", err))
	}
	if err := os.RemoveAll(s.Workdir()); err != nil {
		errs = append(errs, fmt.Errorf("remove workdir: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("stop session %s: %w", s.ID(), err)
	}
	return nil
}

// Discard shuts down the worker but leaves the working directory in
// place. Used for a session that lost an acquisition race and shares
// its directory with the winner.
func (s *Session) Discard(ctx context.Context) error {
	if err := s.worker.Shutdown(ctx); err != nil {
		return fmt.Errorf("discard session %s: %w", s.ID(), err)
	}
	return nil
}

// Rebind points a pooled session at its new client identity: the new
// working directory is created and the worker chdir'd into it. An error
// means the session must be destroyed, not dispensed.
func (s *Session) Rebind(newID, newWorkdir string) error {
	if err := os.MkdirAll(newWorkdir, 0o755); err != nil {
		return fmt.Errorf("create workdir %s: %w", newWorkdir, err)
	}

	quoted, err := json.Marshal(newWorkdir)
	if err != nil {
		return fmt.Errorf("encode workdir path: %w", err)
	}
	code := fmt.Sprintf("import os\nos.chdir(%s)\n", quoted)

	reqID, err := s.worker.Submit(code, true)
	if err != nil {
		return fmt.Errorf("submit chdir for session %s: %w", s.ID(), err)
	}
	errMsg, err := s.drainUntilIdle(reqID, rebindTimeout)
	if err != nil {
		return fmt.Errorf("rebind session %s: %w", s.ID(), err)
	}
	if errMsg != nil {
		return fmt.Errorf("rebind session %s: chdir raised %s: %s", s.ID(), errMsg.Ename, errMsg.Evalue)
	}

	s.mu.Lock()
	s.id = newID
	s.workdir = newWorkdir
	s.manifest = LoadManifest(newWorkdir)
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return nil
}

// Retire gives the session a reserve identity for its stay in the pool.
// Reserve ids are never client-visible.
func (s *Session) Retire(reserveID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = reserveID
}

// Reset clears the execution counter and busy flag for pool return. The
// manifest is left alone; callers clear it separately when recycling.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execCount = 0
	s.busy = false
}

// EmptyWorkdir removes every entry inside the working directory but keeps
// the directory itself, readying it for the next tenant.
func (s *Session) EmptyWorkdir() error {
	dir := s.Workdir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read workdir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("clean workdir %s: %w", dir, err)
		}
	}
	return nil
}

// drainUntilIdle consumes worker messages for reqID until status(idle),
// returning any error message observed along the way. Messages belonging
// to other submissions are skipped.
func (s *Session) drainUntilIdle(reqID string, budget time.Duration) (*kernel.Message, error) {
	deadline := time.NewTimer(budget)
	defer deadline.Stop()

	var errMsg *kernel.Message
	for {
		select {
		case msg, ok := <-s.worker.Messages():
			if !ok {
				return nil, errors.New("worker message channel closed")
			}
			if msg.RequestID != reqID {
				continue
			}
			if msg.Kind == kernel.KindError {
				m := msg
				errMsg = &m
			}
			if msg.IsIdle() {
				return errMsg, nil
			}
		case <-deadline.C:
			return nil, fmt.Errorf("no idle status within %s", budget)
		}
	}
}

// Touch refreshes the activity clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IsIdle reports whether the session has been inactive longer than ttl.
// Busy sessions are never idle.
func (s *Session) IsIdle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busy && now.Sub(s.lastActivity) > ttl
}

// TryMarkBusy transitions busy false → true. It fails when an execution
// already holds the session.
func (s *Session) TryMarkBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

// MarkIdle releases the busy flag.
func (s *Session) MarkIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

// IncExecCount bumps the execution counter and returns the new value.
func (s *Session) IncExecCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execCount++
	return s.execCount
}

// ID returns the session's current identity.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Workdir returns the current working directory path.
func (s *Session) Workdir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workdir
}

// Manifest returns the session's file manifest.
func (s *Session) Manifest() *Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest
}

// Worker exposes the underlying worker to the execution loop.
func (s *Session) Worker() kernel.Worker {
	return s.worker
}

// Busy reports whether an execution currently holds the session.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// LastActivity returns the last activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ExecCount returns the execution counter.
func (s *Session) ExecCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execCount
}

// Info returns the client-visible snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Busy:         s.busy,
		ExecCount:    s.execCount,
	}
}
