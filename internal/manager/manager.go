// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package manager schedules interpreter sessions: it keeps a warm pool of
// pre-started workers, binds sessions to client ids, runs executions,
// evicts under capacity pressure, and reaps idle or dead sessions.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	ps "github.com/mitchellh/go-ps"
	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/crucible/internal/events"
	"github.com/wingedpig/crucible/internal/history"
	"github.com/wingedpig/crucible/internal/kernel"
	"github.com/wingedpig/crucible/internal/session"
)

var (
	// ErrSessionNotFound is returned for operations on an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy is returned when an execution is requested on a session
	// that already has one in flight.
	ErrSessionBusy = errors.New("session is busy")

	// ErrManagerClosed is returned after Stop.
	ErrManagerClosed = errors.New("session manager is closed")
)

const reserveIDPrefix = "reserve_"

// WorkerFactory builds the worker for a session rooted at workdir.
type WorkerFactory func(workdir string) kernel.Worker

// FileSpec is one id-bearing file requested for a session.
type FileSpec struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// FetchFunc downloads a URL into a directory and returns the saved
// filename. It matches session.Fetch.
type FetchFunc func(ctx context.Context, url, destDir string, timeout time.Duration, verifyTLS bool) (string, error)

// Config carries the manager's tunables.
type Config struct {
	CapacityMax        int           // max active sessions
	PoolTarget         int           // warm pool steady-state size
	PoolRefillInterval time.Duration // refill loop period
	IdleTTL            time.Duration // inactivity bound before reap
	CleanupInterval    time.Duration // cleanup loop period
	DefaultExecTimeout time.Duration // per-execution wall clock default
	WorkdirRoot        string        // parent of all session workdirs
	DownloadTimeout    time.Duration // default per-file download budget
	VerifyTLS          bool          // certificate validation on downloads
	DisableNetwork     bool          // prime workers with the socket kill switch
}

func (c *Config) applyDefaults() {
	if c.CapacityMax <= 0 {
		c.CapacityMax = 10
	}
	if c.PoolTarget < 0 {
		c.PoolTarget = 0
	}
	if c.PoolRefillInterval <= 0 {
		c.PoolRefillInterval = 30 * time.Second
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.DefaultExecTimeout <= 0 {
		c.DefaultExecTimeout = 30 * time.Second
	}
	if c.WorkdirRoot == "" {
		c.WorkdirRoot = "/tmp/sandbox_sessions"
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 30 * time.Second
	}
}

// Manager owns every live session: the active map (client-bound) and the
// warm pool (reserve). One mutex guards both; it is held for map and list
// operations only, never across worker I/O.
type Manager struct {
	cfg     Config
	factory WorkerFactory
	bus     events.EventBus
	store   *history.Store
	fetch   FetchFunc
	priming []string

	mu     sync.Mutex
	active map[string]*session.Session
	pool   []*session.Session
	closed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a manager. bus and store may be nil (events and history are
// then disabled); factory must not be nil.
func New(cfg Config, factory WorkerFactory, bus events.EventBus, store *history.Store) *Manager {
	cfg.applyDefaults()

	priming := []string{session.PrimingFontSetup}
	if cfg.DisableNetwork {
		priming = append(priming, session.PrimingDisableNetwork)
	}

	return &Manager{
		cfg:     cfg,
		factory: factory,
		bus:     bus,
		store:   store,
		fetch:   session.Fetch,
		priming: priming,
		active:  make(map[string]*session.Session),
	}
}

// SetFetcher replaces the download function. Used by tests.
func (m *Manager) SetFetcher(f FetchFunc) {
	m.fetch = f
}

// Tunables is the subset of Config that is safe to change while the
// manager is running. Loop periods are excluded: their tickers are
// already armed.
type Tunables struct {
	CapacityMax        int
	PoolTarget         int
	IdleTTL            time.Duration
	DefaultExecTimeout time.Duration
}

// SetTunables applies a reloaded configuration. Zero or negative values
// keep the current setting. Existing sessions are not disturbed; the new
// limits take effect on the next acquire, cleanup tick, or execution.
func (m *Manager) SetTunables(t Tunables) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CapacityMax > 0 {
		m.cfg.CapacityMax = t.CapacityMax
	}
	if t.PoolTarget >= 0 {
		m.cfg.PoolTarget = t.PoolTarget
	}
	if t.IdleTTL > 0 {
		m.cfg.IdleTTL = t.IdleTTL
	}
	if t.DefaultExecTimeout > 0 {
		m.cfg.DefaultExecTimeout = t.DefaultExecTimeout
	}
}

func (m *Manager) defaultExecTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.DefaultExecTimeout
}

// Start launches the cleanup and refill loops, then primes the pool up to
// its target size. Pool priming failures are logged, not fatal: the warm
// pool is an optimization, not a requirement.
func (m *Manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.WorkdirRoot, 0o755); err != nil {
		return fmt.Errorf("create workdir root: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(2)
	go m.cleanupLoop(loopCtx)
	go m.refillLoop(loopCtx)

	if err := m.fillPool(ctx); err != nil {
		log.Printf("[manager] initial pool priming incomplete: %v", err)
	}
	return nil
}

// Stop cancels the background loops and drains every session, active map
// first, then the pool.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	actives := make([]*session.Session, 0, len(m.active))
	for _, s := range m.active {
		actives = append(actives, s)
	}
	m.active = make(map[string]*session.Session)
	pooled := m.pool
	m.pool = nil
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	var g errgroup.Group
	for _, s := range append(actives, pooled...) {
		s := s
		g.Go(func() error {
			if err := s.Stop(ctx); err != nil {
				log.Printf("[manager] stop during shutdown: %v", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// AcquireResult reports the outcome of one acquisition.
type AcquireResult struct {
	Session    *session.Session
	Downloaded []string
	Errors     []string
}

// Acquire resolves id to a session, creating one when needed, and
// processes any requested downloads into its working directory. Download
// failures never abort the acquisition; they are collected in the result.
// An empty id asks for a server-generated one.
func (m *Manager) Acquire(ctx context.Context, id string, urls []string, files []FileSpec, timeout time.Duration) (*AcquireResult, error) {
	if timeout <= 0 {
		timeout = m.cfg.DownloadTimeout
	}
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}

	// Reuse path: the id is already bound.
	if s, ok := m.active[id]; ok {
		m.mu.Unlock()
		s.Touch()
		if purged := s.Manifest().Reconcile(); len(purged) > 0 {
			log.Printf("[manager] session %s: purged %d stale manifest entries", id, len(purged))
		}
		res := &AcquireResult{Session: s}
		m.processDownloads(ctx, s, urls, files, timeout, res)
		m.publish(events.EventSessionReused, id, nil)
		return res, nil
	}

	// Capacity pressure: evict the oldest non-busy active session. When
	// every session is busy the new creation proceeds anyway, transiently
	// overshooting the cap.
	var victim *session.Session
	if len(m.active) >= m.cfg.CapacityMax {
		victim = m.selectEvictionVictimLocked()
		if victim == nil {
			log.Printf("[manager] capacity %d reached with all sessions busy, overshooting", m.cfg.CapacityMax)
		}
	}

	// Warm pool hit: pop the head.
	var pooled *session.Session
	if len(m.pool) > 0 {
		pooled = m.pool[0]
		m.pool = m.pool[1:]
	}
	m.mu.Unlock()

	if victim != nil {
		evictedID := victim.ID()
		m.release(ctx, victim)
		m.publish(events.EventSessionEvicted, evictedID, nil)
	}

	workdir := filepath.Join(m.cfg.WorkdirRoot, id)
	s, err := m.bindSession(ctx, pooled, id, workdir)
	if err != nil {
		return nil, err
	}

	res := &AcquireResult{Session: s}
	m.processDownloads(ctx, s, urls, files, timeout, res)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.Stop(ctx)
		return nil, ErrManagerClosed
	}
	// A concurrent Acquire may have bound the id while our worker was
	// starting. The winner stays; our duplicate is discarded without
	// touching the shared working directory.
	if existing, ok := m.active[id]; ok {
		m.mu.Unlock()
		if err := s.Discard(ctx); err != nil {
			log.Printf("[manager] discard duplicate session %s: %v", id, err)
		}
		existing.Touch()
		res.Session = existing
		m.publish(events.EventSessionReused, id, nil)
		return res, nil
	}
	m.active[id] = s
	m.mu.Unlock()

	m.publish(events.EventSessionCreated, id, map[string]interface{}{
		"pooled": pooled != nil,
	})
	return res, nil
}

// bindSession turns a pooled session (or nil) into one bound to id. A
// pooled session that fails its rebind is destroyed and replaced by a
// fresh one.
func (m *Manager) bindSession(ctx context.Context, pooled *session.Session, id, workdir string) (*session.Session, error) {
	if pooled != nil {
		if err := pooled.Rebind(id, workdir); err != nil {
			log.Printf("[manager] destroying pooled session after rebind failure: %v", err)
			if serr := pooled.Stop(ctx); serr != nil {
				log.Printf("[manager] stop failed pooled session: %v", serr)
			}
		} else {
			return pooled, nil
		}
	}

	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir for session %s: %w", id, err)
	}
	s := session.New(id, workdir, m.factory(workdir), m.priming)
	if err := s.Start(ctx); err != nil {
		_ = os.RemoveAll(workdir)
		return nil, fmt.Errorf("start session %s: %w", id, err)
	}
	return s, nil
}

// processDownloads fetches legacy urls and id-bearing files into the
// session's workdir, recording id-bearing results in the manifest. A file
// id whose backing file is still present is not re-fetched.
func (m *Manager) processDownloads(ctx context.Context, s *session.Session, urls []string, files []FileSpec, timeout time.Duration, res *AcquireResult) {
	workdir := s.Workdir()
	manifest := s.Manifest()

	for _, rawURL := range urls {
		name, err := m.fetch(ctx, rawURL, workdir, timeout, m.cfg.VerifyTLS)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Downloaded = append(res.Downloaded, name)
	}

	for _, f := range files {
		if name, ok := manifest.NameOf(f.ID); ok {
			if _, err := os.Stat(filepath.Join(workdir, name)); err == nil {
				res.Downloaded = append(res.Downloaded, name)
				continue
			}
			if err := manifest.Remove(f.ID); err != nil {
				log.Printf("[manager] purge stale manifest entry %s: %v", f.ID, err)
			}
		}

		name, err := m.fetch(ctx, f.URL, workdir, timeout, m.cfg.VerifyTLS)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		if err := manifest.Put(f.ID, name); err != nil {
			log.Printf("[manager] record manifest entry %s: %v", f.ID, err)
		}
		res.Downloaded = append(res.Downloaded, name)
	}
}

// Get returns the active session bound to id.
func (m *Manager) Get(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[id]
	return s, ok
}

// List returns a snapshot of every active session.
func (m *Manager) List() []session.Info {
	m.mu.Lock()
	actives := make([]*session.Session, 0, len(m.active))
	for _, s := range m.active {
		actives = append(actives, s)
	}
	m.mu.Unlock()

	infos := make([]session.Info, 0, len(actives))
	for _, s := range actives {
		infos = append(infos, s.Info())
	}
	return infos
}

// SessionDetail is the full client-visible view of one session.
type SessionDetail struct {
	session.Info
	Workdir string            `json:"working_directory"`
	Files   map[string]string `json:"files"`
}

// Detail returns the detail view for an active session, including its
// file manifest.
func (m *Manager) Detail(id string) (SessionDetail, error) {
	s, ok := m.Get(id)
	if !ok {
		return SessionDetail{}, ErrSessionNotFound
	}
	return SessionDetail{
		Info:    s.Info(),
		Workdir: s.Workdir(),
		Files:   s.Manifest().All(),
	}, nil
}

// ActiveCount returns the number of client-bound sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// PoolCount returns the warm pool size.
func (m *Manager) PoolCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool)
}

// Terminate removes the session bound to id and attempts to return its
// worker to the pool.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	m.release(ctx, s)
	m.publish(events.EventSessionReleased, id, nil)
	return nil
}

// Interrupt forwards an interrupt to the session's worker.
func (m *Manager) Interrupt(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Worker().Interrupt()
}

// release tries to recycle a session into the pool; when the pool is full
// or the cleanup fails, the session is stopped instead. The caller has
// already removed it from the active map.
func (m *Manager) release(ctx context.Context, s *session.Session) {
	m.mu.Lock()
	hasRoom := !m.closed && len(m.pool) < m.cfg.PoolTarget
	m.mu.Unlock()

	if hasRoom {
		if err := m.recycle(s); err == nil {
			m.mu.Lock()
			if !m.closed && len(m.pool) < m.cfg.PoolTarget {
				m.pool = append(m.pool, s)
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
		} else {
			log.Printf("[manager] recycle failed for session %s: %v", s.ID(), err)
		}
	}

	if err := s.Stop(ctx); err != nil {
		log.Printf("[manager] stop session %s: %v", s.ID(), err)
	}
	m.publish(events.EventSessionStopped, s.ID(), nil)
}

// recycle readies a session for its next tenant: counters cleared, files
// removed (directory kept), manifest emptied, reserve identity assigned.
func (m *Manager) recycle(s *session.Session) error {
	if err := s.EmptyWorkdir(); err != nil {
		return err
	}
	if err := s.Manifest().Clear(); err != nil {
		return err
	}
	s.Reset()
	s.Retire(reserveIDPrefix + uuid.NewString())
	s.Touch()
	return nil
}

// selectEvictionVictimLocked picks the oldest non-busy active session and
// removes it from the active map. Returns nil when every session is busy.
// Caller holds m.mu.
func (m *Manager) selectEvictionVictimLocked() *session.Session {
	var victim *session.Session
	for _, s := range m.active {
		if s.Busy() {
			continue
		}
		if victim == nil || s.CreatedAt().Before(victim.CreatedAt()) {
			victim = s
		}
	}
	if victim != nil {
		delete(m.active, victim.ID())
	}
	return victim
}

// cleanupLoop periodically reaps idle and dead sessions.
func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanupTick(ctx)
		}
	}
}

// cleanupTick stops (never pool-returns) every non-busy session past the
// idle TTL, plus any session whose interpreter process has vanished. Idle
// sessions carry indeterminate state and are not safe to recycle.
func (m *Manager) cleanupTick(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var victims []*session.Session
	for id, s := range m.active {
		if s.IsIdle(now, m.cfg.IdleTTL) {
			delete(m.active, id)
			victims = append(victims, s)
			continue
		}
		if !s.Busy() && workerGone(s.Worker().Pid()) {
			log.Printf("[manager] session %s: worker process is gone, reaping", id)
			delete(m.active, id)
			victims = append(victims, s)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		id := s.ID()
		if err := s.Stop(ctx); err != nil {
			log.Printf("[manager] cleanup stop session %s: %v", id, err)
		}
		m.publish(events.EventSessionStopped, id, map[string]interface{}{"reason": "idle"})
	}
}

// workerGone reports whether the interpreter pid no longer exists.
func workerGone(pid int) bool {
	if pid <= 0 {
		return true
	}
	proc, err := ps.FindProcess(pid)
	if err != nil {
		// Lookup failure says nothing about the process.
		return false
	}
	return proc == nil
}

// refillLoop tops the pool up to its target size every tick.
func (m *Manager) refillLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PoolRefillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.fillPool(ctx); err != nil {
				log.Printf("[manager] pool refill: %v", err)
			}
		}
	}
}

// fillPool creates reserve sessions until the pool reaches its target.
// The first creation failure ends the fill.
func (m *Manager) fillPool(ctx context.Context) error {
	m.mu.Lock()
	need := m.cfg.PoolTarget - len(m.pool)
	closed := m.closed
	m.mu.Unlock()
	if closed || need <= 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	created := make([]*session.Session, need)
	for i := 0; i < need; i++ {
		i := i
		g.Go(func() error {
			s, err := m.newReserveSession(gctx)
			if err != nil {
				return err
			}
			created[i] = s
			return nil
		})
	}
	err := g.Wait()

	added := 0
	m.mu.Lock()
	for _, s := range created {
		if s == nil {
			continue
		}
		if m.closed || len(m.pool) >= m.cfg.PoolTarget {
			m.mu.Unlock()
			_ = s.Stop(ctx)
			m.mu.Lock()
			continue
		}
		m.pool = append(m.pool, s)
		added++
	}
	m.mu.Unlock()

	if added > 0 {
		m.publish(events.EventPoolRefilled, "", map[string]interface{}{"added": added})
	}
	return err
}

// newReserveSession starts one pooled session under a reserve id.
func (m *Manager) newReserveSession(ctx context.Context) (*session.Session, error) {
	id := reserveIDPrefix + uuid.NewString()
	workdir := filepath.Join(m.cfg.WorkdirRoot, id)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("create reserve workdir: %w", err)
	}
	s := session.New(id, workdir, m.factory(workdir), m.priming)
	if err := s.Start(ctx); err != nil {
		_ = os.RemoveAll(workdir)
		return nil, fmt.Errorf("start reserve session: %w", err)
	}
	return s, nil
}

// destroy removes a session from the active map and stops it. Used when a
// worker's channels die mid-execution.
func (m *Manager) destroy(ctx context.Context, s *session.Session) {
	id := s.ID()
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()

	if err := s.Stop(ctx); err != nil {
		log.Printf("[manager] destroy session %s: %v", id, err)
	}
	m.publish(events.EventSessionStopped, id, map[string]interface{}{"reason": "worker failure"})
}

// publish emits a lifecycle event when a bus is attached.
func (m *Manager) publish(eventType, sessionID string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(context.Background(), events.Event{
		Type:    eventType,
		Session: sessionID,
		Payload: payload,
	}); err != nil && !errors.Is(err, events.ErrBusClosed) {
		log.Printf("[manager] publish %s: %v", eventType, err)
	}
}
