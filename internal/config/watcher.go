// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// ReloadFunc receives the freshly loaded configuration after a file
// change. Only the runtime-adjustable subset should be acted on; the
// watcher has already logged any ignored structural changes.
type ReloadFunc func(cfg *Config)

// Watcher watches the config file and reloads it on change. Structural
// settings (host, port, workdir root, interpreter) cannot change at
// runtime; edits to them are logged and ignored until restart.
type Watcher struct {
	path     string
	loader   *Loader
	onReload ReloadFunc

	fsWatcher *fsnotify.Watcher
	closeCh   chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	current *Config
	timer   *time.Timer
	closed  bool
}

// NewWatcher starts watching path. current is the configuration the
// server booted with, the baseline for change detection.
func NewWatcher(path string, current *Config, onReload ReloadFunc) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	w := &Watcher{
		path:      path,
		loader:    NewLoader(),
		onReload:  onReload,
		fsWatcher: fsWatcher,
		closeCh:   make(chan struct{}),
		current:   current,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.closeCh)
	w.fsWatcher.Close()
	w.wg.Wait()
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Editors often replace the file (rename + create), which drops the
	// fsnotify watch. Re-add on remove/rename, then reload as usual.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if err := w.fsWatcher.Add(w.path); err != nil {
			log.Printf("[config] re-watch %s: %v", w.path, err)
			return
		}
	} else if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	w.scheduleReload()
}

// scheduleReload debounces bursts of file events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.LoadWithDefaults(context.Background(), w.path)
	if err != nil {
		log.Printf("[config] reload failed, keeping previous config: %v", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	logIgnoredChanges(old, cfg)
	log.Printf("[config] reloaded %s", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// logIgnoredChanges reports edits to settings that require a restart.
func logIgnoredChanges(old, cfg *Config) {
	if old == nil {
		return
	}
	if cfg.Server.Host != old.Server.Host || cfg.Server.Port != old.Server.Port {
		log.Printf("[config] server address change requires restart, ignoring")
	}
	if cfg.Server.TailscaleTLS != old.Server.TailscaleTLS {
		log.Printf("[config] tailscale_tls change requires restart, ignoring")
	}
	if cfg.Kernel.WorkdirRoot != old.Kernel.WorkdirRoot {
		log.Printf("[config] workdir_root change requires restart, ignoring")
	}
	if cfg.Kernel.Python != old.Kernel.Python {
		log.Printf("[config] python interpreter change requires restart, ignoring")
	}
	if cfg.History.DB != old.History.DB {
		log.Printf("[config] history db change requires restart, ignoring")
	}
}
