// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/crucible/internal/api"
	"github.com/wingedpig/crucible/internal/config"
	"github.com/wingedpig/crucible/internal/events"
	"github.com/wingedpig/crucible/internal/history"
	"github.com/wingedpig/crucible/internal/kernel"
	"github.com/wingedpig/crucible/internal/manager"
	"github.com/wingedpig/crucible/internal/mcp"
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *config.Config

	eventBus      events.EventBus
	historyStore  *history.Store
	sessionMgr    *manager.Manager
	apiServer     *api.Server
	configWatcher *config.Watcher

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app. Non-zero values
// override both the config file and the environment.
type Options struct {
	ConfigPath       string
	Host             string
	Port             int
	Debug            bool
	APIKey           string
	MaxKernels       int
	KernelTimeout    int // seconds
	MaxExecutionTime int // seconds
	Version          string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Command-line overrides win over file and environment.
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Debug {
		cfg.Server.Debug = true
	}
	if opts.APIKey != "" {
		cfg.Server.APIKey = opts.APIKey
	}
	if opts.MaxKernels > 0 {
		cfg.Kernel.MaxKernels = opts.MaxKernels
	}
	if opts.KernelTimeout > 0 {
		cfg.Kernel.Timeout = opts.KernelTimeout
	}
	if opts.MaxExecutionTime > 0 {
		cfg.Kernel.MaxExecutionTime = opts.MaxExecutionTime
	}
	app.config = cfg

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: 1000,
		HistoryMaxAge:    time.Hour,
	})

	return app, nil
}

// Config returns the current configuration.
func (app *App) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.config
}

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	if cfg.History.DB != "" {
		store, err := history.Open(cfg.History.DB)
		if err != nil {
			log.Printf("[app] history disabled, cannot open %s: %v", cfg.History.DB, err)
		} else {
			app.historyStore = store
			log.Printf("[app] execution history at %s", cfg.History.DB)
		}
	}

	python := cfg.Kernel.Python
	factory := func(workdir string) kernel.Worker {
		return kernel.NewPyWorker(python, workdir)
	}

	app.sessionMgr = manager.New(manager.Config{
		CapacityMax:        cfg.Kernel.MaxKernels,
		PoolTarget:         cfg.Pool.Size,
		PoolRefillInterval: cfg.Pool.RefillEvery(),
		IdleTTL:            cfg.Kernel.IdleTTL(),
		CleanupInterval:    cfg.Kernel.CleanupEvery(),
		DefaultExecTimeout: cfg.Kernel.ExecTimeout(),
		WorkdirRoot:        cfg.Kernel.WorkdirRoot,
		VerifyTLS:          true,
		DisableNetwork:     cfg.Kernel.DisableNetwork,
	}, factory, app.eventBus, app.historyStore)

	app.apiServer = api.NewServer(cfg.Server, api.Dependencies{
		Manager:  app.sessionMgr,
		EventBus: app.eventBus,
		History:  app.historyStore,
		MCP:      mcp.NewHandler(app.sessionMgr, app.version),
		Config:   cfg,
		Version:  app.version,
	})

	// Watch the config file for runtime-safe changes. A missing or
	// unspecified file just means no hot reload.
	if app.configPath != "" {
		if _, err := os.Stat(app.configPath); err == nil {
			w, err := config.NewWatcher(app.configPath, cfg, app.applyReload)
			if err != nil {
				log.Printf("[app] config watch disabled: %v", err)
			} else {
				app.configWatcher = w
			}
		}
	}

	return nil
}

// applyReload pushes the runtime-safe subset of a reloaded config into
// the running components.
func (app *App) applyReload(cfg *config.Config) {
	app.mu.Lock()
	app.config = cfg
	app.mu.Unlock()

	app.sessionMgr.SetTunables(manager.Tunables{
		CapacityMax:        cfg.Kernel.MaxKernels,
		PoolTarget:         cfg.Pool.Size,
		IdleTTL:            cfg.Kernel.IdleTTL(),
		DefaultExecTimeout: cfg.Kernel.ExecTimeout(),
	})
	log.Printf("[app] applied reloaded config: max_kernels=%d pool_size=%d kernel_timeout=%s max_execution_time=%s",
		cfg.Kernel.MaxKernels, cfg.Pool.Size, cfg.Kernel.IdleTTL(), cfg.Kernel.ExecTimeout())
}

// Start starts the session manager and the API server.
func (app *App) Start(ctx context.Context) error {
	if err := app.sessionMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}

	go func() {
		scheme := "http"
		if app.config.Server.TailscaleTLS {
			scheme = "https"
		}
		log.Printf("[app] API server on %s://%s", scheme, app.config.Server.ListenAddr())
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[app] API server error: %v", err)
		}
	}()

	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components: HTTP first so no new
// executions arrive, then the sessions, then the supporting stores.
func (app *App) Shutdown(ctx context.Context) error {
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.configWatcher != nil {
		app.configWatcher.Close()
	}

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	if app.sessionMgr != nil {
		if err := app.sessionMgr.Stop(shutdownCtx); err != nil {
			log.Printf("Error stopping session manager: %v", err)
		}
	}

	if app.eventBus != nil {
		app.eventBus.Close()
	}

	if app.historyStore != nil {
		if err := app.historyStore.Close(); err != nil {
			log.Printf("Error closing history store: %v", err)
		}
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
