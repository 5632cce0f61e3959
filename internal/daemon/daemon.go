// Package daemon runs the long-lived psstudio process: it owns the workspace, serves the
// CLI over a Unix socket, and talks to the remote solver and configuration server.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/psstudio/internal/debounce"
	"github.com/msageha/psstudio/internal/events"
	"github.com/msageha/psstudio/internal/lock"
	"github.com/msageha/psstudio/internal/logging"
	"github.com/msageha/psstudio/internal/metrics"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/notify"
	"github.com/msageha/psstudio/internal/overrides"
	"github.com/msageha/psstudio/internal/remote"
	"github.com/msageha/psstudio/internal/schema"
	"github.com/msageha/psstudio/internal/setup"
	"github.com/msageha/psstudio/internal/store"
	"github.com/msageha/psstudio/internal/studio"
	"github.com/msageha/psstudio/internal/uds"
	"github.com/msageha/psstudio/templates"
)

// snapshotInterval is how often state/metrics.yaml is rewritten.
const snapshotInterval = 10 * time.Second

// Option replaces one of the daemon's remote dependencies.
type Option func(*Daemon)

func WithSolver(s remote.Solver) Option {
	return func(d *Daemon) { d.solver = s }
}

func WithConfigFetcher(f studio.ConfigFetcher) Option {
	return func(d *Daemon) { d.configFetcher = f }
}

func WithSchemaFetcher(f schema.Fetcher) Option {
	return func(d *Daemon) { d.schemaFetcher = f }
}

// WithNotifier replaces the desktop notifier used when daemon.notify is set.
func WithNotifier(send notify.SendFunc) Option {
	return func(d *Daemon) { d.notifier = send }
}

// Daemon is the main psstudio daemon process.
type Daemon struct {
	layout    setup.Layout
	config    model.Config
	log       *logging.Logger
	logFile   io.Closer
	startedAt time.Time

	fileLock    *lock.FileLock
	server      *uds.Server
	watcher     *fsnotify.Watcher
	reload      *debounce.Deferred
	httpServer  *http.Server
	metricsAddr string
	ticker      *time.Ticker

	solver        remote.Solver
	configFetcher studio.ConfigFetcher
	schemaFetcher schema.Fetcher
	notifier      notify.SendFunc

	store     *store.Store
	overrides *overrides.Manager
	schemas   *schema.Provider
	studio    *studio.Orchestrator
	bus       *events.Bus
	journal   *events.Journal
	detach    []func()
	metrics   *metrics.Metrics

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a daemon for the workspace in layout, logging to logs/daemon.log.
func New(layout setup.Layout, cfg model.Config, opts ...Option) (*Daemon, error) {
	if err := os.MkdirAll(layout.LogsDir(), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(layout.DaemonLog(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	d, err := newDaemon(layout, cfg, logFile, logFile, opts...)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}
	return d, nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(layout setup.Layout, cfg model.Config, w io.Writer, closer io.Closer, opts ...Option) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.New(w, logging.ParseLevel(cfg.Logging.Level), "daemon")

	d := &Daemon{
		layout:   layout,
		config:   cfg,
		log:      logger,
		logFile:  closer,
		fileLock: lock.NewFileLock(layout.Lock()),
		server:   uds.NewServer(layout.Socket(), logger.With("uds")),
		reload:   debounce.New(time.Duration(cfg.Daemon.WatchDebounceMs) * time.Millisecond),
		metrics:  metrics.New(),
		bus:      events.NewBus(256),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(d)
	}

	if d.solver == nil {
		d.solver = remote.NewSolverClient(cfg.Solver.URL, remote.WithSolverLogger(logger.With("solver")))
	}
	if d.configFetcher == nil || d.schemaFetcher == nil {
		hc := remote.NewHTTPClient(cfg.Server, nil)
		if d.configFetcher == nil {
			d.configFetcher = hc
		}
		if d.schemaFetcher == nil {
			d.schemaFetcher = hc
		}
	}

	if err := d.openWorkspace(); err != nil {
		cancel()
		d.bus.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) openWorkspace() error {
	st, err := store.Open(store.Options{
		Path:         d.layout.Workspace(),
		WorkspaceDir: d.layout.Base,
		Width:        d.config.Grid.Cols,
		Height:       d.config.Grid.Rows,
		Logger:       d.log.With("store"),
		Observe:      d.metrics.ObserveMutation,
	})
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	d.store = st

	ov, err := overrides.Open(overrides.Options{
		Path:         d.layout.Overrides(),
		WorkspaceDir: d.layout.Base,
		Logger:       d.log.With("config"),
		Observe:      d.metrics.SetOverrideCount,
	})
	if err != nil {
		return fmt.Errorf("open config overrides: %w", err)
	}
	d.overrides = ov

	d.schemas = schema.New(d.schemaFetcher, schema.Options{
		Fallback: templates.Schemas(),
		Logger:   d.log.With("schema"),
	})

	journal, err := events.OpenJournal(filepath.Join(d.layout.LogsDir(), events.JournalFileName), events.DefaultMaxJournalSize)
	if err != nil {
		return fmt.Errorf("open solve journal: %w", err)
	}
	d.journal = journal
	d.detach = append(d.detach, journal.Attach(d.bus, func(err error) {
		d.log.Warn("solve journal write failed: %v", err)
	}))
	if d.config.Daemon.Notify {
		send := d.notifier
		if send == nil {
			send = notify.Send
		}
		d.detach = append(d.detach, notify.Attach(d.bus, send, d.log.With("notify")))
	}

	d.studio = studio.New(studio.Options{
		Store:         d.store,
		Solver:        d.solver,
		Templates:     d.schemas,
		Config:        d.overrides,
		ConfigFetcher: d.configFetcher,
		TaskDebounce:  d.config.TaskDebounce(),
		Logger:        d.log.With("studio"),
		Bus:           d.bus,
		Metrics:       d.metrics,
	})
	return nil
}

// Run starts the daemon and blocks until a signal or a shutdown request completes it.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// Start acquires the workspace lock and brings up every loop without blocking.
func (d *Daemon) Start() error {
	if err := d.fileLock.TryLock(); err != nil {
		d.closeResources()
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.startedAt = time.Now()
	d.log.Info("daemon starting pid=%d workspace=%s", os.Getpid(), d.layout.Base)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	// Documents are replaced by rename, so the directory is watched rather than the file.
	if err := watcher.Add(d.layout.StateDir()); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", d.layout.StateDir(), err)
	}

	d.refreshRemote()

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log.Info("UDS server listening on %s", d.layout.Socket())

	if err := d.startMetricsServer(); err != nil {
		d.cleanup()
		return err
	}

	d.ticker = time.NewTicker(snapshotInterval)
	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.snapshotLoop()

	d.writeSnapshot()
	d.log.Info("daemon ready")
	return nil
}

// refreshRemote loads the server configuration and entity templates. Both are best
// effort: the studio works offline on the last overrides and the embedded templates.
func (d *Daemon) refreshRemote() {
	timeout := time.Duration(d.config.Server.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()

	if err := d.studio.RefreshServerConfig(ctx); err != nil {
		d.log.Warn("server config unavailable, using local overrides only: %v", err)
	}
	if err := d.schemas.LoadAll(ctx); err != nil {
		d.log.Warn("schema preload interrupted: %v", err)
	}
	stats := d.schemas.Stats()
	d.log.Info("templates loaded size=%d sources=%v", stats.Size, stats.Sources)
}

// fsnotifyLoop reloads the workspace after external edits. The store ignores its own
// writes by content hash, so only foreign changes reach the orchestrator.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	target := filepath.Base(d.layout.Workspace())
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				d.log.Debug("fsnotify event=%s file=%s", event.Op, event.Name)
				d.reload.Trigger(d.reloadWorkspace)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Error("fsnotify error=%v", err)
		}
	}
}

func (d *Daemon) reloadWorkspace() {
	if d.ctx.Err() != nil {
		return
	}
	changed, err := d.studio.Reload()
	switch {
	case err != nil:
		d.log.Error("workspace reload failed: %v", err)
	case changed:
		d.log.Info("workspace reloaded after external edit")
	}
}

func (d *Daemon) snapshotLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.writeSnapshot()
		}
	}
}

func (d *Daemon) writeSnapshot() {
	if err := d.metrics.WriteSnapshot(d.layout.MetricsFile(), time.Now()); err != nil {
		d.log.Warn("metrics snapshot: %v", err)
	}
}

// waitSignals blocks until a shutdown signal is received or Shutdown was called.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log.Info("received signal=%s, initiating graceful shutdown", sig)
		go func() {
			<-sigCh
			d.log.Warn("received second signal, forcing exit")
			os.Exit(1)
		}()
		d.Shutdown()
	case <-d.ctx.Done():
		d.Shutdown()
	}
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log.Info("shutdown started")

		// Cancelling the context also aborts an in-flight solve through the UDS handler.
		d.cancel()
		d.reload.Cancel()
		if d.ticker != nil {
			d.ticker.Stop()
		}
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		if d.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = d.httpServer.Shutdown(ctx)
			cancel()
		}
		_ = d.server.Stop()

		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 10
		}
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			d.log.Info("all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log.Warn("shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		if err := d.studio.Close(); err != nil {
			d.log.Warn("pending edit lost at shutdown: %v", err)
		}
		d.writeSnapshot()
		d.cleanup()
		d.log.Info("daemon stopped")
	})
}

// Done is closed once shutdown has started.
func (d *Daemon) Done() <-chan struct{} {
	return d.ctx.Done()
}

func (d *Daemon) cleanup() {
	_ = os.Remove(d.layout.Socket())
	_ = d.fileLock.Unlock()
	d.closeResources()
}

func (d *Daemon) closeResources() {
	for _, detach := range d.detach {
		detach()
	}
	d.bus.Close()
	if d.journal != nil {
		_ = d.journal.Close()
	}
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}
