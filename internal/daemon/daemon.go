// Package daemon keeps the local copy reconciled in the background.
//
// The daemon:
//  1. Probes the account API and reports connectivity transitions
//  2. Watches the data directory for writes by other pomosync processes
//  3. Runs a reconcile pass once those writes settle (debounced)
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"github.com/pomosync/pomosync/internal/remote"
	"github.com/pomosync/pomosync/internal/syncerr"
	"github.com/pomosync/pomosync/internal/trigger"
)

// Trigger is the part of the sync trigger the daemon drives.
// *trigger.Trigger satisfies it.
type Trigger interface {
	OnConnectivityChanged(ctx context.Context, online bool) (trigger.Report, error)
	Reconcile(ctx context.Context) (trigger.Report, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// ProbeInterval is how often the account API is probed
	ProbeInterval time.Duration

	// DebounceInterval is how long writes must settle before reconciling
	DebounceInterval time.Duration

	// Clock drives the probe and debounce tickers (default: real clock)
	Clock clockwork.Clock

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:    15 * time.Second,
		DebounceInterval: 500 * time.Millisecond,
		Clock:            clockwork.NewRealClock(),
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon runs the probe and watch loops.
type Daemon struct {
	storePath string
	pinger    remote.Pinger
	trigger   Trigger
	config    *Config

	watcher *fsnotify.Watcher

	changeMu  sync.Mutex
	changedAt time.Time
	dirty     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon for the store at storePath.
//
// The daemon requires:
//   - storePath: the local database file; its directory is watched
//   - pinger: probes the account API
//   - t: the sync trigger to drive
//
// Use Start() to begin probing and watching.
func New(storePath string, pinger remote.Pinger, t Trigger, config *Config) (*Daemon, error) {
	if storePath == "" {
		return nil, fmt.Errorf("storePath cannot be empty")
	}
	if pinger == nil {
		return nil, fmt.Errorf("pinger cannot be nil")
	}
	if t == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.ProbeInterval <= 0 {
		return nil, fmt.Errorf("probe interval must be positive")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		storePath: storePath,
		pinger:    pinger,
		trigger:   t,
		config:    config,
		watcher:   watcher,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins the daemon's operation and blocks until ctx is cancelled or
// Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	dir := filepath.Dir(d.storePath)
	if err := d.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch data directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", dir)

	d.wg.Add(3)
	go d.probeLoop()
	go d.watchFileEvents()
	go d.processChanges()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// probeLoop probes once at startup and then every ProbeInterval.
func (d *Daemon) probeLoop() {
	defer d.wg.Done()

	d.probe()

	ticker := d.config.Clock.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.Chan():
			d.probe()
		}
	}
}

func (d *Daemon) probe() {
	err := d.pinger.Ping(d.ctx)
	if d.ctx.Err() != nil {
		return
	}
	online := reachable(err)
	if err != nil && online {
		d.config.Logger.Printf("Probe answered with an error: %v", err)
	}

	report, err := d.trigger.OnConnectivityChanged(d.ctx, online)
	d.logReport(report, err)
}

// reachable reports whether a probe result means the account API answered.
func reachable(err error) bool {
	return err == nil || !(errors.Is(err, syncerr.ErrOffline) || errors.Is(err, syncerr.ErrTransient))
}

// watchFileEvents monitors filesystem events and queues changes to the
// local store.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !d.isStoreFile(event.Name) {
				continue
			}
			d.queueChange()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// isStoreFile matches the database and its -wal and -journal companions.
func (d *Daemon) isStoreFile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), filepath.Base(d.storePath))
}

func (d *Daemon) queueChange() {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()

	d.changedAt = d.config.Clock.Now()
	d.dirty = true
}

// processChanges reconciles once queued changes have settled.
func (d *Daemon) processChanges() {
	defer d.wg.Done()

	ticker := d.config.Clock.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.Chan():
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	d.changeMu.Lock()
	ready := d.dirty && d.config.Clock.Since(d.changedAt) >= d.config.DebounceInterval
	d.changeMu.Unlock()
	if !ready {
		return
	}

	d.config.Logger.Printf("Local store changed, reconciling")
	report, err := d.trigger.Reconcile(d.ctx)
	d.logReport(report, err)

	// The pass itself writes to the store; whatever was queued up to now
	// is covered by it.
	finished := d.config.Clock.Now()
	d.changeMu.Lock()
	if !d.changedAt.After(finished) {
		d.dirty = false
	}
	d.changeMu.Unlock()
}

// pending reports whether a change is waiting to be reconciled.
func (d *Daemon) pending() bool {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()
	return d.dirty
}

func (d *Daemon) logReport(report trigger.Report, err error) {
	switch {
	case err != nil && d.ctx.Err() == nil:
		d.config.Logger.Printf("Reconcile failed: %s", syncerr.Describe(err))
	case report.Skipped != "" && report.Skipped != trigger.SkipNotAuthenticated:
		d.config.Logger.Printf("Reconcile skipped: %s", report.Skipped)
	case report.SyncedDown:
		d.config.Logger.Printf("Reconciled: pushed %d entries, settings pushed: %v", report.EntriesPushed, report.SettingsPushed)
	}
}
