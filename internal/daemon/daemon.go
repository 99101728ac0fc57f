// Package daemon keeps the remote store in step with the project tree while
// the application runs.
//
// The daemon:
//  1. watches the project root for item and index changes;
//  2. debounces bursts of changes into one sync request;
//  3. requests a periodic sync on a fixed interval;
//  4. retries a refused request on the next tick.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomnotes/loom/internal/orchestrator"
)

// Requester is the part of the orchestrator the daemon drives.
type Requester interface {
	RequestSync(ctx context.Context, trigger orchestrator.Trigger) orchestrator.Outcome
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long the tree must be quiet before changes
	// are synced. This batches rapid saves together.
	DebounceInterval time.Duration

	// SyncInterval is how often a periodic sync is requested. Zero
	// disables periodic syncs.
	SyncInterval time.Duration

	// Logger for daemon activity.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceInterval: 500 * time.Millisecond,
		SyncInterval:     5 * time.Minute,
		Logger:           slog.Default(),
	}
}

// Daemon turns file changes and timer ticks into sync requests.
type Daemon struct {
	orch   Requester
	root   string
	config Config

	watcher *FileWatcher

	mu          sync.Mutex
	lastChange  time.Time
	changes     int
	pending     bool
	pendingKind orchestrator.Trigger
	retryAt     time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon watching root.
func New(orch Requester, root string, config Config) (*Daemon, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if root == "" {
		return nil, fmt.Errorf("project root cannot be empty")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	return &Daemon{orch: orch, root: root, config: config, watcher: watcher}, nil
}

// Start requests an initial sync, starts watching and blocks until ctx is
// cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	log := d.config.Logger

	log.Info("starting daemon", "root", d.root, "debounce", d.config.DebounceInterval, "interval", d.config.SyncInterval)
	d.request(orchestrator.TriggerExplicit)

	if err := d.watcher.Start(d.root); err != nil {
		d.cancel()
		return err
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChanges()
	if d.config.SyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicSync()
	}

	<-d.ctx.Done()
	log.Info("shutdown signal received")
	return d.Stop()
}

// Stop shuts the daemon down and waits for its goroutines.
func (d *Daemon) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	err := d.watcher.Stop()
	d.wg.Wait()
	d.config.Logger.Info("daemon stopped")
	return err
}

// Pending reports whether a refused request is waiting to be retried.
func (d *Daemon) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Debug("file event", "op", event.Op, "kind", event.Kind, "path", event.Path)
			d.queueChange()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Warn("watcher error", "error", err)
		}
	}
}

func (d *Daemon) queueChange() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastChange = time.Now()
	d.changes++
}

// processChanges syncs once the tree has been quiet for the debounce
// interval. A refused request is retried here once its retry delay has
// passed, so it does not wait for a periodic tick.
func (d *Daemon) processChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.mu.Lock()
			ready := d.changes > 0 && time.Since(d.lastChange) >= d.config.DebounceInterval
			n := d.changes
			if ready {
				d.changes = 0
			}
			retry := !ready && d.pending && !time.Now().Before(d.retryAt)
			pendingKind := d.pendingKind
			d.mu.Unlock()

			switch {
			case ready:
				d.config.Logger.Debug("processing changes", "count", n)
				d.request(orchestrator.TriggerExplicit)
			case retry:
				d.config.Logger.Debug("retrying deferred sync", "trigger", pendingKind)
				d.request(pendingKind)
			}
		}
	}
}

// periodicSync requests a sync every interval. A request refused earlier
// is retried first.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.mu.Lock()
			trigger := orchestrator.TriggerPeriodic
			if d.pending {
				trigger = d.pendingKind
			}
			d.mu.Unlock()
			d.request(trigger)
		}
	}
}

// request asks for a sync and remembers a too_soon or in_flight refusal so
// the next tick retries it.
func (d *Daemon) request(trigger orchestrator.Trigger) {
	out := d.orch.RequestSync(d.ctx, trigger)

	d.mu.Lock()
	defer d.mu.Unlock()
	switch out.Status {
	case orchestrator.StatusTooSoon, orchestrator.StatusInFlight:
		d.pending = true
		d.pendingKind = trigger
		d.retryAt = time.Now().Add(out.RetryIn)
		d.config.Logger.Debug("sync deferred", "trigger", trigger, "status", out.Status, "retry_in", out.RetryIn)
	default:
		d.pending = false
	}
}
