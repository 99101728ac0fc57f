package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/loomnotes/loom/internal/daemon"
	"github.com/loomnotes/loom/internal/dashboard"
	"github.com/loomnotes/loom/internal/orchestrator"
	"github.com/loomnotes/loom/internal/reconcile"
	loomsync "github.com/loomnotes/loom/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Watch the project tree and sync in the foreground",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Optionally pull remote projects first (--pull)
  2. Sync once at startup
  3. Watch the project root for item and index changes
  4. Debounce bursts of saves into one sync
  5. Sync periodically (sync.interval)

A sync refused because the last one was too recent is retried on the next
tick. With --dashboard, sync events are pushed to WebSocket clients.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		pull, _ := cmd.Flags().GetBool("pull")
		if err := runDaemon(withDashboard, pull); err != nil {
			exit(err)
		}
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the sync daemon with the real-time WebSocket dashboard",
	Long: `Run the sync daemon and a WebSocket dashboard broadcasting its events.

WebSocket messages:
- status: orchestrator status, sent to every client on connect
- sync_started: a sync began
- sync_progress: pass, position and total within the current sync
- sync_finished: status, totals, failures and conflicts of the sync

Endpoints:
  ws://localhost:8765/ws
  http://localhost:8765/status
  http://localhost:8765/health`,
	Run: func(cmd *cobra.Command, args []string) {
		pull, _ := cmd.Flags().GetBool("pull")
		if err := runDaemon(true, pull); err != nil {
			exit(err)
		}
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the WebSocket dashboard")
	daemonCmd.Flags().Bool("pull", false, "Pull remote projects before the first sync")
	dashboardCmd.Flags().Bool("pull", false, "Pull remote projects before the first sync")
	dashboardCmd.Flags().IntP("port", "p", 8765, "Port to listen on")
	bindLocal(dashboardCmd, "dashboard.port", "port")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// dashboardSink forwards events to a handler created after the
// orchestrator it reports on.
type dashboardSink struct {
	handler *dashboard.Handler
}

func (d *dashboardSink) Started(trigger orchestrator.Trigger, at time.Time) {
	d.handler.Started(trigger, at)
}

func (d *dashboardSink) Progress(p reconcile.Progress) { d.handler.Progress(p) }

func (d *dashboardSink) Finished(o orchestrator.Outcome) { d.handler.Finished(o) }

func runDaemon(withDashboard, pull bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var sink *dashboardSink
	if withDashboard {
		sink = &dashboardSink{}
	}
	syncer := loomsync.New(afero.NewOsFs(), store, syncOptions())

	var orch *orchestrator.Orchestrator
	var history *orchestrator.History
	if sink != nil {
		orch, history = newOrchestrator(syncer, sink)

		server := dashboard.NewServer(dashboard.Config{
			Host:   cfg.Dashboard.Host,
			Port:   cfg.Dashboard.Port,
			Logger: logger.With("component", "dashboard"),
		})
		sink.handler = dashboard.NewHandler(server, orch.Status)
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer server.Stop()
		fmt.Printf("Dashboard: http://%s (ws://%s/ws)\n", server.Addr(), server.Addr())
	} else {
		orch, history = newOrchestrator(syncer, nil)
	}
	defer compactHistory(history)

	if pull {
		out := orch.ForceSync(ctx, orchestrator.TriggerLogin)
		if !out.OK() {
			logger.Warn("initial pull did not succeed", "status", out.Status, "error", out.Err)
		}
	}

	d, err := daemon.New(orch, cfg.Local.Root, daemon.Config{
		DebounceInterval: cfg.Daemon.Debounce,
		SyncInterval:     cfg.Sync.Interval,
		Logger:           logger.With("component", "daemon"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Watching %s (sync every %s)\n", cfg.Local.Root, cfg.Sync.Interval)
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	// Start blocks until the signal context is cancelled.
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("daemon stopped with error: %w", err)
	}
	return nil
}
