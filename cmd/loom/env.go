package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/loomnotes/loom/internal/lockfile"
	"github.com/loomnotes/loom/internal/orchestrator"
	"github.com/loomnotes/loom/internal/reconcile"
	"github.com/loomnotes/loom/internal/remote"
	loomsync "github.com/loomnotes/loom/internal/sync"
)

var errNoDSN = errors.New("no remote configured: set remote.dsn in loom.toml, LOOM_REMOTE_DSN or --dsn")

// openStore opens the remote store and makes sure its schema exists.
func openStore(ctx context.Context) (*remote.Store, error) {
	if cfg.Remote.DSN == "" {
		return nil, errNoDSN
	}
	var opts []remote.Option
	opts = append(opts, remote.WithLogger(logger.Logger))
	if cfg.Remote.AuthToken != "" {
		opts = append(opts, remote.WithAuthToken(cfg.Remote.AuthToken))
	}

	store, err := remote.Open(ctx, cfg.Remote.DSN, opts...)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// session returns the configured session.
func session() reconcile.Session {
	return reconcile.Session{CreatorID: cfg.Session.CreatorID, ProjectRoot: cfg.Local.Root}
}

// syncOptions returns Syncer options from config.
func syncOptions() loomsync.Options {
	return loomsync.Options{
		DryRun:           cfg.Sync.DryRun,
		AllowEmptyDelete: cfg.Sync.AllowEmptyDelete,
		PruneChildren:    cfg.Sync.PruneChildren,
		Logger:           logger.Logger,
	}
}

// newOrchestrator wires an orchestrator around syncer with the history file,
// the cross-process lock and sink.
func newOrchestrator(syncer loomsync.Syncer, sink orchestrator.Sink) (*orchestrator.Orchestrator, *orchestrator.History) {
	history := orchestrator.NewHistory(afero.NewOsFs(), cfg.Local.StateDir)
	lock := lockfile.New(filepath.Join(cfg.Local.StateDir, lockfile.DefaultName))

	sinks := orchestrator.Sinks{orchestrator.LogSink{Logger: logger.Logger}}
	if sink != nil {
		sinks = append(sinks, sink)
	}

	orch := orchestrator.New(syncer, orchestrator.StaticSession(session()), orchestrator.Config{
		Enabled:     cfg.Sync.Enabled,
		MinInterval: cfg.Sync.MinInterval,
		Timeout:     cfg.Sync.Timeout,
	},
		orchestrator.WithSink(sinks),
		orchestrator.WithLocker(lock),
		orchestrator.WithHistory(history),
		orchestrator.WithLogger(logger.Logger),
	)
	return orch, history
}

// compactHistory trims the history file to the configured size.
func compactHistory(history *orchestrator.History) {
	if cfg.Sync.HistoryKeep <= 0 {
		return
	}
	if err := history.Compact(cfg.Sync.HistoryKeep); err != nil {
		logger.Warn("failed to compact sync history", "path", history.Path(), "error", err)
	}
}

// exitCode maps an outcome to the process exit status: 0 for ok or
// disabled, 2 for a partial cycle, 1 otherwise.
func exitCode(o orchestrator.Outcome) int {
	switch {
	case o.OK():
		return 0
	case o.Status == orchestrator.StatusPartial:
		return 2
	default:
		return 1
	}
}

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
