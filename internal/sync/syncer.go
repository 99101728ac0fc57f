package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/loomnotes/loom/internal/collect"
	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/reconcile"
)

// Options configures a Syncer.
type Options struct {
	DryRun           bool
	AllowEmptyDelete bool
	PruneChildren    bool

	Logger *slog.Logger
	// Now overrides the clock used to stamp updated_at. Tests only.
	Now func() time.Time
}

// syncer implements the Syncer interface.
type syncer struct {
	fs        afero.Fs
	remote    Remote
	opts      Options
	logger    *slog.Logger
	mapper    *mapper.Mapper
	collector *collect.Collector
}

// New creates a Syncer reading and writing project files on fsys.
//
// The store must have its schema initialized. If opts.Logger is nil,
// slog.Default is used.
func New(fsys afero.Fs, store Remote, opts Options) Syncer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var mopts []mapper.Option
	if opts.Now != nil {
		mopts = append(mopts, mapper.WithClock(opts.Now))
	}
	return &syncer{
		fs:        fsys,
		remote:    store,
		opts:      opts,
		logger:    logger,
		mapper:    mapper.New(logger, mopts...),
		collector: collect.New(fsys, logger),
	}
}

// Push implements Syncer.Push.
func (s *syncer) Push(ctx context.Context, sess reconcile.Session, opts PushOptions) (*reconcile.Report, error) {
	s.logger.Debug("collecting projects", "root", sess.ProjectRoot)
	snaps, errs := s.collector.CollectAll(sess.ProjectRoot)

	engine := reconcile.New(s.remote, reconcile.Options{
		DryRun:           s.opts.DryRun,
		AllowEmptyDelete: s.opts.AllowEmptyDelete,
		PruneChildren:    s.opts.PruneChildren,
		Mapper:           s.mapper,
		CodeWriter:       &FileCodeWriter{fs: s.fs},
		Progress:         opts.Progress,
		Logger:           s.logger,
	})
	return engine.Run(ctx, sess, reconcile.Input{Snapshots: snaps, CollectErrors: errs})
}
