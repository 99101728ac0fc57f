// Package migrate rewrites legacy project files into the canonical on-disk
// layout: lore fields under their canonical names and item files named
// <stem>_<id>.json. Duplicate files of one item are merged the same way the
// collector merges them, then removed.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/loomnotes/loom/internal/collect"
	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/schema"
)

// BackupDirPrefix names backup directories created under the project root.
// Hidden, so the collector never mistakes one for a project.
const BackupDirPrefix = ".loom-backup-"

// Options configures a migration.
type Options struct {
	Root   string // Project root holding one directory per project
	DryRun bool   // Preview without writing
	Backup bool   // Copy every rewritten or removed file first
}

// Result contains statistics about the migration.
type Result struct {
	Projects      int      `json:"projects" yaml:"projects"`
	Canonicalized int      `json:"canonicalized" yaml:"canonicalized"`
	Renamed       int      `json:"renamed" yaml:"renamed"`
	Merged        int      `json:"merged" yaml:"merged"`
	FilesWritten  int      `json:"files_written" yaml:"files_written"`
	FilesRemoved  int      `json:"files_removed" yaml:"files_removed"`
	BackupCreated string   `json:"backup_created,omitempty" yaml:"backup_created,omitempty"`
	Errors        []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Changed reports whether the migration touched (or, in dry-run mode,
// would touch) any file.
func (r *Result) Changed() bool {
	return r.Canonicalized+r.Renamed+r.Merged > 0
}

// Migrator migrates project directories on a filesystem.
type Migrator struct {
	fs     afero.Fs
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Migrator. A nil logger uses slog.Default.
func New(fsys afero.Fs, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{fs: fsys, logger: logger, now: time.Now}
}

// Migrate rewrites every project under opts.Root. Per-file failures are
// collected in Result.Errors; only an unreadable root fails the call.
func (m *Migrator) Migrate(ctx context.Context, opts Options) (*Result, error) {
	if ok, err := afero.DirExists(m.fs, opts.Root); err != nil || !ok {
		return nil, fmt.Errorf("project root %s does not exist", opts.Root)
	}

	result := &Result{}
	snaps, errs := collect.New(m.fs, m.logger).CollectAll(opts.Root)
	for _, err := range errs {
		result.Errors = append(result.Errors, err.Error())
	}

	run := &migration{Migrator: m, opts: opts, result: result}
	if opts.Backup && !opts.DryRun {
		run.backupDir = filepath.Join(opts.Root, BackupDirPrefix+m.now().Format("20060102-150405"))
	}

	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		run.project(snap)
		result.Projects++
	}

	if run.backedUp {
		result.BackupCreated = run.backupDir
	}
	return result, nil
}

// migration holds the state of one Migrate call.
type migration struct {
	*Migrator
	opts      Options
	result    *Result
	backupDir string
	backedUp  bool
}

func (r *migration) project(snap *collect.Snapshot) {
	for _, kind := range schema.ChildKinds {
		if schema.Info(kind).SingleFile != "" {
			continue
		}
		for _, item := range snap.Kind(kind) {
			if err := r.item(snap.Path, item); err != nil {
				r.logger.Warn("failed to migrate item", "kind", kind, "path", item.Path, "error", err)
				r.result.Errors = append(r.result.Errors, err.Error())
			}
		}
	}
}

// item rewrites one collected item to its canonical path and removes the
// files it was merged from.
func (r *migration) item(projectPath string, item collect.Item) error {
	target := schema.ItemPath(projectPath, item.Kind, item.LocalID())

	raw, err := schema.ReadRecordFile(r.fs, item.Path)
	if err != nil {
		return err
	}
	legacy := mapper.HasLegacyFields(item.Kind, raw)
	renamed := item.Path != target
	merged := len(item.Paths) > 1
	if !legacy && !renamed && !merged {
		return nil
	}

	claimed := false
	for _, p := range item.Paths {
		if p == target {
			claimed = true
		}
	}
	if renamed && !claimed {
		if exists, _ := afero.Exists(r.fs, target); exists {
			return fmt.Errorf("cannot rename %s: %s belongs to another item", item.Path, target)
		}
	}

	log := r.logger.With("kind", item.Kind, "id", item.LocalID(), "target", target)
	if legacy {
		r.result.Canonicalized++
	}
	if renamed {
		r.result.Renamed++
	}
	if merged {
		r.result.Merged += len(item.Paths) - 1
	}
	if r.opts.DryRun {
		log.Info("would migrate item", "from", item.Paths, "legacy_fields", legacy)
		return nil
	}

	for _, p := range item.Paths {
		if err := r.backup(p); err != nil {
			return err
		}
	}

	if err := schema.WriteRecordFile(r.fs, target, item.Record); err != nil {
		return err
	}
	r.result.FilesWritten++

	for _, p := range item.Paths {
		if p == target {
			continue
		}
		if err := r.fs.Remove(p); err != nil {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
		r.result.FilesRemoved++
	}
	log.Info("migrated item", "from", item.Paths, "legacy_fields", legacy)
	return nil
}

// backup copies path into the backup directory, keeping its path relative
// to the project root.
func (r *migration) backup(path string) error {
	if r.backupDir == "" {
		return nil
	}
	rel, err := filepath.Rel(r.opts.Root, path)
	if err != nil {
		return fmt.Errorf("failed to back up %s: %w", path, err)
	}
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return fmt.Errorf("failed to read %s for backup: %w", path, err)
	}
	dst := filepath.Join(r.backupDir, rel)
	if err := r.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := afero.WriteFile(r.fs, dst, data, 0o600); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	r.backedUp = true
	return nil
}
