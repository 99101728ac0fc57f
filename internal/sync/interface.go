package sync

import (
	"context"
	"time"

	"github.com/loomnotes/loom/internal/reconcile"
	"github.com/loomnotes/loom/internal/remote"
	"github.com/loomnotes/loom/internal/schema"
)

// Syncer moves projects between the local tree and the remote store.
//
// Implementations are not safe for overlapping calls on the same project
// root; the orchestrator guarantees a single cycle at a time.
type Syncer interface {
	// Push reconciles the remote store with the local projects of sess.
	//
	// The report is never nil. A non-nil error means the cycle stopped
	// early because a remote lookup failed.
	Push(ctx context.Context, sess reconcile.Session, opts PushOptions) (*reconcile.Report, error)

	// Pull writes the creator's remote projects into the local tree.
	//
	// A local file is only overwritten when the remote row is newer.
	Pull(ctx context.Context, sess reconcile.Session, opts PullOptions) (*PullResult, error)
}

// Remote is the remote surface a Syncer needs. *remote.Store implements it.
type Remote interface {
	reconcile.Store
	ProjectEntries(ctx context.Context, projectCode string) (*remote.Entries, error)
}

// PushOptions holds per-cycle settings of a Push.
type PushOptions struct {
	// Progress receives reconciliation progress. Nil drops it.
	Progress func(reconcile.Progress)
}

// PullOptions narrows a Pull.
type PullOptions struct {
	// Since skips remote rows last updated before it. Zero pulls everything.
	Since time.Time
}

// PullResult summarizes a Pull.
type PullResult struct {
	Projects     int `json:"projects" yaml:"projects"`
	FilesWritten int `json:"files_written" yaml:"files_written"`
	Kept         int `json:"kept" yaml:"kept"`
	Failed       int `json:"failed" yaml:"failed"`
	// Written lists every file the pull created or replaced.
	Written []string `json:"written,omitempty" yaml:"written,omitempty"`
	// Counts tallies written items per kind.
	Counts map[schema.Kind]int `json:"counts,omitempty" yaml:"counts,omitempty"`
}

// NeedsReload reports whether any local file changed, so an editor holding
// the project open should reload it.
func (r *PullResult) NeedsReload() bool {
	return r.FilesWritten > 0
}
