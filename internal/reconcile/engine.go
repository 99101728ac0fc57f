// Package reconcile decides, for one creator, which remote rows to insert,
// update or delete so the remote store mirrors the collected local projects.
//
// A cycle runs four passes in order:
//
//  1. project pass: upsert every collected project and record its public
//     code in the known local set;
//  2. child pass: after its project, upsert each child item, looking it up
//     by public code first and by local id second;
//  3. verification pass: when writes were made, compare remote and local
//     child counts and record mismatches as conflicts;
//  4. deletion pass: delete remote projects missing from the known local
//     set, children first.
//
// Every decision is recomputed from current state, so an interrupted cycle
// is completed by the next one. A failed write is recorded in the report and
// the pass continues; a failed lookup aborts the cycle.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loomnotes/loom/internal/collect"
	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/remote"
	"github.com/loomnotes/loom/internal/schema"
)

// ErrNoSession is returned when a cycle is requested without a creator.
var ErrNoSession = errors.New("no authenticated creator")

// Store is the remote surface the engine reads and writes.
// *remote.Store implements it.
type Store interface {
	ProjectIDsForCreator(ctx context.Context, creatorID int64) ([]string, error)
	LookupCreator(ctx context.Context, creatorID int64) (int64, bool, error)
	FindByID(ctx context.Context, kind schema.Kind, id string) (schema.Row, error)
	FindByLocalID(ctx context.Context, kind schema.Kind, localID int64, scope remote.Scope) (schema.Row, error)
	Insert(ctx context.Context, kind schema.Kind, row schema.Row) error
	Update(ctx context.Context, kind schema.Kind, id string, row schema.Row, columns []string) error
	Delete(ctx context.Context, kind schema.Kind, id string) error
	DeleteChildren(ctx context.Context, kind schema.Kind, projectID string) (int64, error)
	CountChildren(ctx context.Context, kind schema.Kind, projectID string) (int, error)
	ChildIDs(ctx context.Context, kind schema.Kind, projectID string) ([]string, error)
}

// CodeWriter persists a public code assigned during a cycle back into the
// item's local file.
type CodeWriter interface {
	PersistCode(projectPath string, item collect.Item, code string) error
}

// Progress describes how far a cycle has got.
type Progress struct {
	Phase   string `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Detail  string `json:"detail,omitempty"`
}

// Progress phases.
const (
	PhaseProjects = "projects"
	PhaseChildren = "children"
	PhaseVerify   = "verify"
	PhaseDelete   = "delete"
)

// Session identifies who is syncing and where their projects live.
type Session struct {
	CreatorID   int64
	ProjectRoot string
}

// Options configures an Engine.
type Options struct {
	// DryRun performs every lookup and log statement but no write.
	DryRun bool
	// AllowEmptyDelete lets the deletion pass run when no local project was
	// collected. Without it an empty scan deletes nothing.
	AllowEmptyDelete bool
	// PruneChildren deletes remote children whose local file is gone. A
	// kind is only pruned when its scan skipped no file.
	PruneChildren bool

	Mapper     *mapper.Mapper
	CodeWriter CodeWriter
	Progress   func(Progress)
	Logger     *slog.Logger
}

// Input is the local state one cycle reconciles.
type Input struct {
	Snapshots []*collect.Snapshot
	// CollectErrors lists projects that failed to collect. Any entry
	// disables the deletion pass.
	CollectErrors []error
}

// Engine runs reconciliation cycles against a Store.
type Engine struct {
	store  Store
	opts   Options
	mapper *mapper.Mapper
	logger *slog.Logger
}

// New creates an Engine.
func New(store Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Mapper
	if m == nil {
		m = mapper.New(logger)
	}
	return &Engine{store: store, opts: opts, mapper: m, logger: logger}
}

// DryRun reports whether the engine skips writes.
func (e *Engine) DryRun() bool {
	return e.opts.DryRun
}

// cycle holds the state of one Run.
type cycle struct {
	*Engine
	ctx    context.Context
	log    *slog.Logger
	report *Report
	// creator is the effective creator id; sessionCreator the one the
	// session supplied.
	creator        int64
	sessionCreator int64
	// known is the set of public codes of locally collected projects.
	known map[string]bool
}

// Run executes one reconciliation cycle for sess.
//
// The returned report is never nil. A non-nil error means a lookup failed
// and the cycle stopped early; the report describes what ran before that.
func (e *Engine) Run(ctx context.Context, sess Session, in Input) (*Report, error) {
	runID := uuid.NewString()
	report := newReport(runID, sess.CreatorID, e.opts.DryRun)
	report.CollectionErrors = len(in.CollectErrors)
	defer func() { report.Duration = time.Since(report.StartedAt).Round(time.Millisecond).String() }()

	if sess.CreatorID <= 0 {
		return report, ErrNoSession
	}

	log := e.logger.With("run_id", runID, "creator", sess.CreatorID)
	if e.opts.DryRun {
		log = log.With("dry_run", true)
	}

	c := &cycle{
		Engine:         e,
		ctx:            ctx,
		log:            log,
		report:         report,
		creator:        sess.CreatorID,
		sessionCreator: sess.CreatorID,
		known:          make(map[string]bool),
	}

	creator, found, err := e.store.LookupCreator(ctx, sess.CreatorID)
	if err != nil {
		return report, fmt.Errorf("failed to resolve creator: %w", err)
	}
	if found && creator != sess.CreatorID {
		log.Debug("using enriched creator id", "local", sess.CreatorID, "remote", creator)
	}
	if found {
		c.creator = creator
		report.CreatorID = creator
	}

	log.Info("reconciliation started", "projects", len(in.Snapshots), "collection_errors", len(in.CollectErrors))

	for i, snap := range in.Snapshots {
		c.progress(PhaseProjects, i+1, len(in.Snapshots), snap.Path)
		if err := c.syncProject(snap); err != nil {
			return report, err
		}
		report.Projects++
	}

	if err := c.deletionPass(in); err != nil {
		return report, err
	}

	totals := report.Totals()
	log.Info("reconciliation finished",
		"inserted", totals.Inserted, "updated", totals.Updated, "unchanged", totals.Unchanged,
		"deleted", totals.Deleted, "errors", totals.Errors, "conflicts", len(report.Conflicts))
	return report, nil
}

func (c *cycle) progress(phase string, current, total int, detail string) {
	if c.opts.Progress != nil {
		c.opts.Progress(Progress{Phase: phase, Current: current, Total: total, Detail: detail})
	}
}

func (c *cycle) persistCode(projectPath string, item collect.Item, code string) {
	c.report.CodesAssigned++
	if c.opts.CodeWriter == nil {
		return
	}
	if err := c.opts.CodeWriter.PersistCode(projectPath, item, code); err != nil {
		c.log.Warn("failed to persist assigned code", "kind", item.Kind, "id", item.LocalID(), "code", code, "path", item.Path, "error", err)
	}
}
