package reconcile

import (
	"fmt"
	"time"

	"github.com/loomnotes/loom/internal/schema"
)

// Counts tallies the outcome of one kind in a cycle. In dry-run mode the
// counts describe the writes that would have been made.
type Counts struct {
	Inserted  int `json:"inserted" yaml:"inserted"`
	Updated   int `json:"updated" yaml:"updated"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`
	Deleted   int `json:"deleted" yaml:"deleted"`
	Errors    int `json:"errors" yaml:"errors"`
	Skipped   int `json:"skipped" yaml:"skipped"`
}

// Writes returns the number of mutating operations counted.
func (c Counts) Writes() int {
	return c.Inserted + c.Updated + c.Deleted
}

func (c *Counts) add(o Counts) {
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Deleted += o.Deleted
	c.Errors += o.Errors
	c.Skipped += o.Skipped
}

// WriteFailure records a single insert, update or delete that failed, or a
// write refused because the remote row belongs to another owner. It never
// aborts a pass.
type WriteFailure struct {
	Kind    schema.Kind `json:"kind" yaml:"kind"`
	ID      string      `json:"id" yaml:"id"`
	LocalID int64       `json:"local_id,omitempty" yaml:"local_id,omitempty"`
	Project string      `json:"project,omitempty" yaml:"project,omitempty"`
	Op      string      `json:"op" yaml:"op"`
	Err     string      `json:"error" yaml:"error"`
}

func (f WriteFailure) Error() string {
	return fmt.Sprintf("%s %s %s: %s", f.Op, f.Kind, f.ID, f.Err)
}

// Conflict records a post-write count mismatch between local and remote for
// one kind of one project. Conflicts are never corrected automatically.
type Conflict struct {
	Project string      `json:"project" yaml:"project"`
	Kind    schema.Kind `json:"kind" yaml:"kind"`
	Local   int         `json:"local" yaml:"local"`
	Remote  int         `json:"remote" yaml:"remote"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s %s: %d local, %d remote", c.Project, c.Kind, c.Local, c.Remote)
}

// Report is the outcome of one reconciliation cycle.
type Report struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	CreatorID int64     `json:"creator_id" yaml:"creator_id"`
	DryRun    bool      `json:"dry_run" yaml:"dry_run"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	Duration  string    `json:"duration" yaml:"duration"`

	Projects int `json:"projects" yaml:"projects"`
	// CollectionErrors counts project directories that could not be
	// collected this cycle.
	CollectionErrors int                    `json:"collection_errors" yaml:"collection_errors"`
	Counts           map[schema.Kind]Counts `json:"counts" yaml:"counts"`
	CodesAssigned    int                    `json:"codes_assigned" yaml:"codes_assigned"`
	Conflicts        []Conflict             `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Failures         []WriteFailure         `json:"failures,omitempty" yaml:"failures,omitempty"`
	// DeletionSkipped explains why the deletion pass did not run, empty
	// when it ran.
	DeletionSkipped string `json:"deletion_skipped,omitempty" yaml:"deletion_skipped,omitempty"`
}

func newReport(runID string, creatorID int64, dryRun bool) *Report {
	return &Report{
		RunID:     runID,
		CreatorID: creatorID,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
		Counts:    make(map[schema.Kind]Counts),
	}
}

// Totals sums the counts of every kind.
func (r *Report) Totals() Counts {
	var total Counts
	for _, c := range r.Counts {
		total.add(c)
	}
	return total
}

// OK reports whether the cycle finished without write failures.
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// Kinds returns the kinds present in Counts in processing order.
func (r *Report) Kinds() []schema.Kind {
	var kinds []schema.Kind
	for _, k := range schema.AllKinds {
		if _, ok := r.Counts[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (r *Report) bump(k schema.Kind, fn func(*Counts)) {
	c := r.Counts[k]
	fn(&c)
	r.Counts[k] = c
}

func (r *Report) fail(f WriteFailure) {
	r.Failures = append(r.Failures, f)
	r.bump(f.Kind, func(c *Counts) { c.Errors++ })
}
