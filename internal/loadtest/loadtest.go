// Package loadtest measures push cycles against a remote store.
//
// It generates a synthetic project tree, pushes it once to seed the store,
// then repeatedly edits a share of the items and pushes again, recording
// the latency of every cycle. The cycles exercise the whole push path:
// collection, mapping, the reconciliation passes and the store writes.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/loomnotes/loom/internal/reconcile"
	"github.com/loomnotes/loom/internal/schema"
	loomsync "github.com/loomnotes/loom/internal/sync"
)

// itemKinds are the kinds generated for every project.
var itemKinds = []schema.Kind{
	schema.KindChapter,
	schema.KindNote,
	schema.KindReference,
	schema.KindLoreItem,
}

// Workload describes one load test.
type Workload struct {
	Projects     int
	ItemsPerKind int
	// Cycles is the number of measured pushes after the seeding push.
	Cycles int
	// EditRatio is the share of items edited before each measured push.
	EditRatio float64
	CreatorID int64
	// Seed makes the edited items reproducible.
	Seed int64
}

// DefaultWorkload returns a small workload.
func DefaultWorkload() Workload {
	return Workload{
		Projects:     5,
		ItemsPerKind: 20,
		Cycles:       10,
		EditRatio:    0.1,
		CreatorID:    1,
		Seed:         42,
	}
}

func (w Workload) validate() error {
	var errs []error
	if w.Projects <= 0 {
		errs = append(errs, fmt.Errorf("projects must be positive, got %d", w.Projects))
	}
	if w.ItemsPerKind < 0 {
		errs = append(errs, fmt.Errorf("items per kind cannot be negative, got %d", w.ItemsPerKind))
	}
	if w.Cycles < 0 {
		errs = append(errs, fmt.Errorf("cycles cannot be negative, got %d", w.Cycles))
	}
	if w.EditRatio < 0 || w.EditRatio > 1 {
		errs = append(errs, fmt.Errorf("edit ratio must be within [0, 1], got %g", w.EditRatio))
	}
	if w.CreatorID <= 0 {
		errs = append(errs, fmt.Errorf("creator id must be positive, got %d", w.CreatorID))
	}
	return errors.Join(errs...)
}

// Items returns the number of files generated, projects included.
func (w Workload) Items() int {
	return w.Projects * (1 + w.ItemsPerKind*len(itemKinds))
}

// LatencyStats captures the latency of the measured cycles.
type LatencyStats struct {
	Min    time.Duration `json:"min" yaml:"min"`
	Max    time.Duration `json:"max" yaml:"max"`
	Mean   time.Duration `json:"mean" yaml:"mean"`
	P50    time.Duration `json:"p50" yaml:"p50"`
	P95    time.Duration `json:"p95" yaml:"p95"`
	P99    time.Duration `json:"p99" yaml:"p99"`
	Cycles int           `json:"cycles" yaml:"cycles"`
}

// Result is the outcome of a load test.
type Result struct {
	Workload Workload `json:"workload" yaml:"workload"`
	// Seed is the report of the seeding push.
	Seed        *reconcile.Report `json:"seed" yaml:"seed"`
	SeedLatency time.Duration     `json:"seed_latency" yaml:"seed_latency"`
	Stats       *LatencyStats     `json:"stats,omitempty" yaml:"stats,omitempty"`
	// Edits and Updated are summed over the measured cycles. They match
	// when every edit reached the store.
	Edits    int `json:"edits" yaml:"edits"`
	Updated  int `json:"updated" yaml:"updated"`
	Failures int `json:"failures" yaml:"failures"`
}

// Runner runs a workload against a store.
type Runner struct {
	fs    afero.Fs
	store loomsync.Remote
	root  string
	opts  loomsync.Options
}

// New creates a Runner that generates its tree under root on fs and pushes
// to store. opts configures the syncer; the dry run and deletion settings
// are honoured as given.
func New(fs afero.Fs, root string, store loomsync.Remote, opts loomsync.Options) *Runner {
	return &Runner{fs: fs, store: store, root: root, opts: opts}
}

// Run generates the tree, seeds the store and measures the cycles.
func (r *Runner) Run(ctx context.Context, w Workload) (*Result, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	if err := GenerateTree(r.fs, r.root, w); err != nil {
		return nil, fmt.Errorf("failed to generate project tree: %w", err)
	}

	syncer := loomsync.New(r.fs, r.store, r.opts)
	sess := reconcile.Session{CreatorID: w.CreatorID, ProjectRoot: r.root}
	res := &Result{Workload: w}

	start := time.Now()
	seed, err := syncer.Push(ctx, sess, loomsync.PushOptions{})
	res.SeedLatency = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("seeding push failed: %w", err)
	}
	res.Seed = seed
	res.Failures += len(seed.Failures)

	rng := rand.New(rand.NewSource(w.Seed))
	durations := make([]time.Duration, 0, w.Cycles)
	for i := 0; i < w.Cycles; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		edits, err := EditItems(r.fs, r.root, w, rng, i+1)
		if err != nil {
			return nil, fmt.Errorf("cycle %d: %w", i+1, err)
		}

		start := time.Now()
		report, err := syncer.Push(ctx, sess, loomsync.PushOptions{})
		durations = append(durations, time.Since(start))
		if err != nil {
			return nil, fmt.Errorf("cycle %d: push failed: %w", i+1, err)
		}

		res.Edits += edits
		res.Updated += report.Totals().Updated
		res.Failures += len(report.Failures)
	}
	if len(durations) > 0 {
		res.Stats = computeLatencyStats(durations)
	}
	return res, nil
}

// ProjectDir returns the directory of the n-th generated project.
func ProjectDir(root string, n int) string {
	return filepath.Join(root, fmt.Sprintf("project-%03d", n))
}

// GenerateTree writes w.Projects projects under root, each holding
// w.ItemsPerKind items of every per-file kind and an index listing them.
func GenerateTree(fs afero.Fs, root string, w Workload) error {
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	for p := 1; p <= w.Projects; p++ {
		dir := ProjectDir(root, p)
		created := schema.FormatTime(base.Add(time.Duration(p) * time.Hour))
		idx := &schema.Index{
			Project: schema.Record{
				"id":          p,
				"title":       fmt.Sprintf("Project %d", p),
				"description": "Generated for load testing",
				"creator_id":  w.CreatorID,
				"created_at":  created,
			},
		}

		for _, kind := range itemKinds {
			for i := 1; i <= w.ItemsPerKind; i++ {
				rec := generateItem(kind, i, created)
				if err := schema.WriteRecordFile(fs, schema.ItemPath(dir, kind, int64(i)), rec); err != nil {
					return err
				}
				idx.Entries = append(idx.Entries, schema.IndexEntry{
					ID:         int64(i),
					Type:       schema.Info(kind).IndexType,
					Title:      rec.String("title"),
					OrderIndex: int64(i),
				})
			}
		}

		if err := schema.WriteIndex(fs, dir, idx); err != nil {
			return err
		}
	}
	return nil
}

func generateItem(kind schema.Kind, n int, created string) schema.Record {
	rec := schema.Record{
		"id":          n,
		"title":       fmt.Sprintf("%s %d", kind, n),
		"order_index": n,
		"tags":        []string{"loadtest", fmt.Sprintf("batch-%d", n/10)},
		"created_at":  created,
	}
	switch kind {
	case schema.KindChapter:
		rec["content"] = fmt.Sprintf("Chapter %d opens on a quiet morning.", n)
		rec["status"] = "draft"
	case schema.KindNote:
		rec["content"] = fmt.Sprintf("Note %d", n)
		rec["pinned"] = n%5 == 0
	case schema.KindReference:
		rec["content"] = fmt.Sprintf("Source %d", n)
		rec["source_link"] = fmt.Sprintf("https://example.org/ref/%d", n)
	case schema.KindLoreItem:
		rec["body"] = fmt.Sprintf("Lore %d", n)
		rec["lore_kind"] = "place"
		rec["entry1_name"] = "Climate"
		rec["entry1_content"] = "Cold"
	}
	return rec
}

// EditItems rewrites the body of a random share of the generated items and
// returns how many it changed. round makes every edit unique.
func EditItems(fs afero.Fs, root string, w Workload, rng *rand.Rand, round int) (int, error) {
	total := w.ItemsPerKind * len(itemKinds) * w.Projects
	n := int(float64(total) * w.EditRatio)
	if n == 0 {
		return 0, nil
	}

	picked := rng.Perm(total)[:n]
	sort.Ints(picked)
	for _, slot := range picked {
		project := slot/(w.ItemsPerKind*len(itemKinds)) + 1
		rest := slot % (w.ItemsPerKind * len(itemKinds))
		kind := itemKinds[rest/w.ItemsPerKind]
		id := int64(rest%w.ItemsPerKind + 1)

		path := schema.ItemPath(ProjectDir(root, project), kind, id)
		rec, err := schema.ReadRecordFile(fs, path)
		if err != nil {
			return 0, err
		}
		field := "content"
		if kind == schema.KindLoreItem {
			field = "body"
		}
		rec[field] = fmt.Sprintf("%s (revision %d)", rec.String("title"), round)
		if err := schema.WriteRecordFile(fs, path, rec); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   sum / time.Duration(len(sorted)),
		P50:    sorted[len(sorted)*50/100],
		P95:    sorted[len(sorted)*95/100],
		P99:    sorted[len(sorted)*99/100],
		Cycles: len(sorted),
	}
}
