package loadtest

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomnotes/loom/internal/logging"
	"github.com/loomnotes/loom/internal/remote"
	"github.com/loomnotes/loom/internal/schema"
	loomsync "github.com/loomnotes/loom/internal/sync"
)

const root = "/projects"

func setupStore(t *testing.T) *remote.Store {
	t.Helper()

	ctx := context.Background()
	store, err := remote.Open(ctx, filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema(ctx))
	return store
}

func smallWorkload() Workload {
	return Workload{
		Projects:     2,
		ItemsPerKind: 3,
		Cycles:       3,
		EditRatio:    0.5,
		CreatorID:    1,
		Seed:         7,
	}
}

func TestGenerateTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := smallWorkload()
	require.NoError(t, GenerateTree(fs, root, w))

	idx, err := schema.ReadIndex(fs, ProjectDir(root, 2))
	require.NoError(t, err)
	assert.Equal(t, "Project 2", idx.Project.String("title"))
	assert.Len(t, idx.Entries, 12)
	assert.Equal(t, map[schema.Kind]int{
		schema.KindChapter:   3,
		schema.KindNote:      3,
		schema.KindReference: 3,
		schema.KindLoreItem:  3,
	}, idx.ExpectedCounts())

	rec, err := schema.ReadRecordFile(fs, schema.ItemPath(ProjectDir(root, 1), schema.KindLoreItem, 3))
	require.NoError(t, err)
	assert.Equal(t, "place", rec.String("lore_kind"))
	assert.Equal(t, 26, w.Items())
}

func TestEditItems(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := smallWorkload()
	require.NoError(t, GenerateTree(fs, root, w))

	n, err := EditItems(fs, root, w, rand.New(rand.NewSource(1)), 4)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	revised := 0
	for p := 1; p <= w.Projects; p++ {
		for _, kind := range itemKinds {
			for id := int64(1); id <= int64(w.ItemsPerKind); id++ {
				rec, err := schema.ReadRecordFile(fs, schema.ItemPath(ProjectDir(root, p), kind, id))
				require.NoError(t, err)
				field := "content"
				if kind == schema.KindLoreItem {
					field = "body"
				}
				if rec.String(field) == rec.String("title")+" (revision 4)" {
					revised++
				}
			}
		}
	}
	assert.Equal(t, n, revised)
}

func TestEditItems_ZeroRatio(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := smallWorkload()
	w.EditRatio = 0
	require.NoError(t, GenerateTree(fs, root, w))

	n, err := EditItems(fs, root, w, rand.New(rand.NewSource(1)), 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	store := setupStore(t)
	runner := New(afero.NewMemMapFs(), root, store, loomsync.Options{Logger: logging.Discard()})

	w := smallWorkload()
	res, err := runner.Run(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, w.Items(), res.Seed.Totals().Inserted)
	assert.Equal(t, 36, res.Edits)
	assert.Equal(t, res.Edits, res.Updated)
	assert.Zero(t, res.Failures)

	require.NotNil(t, res.Stats)
	assert.Equal(t, 3, res.Stats.Cycles)
	assert.LessOrEqual(t, res.Stats.Min, res.Stats.P50)
	assert.LessOrEqual(t, res.Stats.P50, res.Stats.Max)

	ids, err := store.ProjectIDsForCreator(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestRun_InvalidWorkload(t *testing.T) {
	runner := New(afero.NewMemMapFs(), root, nil, loomsync.Options{})

	_, err := runner.Run(context.Background(), Workload{Projects: 0, EditRatio: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "projects must be positive")
	assert.Contains(t, err.Error(), "edit ratio")
	assert.Contains(t, err.Error(), "creator id")
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	assert.Equal(t, time.Millisecond, stats.Min)
	assert.Equal(t, 100*time.Millisecond, stats.Max)
	assert.Equal(t, 51*time.Millisecond, stats.P50)
	assert.Equal(t, 96*time.Millisecond, stats.P95)
	assert.Equal(t, 100*time.Millisecond, stats.P99)
	assert.Equal(t, 50500*time.Microsecond, stats.Mean)
	assert.Equal(t, 100, stats.Cycles)

	assert.Equal(t, &LatencyStats{}, computeLatencyStats(nil))
}
