package orchestrator

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomnotes/loom/internal/reconcile"
	"github.com/loomnotes/loom/internal/schema"
)

func TestHistory(t *testing.T) {
	fs := afero.NewMemMapFs()
	h := NewHistory(fs, "/state")

	entries, err := h.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, ok, err := h.Last()
	require.NoError(t, err)
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Append(HistoryEntry{
			RunID:     fmt.Sprintf("run-%d", i),
			Trigger:   TriggerPeriodic,
			Status:    StatusOK,
			StartedAt: time.Date(2025, 6, 1, 12, i, 0, 0, time.UTC),
		}))
	}

	last, ok, err := h.Last()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-5", last.RunID)

	t.Run("malformed lines are skipped", func(t *testing.T) {
		f, err := fs.OpenFile(h.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString("not json\n\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		entries, err := h.Load()
		require.NoError(t, err)
		assert.Len(t, entries, 5)
	})

	t.Run("compact keeps the newest", func(t *testing.T) {
		require.NoError(t, h.Compact(2))

		entries, err := h.Load()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "run-4", entries[0].RunID)
		assert.Equal(t, "run-5", entries[1].RunID)

		exists, err := afero.Exists(fs, h.Path()+".tmp")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestEntryFor(t *testing.T) {
	out := Outcome{
		Status:  StatusPartial,
		Trigger: TriggerExplicit,
		RunID:   "abc",
		Report: &reconcile.Report{
			RunID: "abc",
			Counts: map[schema.Kind]reconcile.Counts{
				schema.KindProject: {Inserted: 1},
				schema.KindChapter: {Inserted: 2, Errors: 1},
			},
			Failures:  []reconcile.WriteFailure{{Op: "insert"}},
			Conflicts: []reconcile.Conflict{{Kind: schema.KindChapter}},
		},
	}

	entry := entryFor(out)
	assert.Equal(t, "abc", entry.RunID)
	assert.Equal(t, StatusPartial, entry.Status)
	assert.Equal(t, reconcile.Counts{Inserted: 3, Errors: 1}, entry.Totals)
	assert.Equal(t, 1, entry.Failures)
	assert.Equal(t, 1, entry.Conflicts)
}
