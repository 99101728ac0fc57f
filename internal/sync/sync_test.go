package sync

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/reconcile"
	"github.com/loomnotes/loom/internal/remote"
	"github.com/loomnotes/loom/internal/schema"
)

const root = "/projects"

var session = reconcile.Session{CreatorID: 1, ProjectRoot: root}

// setupTestStore creates a temporary remote database with schema.
func setupTestStore(t *testing.T) *remote.Store {
	t.Helper()

	ctx := context.Background()
	store, err := remote.Open(ctx, filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema(ctx))
	return store
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// writeProject creates a local project with one chapter and one lore item,
// none of which carry a public code yet.
func writeProject(t *testing.T, fs afero.Fs, dir string) {
	t.Helper()
	writeProjectFor(t, fs, dir, 1)
}

// writeProjectFor is writeProject for the given creator.
func writeProjectFor(t *testing.T, fs afero.Fs, dir string, creator int64) {
	t.Helper()

	idx := &schema.Index{
		Project: schema.Record{"id": 1, "title": "The Novel", "creator_id": creator},
		Entries: []schema.IndexEntry{
			{ID: 1, Type: "chapter", Title: "Opening"},
			{ID: 1, Type: "lore", Title: "Dragons"},
		},
	}
	require.NoError(t, schema.WriteIndex(fs, dir, idx))
	require.NoError(t, schema.WriteRecordFile(fs, schema.ItemPath(dir, schema.KindChapter, 1),
		schema.Record{"id": 1, "title": "Opening", "content": "It was dark.", "tags": []string{"draft"}}))
	require.NoError(t, schema.WriteRecordFile(fs, schema.ItemPath(dir, schema.KindLoreItem, 1),
		schema.Record{"id": 1, "title": "Dragons", "lore_type": "creature", "content": "They fly.", "Field 1 Name": "Wings"}))
}

func TestPush_ReportsProgress(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	fs := afero.NewMemMapFs()
	writeProject(t, fs, filepath.Join(root, "novel"))

	var phases []string
	opts := PushOptions{Progress: func(p reconcile.Progress) { phases = append(phases, p.Phase) }}
	_, err := New(fs, store, Options{}).Push(ctx, session, opts)
	require.NoError(t, err)

	assert.Contains(t, phases, reconcile.PhaseProjects)
	assert.Contains(t, phases, reconcile.PhaseChildren)
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	fs := afero.NewMemMapFs()
	dir := filepath.Join(root, "novel")
	writeProject(t, fs, dir)

	syncer := New(fs, store, Options{Now: fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))})

	report, err := syncer.Push(ctx, session, PushOptions{})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Totals().Inserted)
	assert.Equal(t, 3, report.CodesAssigned)
	assert.Empty(t, report.Conflicts)

	chapter, err := store.FindByID(ctx, schema.KindChapter, "CHP-0001-000001")
	require.NoError(t, err)
	require.NotNil(t, chapter)
	assert.Equal(t, "PRJ-0001-000001", chapter.String("project_id"))
	assert.Equal(t, "1", chapter.String("code"))
	assert.Equal(t, `["draft"]`, chapter.String("tags"))

	lore, err := store.FindByID(ctx, schema.KindLoreItem, "LR-0001-000001")
	require.NoError(t, err)
	require.NotNil(t, lore)
	assert.Equal(t, "creature", lore.String("lore_kind"))
	assert.Equal(t, "They fly.", lore.String("body"))
	assert.Equal(t, "Wings", lore.String("entry1_name"))

	t.Run("codes written back", func(t *testing.T) {
		idx, err := schema.ReadIndex(fs, dir)
		require.NoError(t, err)
		assert.Equal(t, "PRJ-0001-000001", idx.Project.Code())
		assert.Equal(t, "CHP-0001-000001", idx.Entries[0].Code)
		assert.Equal(t, "LR-0001-000001", idx.Entries[1].Code)

		rec, err := schema.ReadRecordFile(fs, schema.ItemPath(dir, schema.KindChapter, 1))
		require.NoError(t, err)
		assert.Equal(t, "CHP-0001-000001", rec.Code())
		assert.Equal(t, "It was dark.", rec.String("content"), "the rest of the file is untouched")
	})

	t.Run("second push writes nothing", func(t *testing.T) {
		report, err := syncer.Push(ctx, session, PushOptions{})
		require.NoError(t, err)
		assert.Zero(t, report.Totals().Writes())
		assert.Equal(t, 3, report.Totals().Unchanged)
		assert.Zero(t, report.CodesAssigned)
	})
}

func TestPush_TwoCreatorsWithTheSameLocalIDs(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	fs := afero.NewMemMapFs()
	now := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	first := reconcile.Session{CreatorID: 1, ProjectRoot: "/one"}
	second := reconcile.Session{CreatorID: 2, ProjectRoot: "/two"}
	writeProjectFor(t, fs, filepath.Join("/one", "novel"), 1)
	writeProjectFor(t, fs, filepath.Join("/two", "novel"), 2)

	syncer := New(fs, store, Options{Now: now})
	report, err := syncer.Push(ctx, first, PushOptions{})
	require.NoError(t, err)
	require.True(t, report.OK())

	report, err = syncer.Push(ctx, second, PushOptions{})
	require.NoError(t, err)
	assert.True(t, report.OK(), "failures: %v", report.Failures)
	assert.Empty(t, report.Conflicts)
	assert.Equal(t, 3, report.Totals().Inserted)

	idx, err := schema.ReadIndex(fs, filepath.Join("/two", "novel"))
	require.NoError(t, err)
	assert.Equal(t, "PRJ-0002-000001", idx.Project.Code())
	chapterCode := idx.Entries[0].Code
	assert.Equal(t, "CHP-10001-000001", chapterCode)

	row, err := store.FindByID(ctx, schema.KindChapter, chapterCode)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "PRJ-0002-000001", row.String("project_id"))

	theirs, err := store.FindByID(ctx, schema.KindChapter, "CHP-0001-000001")
	require.NoError(t, err)
	assert.Equal(t, "PRJ-0001-000001", theirs.String("project_id"), "the first creator's row is untouched")

	report, err = syncer.Push(ctx, second, PushOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Totals().Writes())
	assert.True(t, report.OK())
}

func TestPushThenPull_KeepsWhitespace(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	fs := afero.NewMemMapFs()
	dir := filepath.Join(root, "novel")
	writeProject(t, fs, dir)

	path := schema.ItemPath(dir, schema.KindChapter, 1)
	rec, err := schema.ReadRecordFile(fs, path)
	require.NoError(t, err)
	rec["content"] = "    indented verse\n\n"
	require.NoError(t, schema.WriteRecordFile(fs, path, rec))

	_, err = New(fs, store, Options{}).Push(ctx, session, PushOptions{})
	require.NoError(t, err)

	row, err := store.FindByID(ctx, schema.KindChapter, "CHP-0001-000001")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "    indented verse\n\n", row.String("content"))

	fresh := afero.NewMemMapFs()
	_, err = New(fresh, store, Options{}).Pull(ctx, session, PullOptions{})
	require.NoError(t, err)

	dirs, err := afero.ReadDir(fresh, root)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	pulled, err := schema.ReadRecordFile(fresh, schema.ItemPath(filepath.Join(root, dirs[0].Name()), schema.KindChapter, 1))
	require.NoError(t, err)
	assert.Equal(t, "    indented verse\n\n", pulled.String("content"))
}

func TestPush_CodeWriteBackKeepsUnknownIndexKeys(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	fs := afero.NewMemMapFs()
	dir := filepath.Join(root, "novel")
	writeProject(t, fs, dir)
	require.NoError(t, afero.WriteFile(fs, schema.IndexPath(dir), []byte(`{
		"project": {"id": 1, "title": "The Novel", "creator_id": 1},
		"entries": [
			{"id": 1, "type": "chapter", "title": "Opening", "order_index": 0, "collapsed": true, "color": "amber"},
			{"id": 1, "type": "lore", "title": "Dragons", "order_index": 0},
			"separator"
		]
	}`), 0o644))

	_, err := New(fs, store, Options{}).Push(ctx, session, PushOptions{})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, schema.IndexPath(dir))
	require.NoError(t, err)
	var raw struct {
		Entries []json.RawMessage `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw.Entries, 3)

	var chapter map[string]any
	require.NoError(t, json.Unmarshal(raw.Entries[0], &chapter))
	assert.Equal(t, "CHP-0001-000001", chapter["code"])
	assert.Equal(t, true, chapter["collapsed"])
	assert.Equal(t, "amber", chapter["color"])
	assert.JSONEq(t, `"separator"`, string(raw.Entries[2]))
}

func TestUpsertEntry_KeepsExtraKeys(t *testing.T) {
	idx := &schema.Index{Entries: []schema.IndexEntry{
		{ID: 1, Type: "chapter", Title: "Old", Extra: schema.Record{"collapsed": true}},
	}}

	changed := upsertEntry(idx, schema.KindChapter, schema.Record{"id": 1, "code": "CHP-0001-000001", "title": "New"})

	assert.True(t, changed)
	require.Len(t, idx.Entries, 1)
	assert.Equal(t, "New", idx.Entries[0].Title)
	assert.Equal(t, schema.Record{"collapsed": true}, idx.Entries[0].Extra)

	assert.False(t, upsertEntry(idx, schema.KindChapter, schema.Record{"id": 1, "code": "CHP-0001-000001", "title": "New"}))
}

func TestPush_DryRunLeavesFilesAlone(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	fs := afero.NewMemMapFs()
	dir := filepath.Join(root, "novel")
	writeProject(t, fs, dir)

	report, err := New(fs, store, Options{DryRun: true}).Push(ctx, session, PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Totals().Inserted)

	ids, err := store.ProjectIDsForCreator(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ids)

	idx, err := schema.ReadIndex(fs, dir)
	require.NoError(t, err)
	assert.Empty(t, idx.Project.Code())
}

// seedRemote inserts a project with a chapter and a lore item, mapped from
// local records the way a push would.
func seedRemote(t *testing.T, store *remote.Store, updated time.Time) {
	t.Helper()

	ctx := context.Background()
	m := mapper.New(nil, mapper.WithClock(fixedClock(updated)))
	require.NoError(t, store.Insert(ctx, schema.KindProject, m.ToRemoteRow(schema.KindProject, schema.Record{
		"id": 2, "code": "PRJ-0001-000002", "title": "Café Noir", "creator_id": 1,
	})))
	require.NoError(t, store.Insert(ctx, schema.KindChapter, m.ToRemoteRow(schema.KindChapter, schema.Record{
		"id": 1, "code": "CHP-0002-000001", "project_id": "PRJ-0001-000002", "creator_id": 1,
		"title": "Rain", "content": "It rained.", "order_index": 1,
	})))
	require.NoError(t, store.Insert(ctx, schema.KindLoreItem, m.ToRemoteRow(schema.KindLoreItem, schema.Record{
		"id": 3, "code": "LR-0002-000003", "project_id": "PRJ-0001-000002", "creator_id": 1,
		"title": "The Bar", "lore_kind": "place",
	})))
}

func TestPull(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	fs := afero.NewMemMapFs()
	seedRemote(t, store, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	syncer := New(fs, store, Options{})

	res, err := syncer.Pull(ctx, session, PullOptions{})
	require.NoError(t, err)
	assert.True(t, res.NeedsReload())
	assert.Equal(t, 1, res.Projects)
	assert.Equal(t, 3, res.FilesWritten, "two items and the index")
	assert.Equal(t, map[schema.Kind]int{schema.KindChapter: 1, schema.KindLoreItem: 1}, res.Counts)

	dir := filepath.Join(root, "cafe-noir-2")
	idx, err := schema.ReadIndex(fs, dir)
	require.NoError(t, err)
	assert.Equal(t, "PRJ-0001-000002", idx.Project.Code())
	assert.Equal(t, "Café Noir", idx.Project.String("title"))
	assert.Equal(t, map[schema.Kind]int{schema.KindChapter: 1, schema.KindLoreItem: 1}, idx.ExpectedCounts())

	chapter, err := schema.ReadRecordFile(fs, schema.ItemPath(dir, schema.KindChapter, 1))
	require.NoError(t, err)
	id, _ := chapter.LocalID()
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "CHP-0002-000001", chapter.Code())
	assert.Equal(t, "It rained.", chapter.String("content"))

	lore, err := schema.ReadRecordFile(fs, schema.ItemPath(dir, schema.KindLoreItem, 3))
	require.NoError(t, err)
	assert.Equal(t, "place", lore.String("lore_kind"))

	t.Run("unchanged remote keeps local files", func(t *testing.T) {
		res, err := syncer.Pull(ctx, session, PullOptions{})
		require.NoError(t, err)
		assert.False(t, res.NeedsReload())
		assert.Equal(t, 2, res.Kept)
	})

	t.Run("newer remote row replaces local file", func(t *testing.T) {
		m := mapper.New(nil, mapper.WithClock(fixedClock(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))))
		row := m.ToRemoteRow(schema.KindChapter, schema.Record{
			"id": 1, "code": "CHP-0002-000001", "project_id": "PRJ-0001-000002", "creator_id": 1,
			"title": "Heavy Rain", "content": "It poured.",
		})
		require.NoError(t, store.Update(ctx, schema.KindChapter, "CHP-0002-000001", row, []string{"title", "content"}))

		res, err := syncer.Pull(ctx, session, PullOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{
			schema.ItemPath(dir, schema.KindChapter, 1),
			schema.IndexPath(dir),
		}, res.Written)

		chapter, err := schema.ReadRecordFile(fs, schema.ItemPath(dir, schema.KindChapter, 1))
		require.NoError(t, err)
		assert.Equal(t, "It poured.", chapter.String("content"))
	})

	t.Run("newer local file is kept", func(t *testing.T) {
		path := schema.ItemPath(dir, schema.KindLoreItem, 3)
		lore, err := schema.ReadRecordFile(fs, path)
		require.NoError(t, err)
		lore["body"] = "edited offline"
		lore["updated_at"] = "2030-01-01T00:00:00Z"
		require.NoError(t, schema.WriteRecordFile(fs, path, lore))

		_, err = syncer.Pull(ctx, session, PullOptions{})
		require.NoError(t, err)

		lore, err = schema.ReadRecordFile(fs, path)
		require.NoError(t, err)
		assert.Equal(t, "edited offline", lore.String("body"))
	})
}

func TestPull_Since(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	fs := afero.NewMemMapFs()
	seedRemote(t, store, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	res, err := New(fs, store, Options{}).Pull(ctx, session, PullOptions{
		Since: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Counts, "every item is older than since")
	assert.Equal(t, []string{schema.IndexPath(filepath.Join(root, "cafe-noir-2"))}, res.Written)
}

func TestPull_NoSession(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), setupTestStore(t), Options{}).Pull(context.Background(), reconcile.Session{}, PullOptions{})
	assert.ErrorIs(t, err, reconcile.ErrNoSession)
}

func TestPushThenPull_UsesExistingDirectory(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	fs := afero.NewMemMapFs()
	dir := filepath.Join(root, "novel")
	writeProject(t, fs, dir)

	syncer := New(fs, store, Options{})
	_, err := syncer.Push(ctx, session, PushOptions{})
	require.NoError(t, err)

	res, err := syncer.Pull(ctx, session, PullOptions{})
	require.NoError(t, err)
	assert.False(t, res.NeedsReload(), "local files are as new as the rows pushed from them")

	entries, err := afero.ReadDir(fs, root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "novel", entries[0].Name())
}

func TestSlug(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Café Noir", "cafe-noir"},
		{"  The  Long Night!  ", "the-long-night"},
		{"Ünïcödé Tëst 2", "unicode-test-2"},
		{"***", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.title))
		})
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Time
	}{
		{"", time.Time{}},
		{"2025-06-01T08:00:00Z", time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)},
		{"2025-06-01", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"36h", now.Add(-36 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseSince(tt.value, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	t.Run("natural language", func(t *testing.T) {
		got, err := ParseSince("yesterday", now)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, -1).Format("2006-01-02"), got.Format("2006-01-02"))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseSince("the color blue", now)
		assert.Error(t, err)
	})
}
