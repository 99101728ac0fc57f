package collect

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomnotes/loom/internal/schema"
)

const testIndex = `{
	"project": {"id": 1, "code": "PRJ-0001-000001", "title": "Novel", "creator_id": 7},
	"entries": [
		{"id": 1, "type": "chapter", "title": "One"},
		{"id": 2, "type": "chapter", "title": "Two"},
		{"id": 1, "type": "note", "title": "Clue"},
		{"id": 1, "type": "lore", "title": "Dragons"}
	]
}`

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func newTestCollector(fs afero.Fs) (*Collector, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(fs, logger), &buf
}

func TestCollect(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/p/novel/project.json", testIndex)
	writeFile(t, fs, "/p/novel/chapters/chapter_2.json", `{"id": 2, "title": "Two"}`)
	writeFile(t, fs, "/p/novel/chapters/chapter_1.json", `{"id": 1, "code": "CHP-0001-000001", "title": "One"}`)
	writeFile(t, fs, "/p/novel/chapters/readme.txt", `not an item`)
	writeFile(t, fs, "/p/novel/notes/note_1.json", `{"id": 1, "title": "Clue"}`)
	writeFile(t, fs, "/p/novel/lore/lore_1.json", `{"id": 1, "title": "Dragons", "lore_type": "creature", "content": "Scaled."}`)
	writeFile(t, fs, "/p/novel/timeline.json", `{"title": "Years", "events": []}`)

	c, _ := newTestCollector(fs)
	snap, err := c.Collect("/p/novel")
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap.ProjectID())
	assert.Equal(t, int64(7), snap.CreatorID)

	chapters := snap.Kind(schema.KindChapter)
	require.Len(t, chapters, 2)
	assert.Equal(t, int64(1), chapters[0].LocalID())
	assert.Equal(t, int64(2), chapters[1].LocalID())
	assert.Equal(t, Counts{Collected: 2, Expected: 2}, snap.Counts[schema.KindChapter])

	lore := snap.Kind(schema.KindLoreItem)
	require.Len(t, lore, 1)
	assert.Equal(t, "creature", lore[0].Record.String("lore_kind"))
	assert.Equal(t, "Scaled.", lore[0].Record.String("body"))
	assert.False(t, lore[0].Record.Has("lore_type"))

	timeline := snap.Kind(schema.KindTimeline)
	require.Len(t, timeline, 1)
	assert.Equal(t, int64(1), timeline[0].LocalID(), "single timeline defaults to id 1")

	assert.Empty(t, snap.Kind(schema.KindReference))
	assert.False(t, snap.Counts[schema.KindNote].Drift())
}

func TestCollect_MissingOrCorruptIndex(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/p/corrupt/project.json", `{"project": `)
	require.NoError(t, fs.MkdirAll("/p/empty", 0o755))

	c, _ := newTestCollector(fs)
	for _, path := range []string{"/p/corrupt", "/p/empty"} {
		_, err := c.Collect(path)
		require.Error(t, err)
		assert.True(t, IsCollectionError(err), path)
	}
}

func TestCollect_CorruptItemIsSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/p/novel/project.json", testIndex)
	writeFile(t, fs, "/p/novel/chapters/chapter_1.json", `{"id": 1, "title": "One"}`)
	writeFile(t, fs, "/p/novel/chapters/chapter_2.json", `{"id": 2, "title": `)

	c, logs := newTestCollector(fs)
	snap, err := c.Collect("/p/novel")
	require.NoError(t, err)

	assert.Len(t, snap.Kind(schema.KindChapter), 1)
	counts := snap.Counts[schema.KindChapter]
	assert.Equal(t, 1, counts.Skipped)
	assert.True(t, counts.Drift())
	assert.Contains(t, logs.String(), "chapter_2.json")
}

func TestCollect_IDFromFilename(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/p/novel/project.json", testIndex)
	writeFile(t, fs, "/p/novel/notes/Note5.json", `{"title": "legacy name, no id"}`)
	writeFile(t, fs, "/p/novel/notes/orphan.json", `{"title": "nothing to go on"}`)

	c, _ := newTestCollector(fs)
	snap, err := c.Collect("/p/novel")
	require.NoError(t, err)

	notes := snap.Kind(schema.KindNote)
	require.Len(t, notes, 1)
	assert.Equal(t, int64(5), notes[0].LocalID())
	assert.Equal(t, 0, snap.Counts[schema.KindNote].Skipped, "non-matching names are not counted as skipped")
}

func TestCollect_MergesDuplicateFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/p/novel/project.json", testIndex)
	writeFile(t, fs, "/p/novel/notes/NT-0001-000003.json",
		`{"id": 3, "code": "NT-0001-000003", "title": "Legacy title", "category": "plot"}`)
	writeFile(t, fs, "/p/novel/notes/note_3.json",
		`{"id": 3, "code": "NT-0001-000003", "title": "Canonical title"}`)

	c, logs := newTestCollector(fs)
	snap, err := c.Collect("/p/novel")
	require.NoError(t, err)

	notes := snap.Kind(schema.KindNote)
	require.Len(t, notes, 1)
	note := notes[0]
	assert.Equal(t, "Canonical title", note.Record.String("title"), "first-seen canonical file is authoritative")
	assert.Equal(t, "plot", note.Record.String("category"), "missing fields come from the duplicate")
	assert.Equal(t, []string{"/p/novel/notes/note_3.json", "/p/novel/notes/NT-0001-000003.json"}, note.Paths)
	assert.Equal(t, 1, snap.Counts[schema.KindNote].Merged)

	out := logs.String()
	assert.Contains(t, out, "merged duplicate item file")
	assert.Contains(t, out, "note_3.json")
	assert.Contains(t, out, "NT-0001-000003.json")
}

func TestCollect_MergesBySameCodeDifferentID(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/p/novel/project.json", testIndex)
	writeFile(t, fs, "/p/novel/refs/ref_4.json", `{"id": 4, "code": "RF-0001-000004", "title": "Atlas"}`)
	writeFile(t, fs, "/p/novel/refs/ref-9.json", `{"id": 9, "code": "RF-0001-000004", "source_link": "https://atlas.example"}`)

	c, _ := newTestCollector(fs)
	snap, err := c.Collect("/p/novel")
	require.NoError(t, err)

	refs := snap.Kind(schema.KindReference)
	require.Len(t, refs, 1)
	assert.Equal(t, int64(4), refs[0].LocalID())
	assert.Equal(t, "https://atlas.example", refs[0].Record.String("source_link"))
}

func TestCollectAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	for i := 1; i <= 2; i++ {
		writeFile(t, fs, fmt.Sprintf("/root/p%d/project.json", i),
			fmt.Sprintf(`{"project": {"id": %d, "title": "P%d", "creator_id": 1}, "entries": []}`, i, i))
	}
	writeFile(t, fs, "/root/broken/project.json", `nope`)
	writeFile(t, fs, "/root/.trash/project.json", `nope`)
	writeFile(t, fs, "/root/stray.json", `{}`)

	c, _ := newTestCollector(fs)
	snaps, errs := c.CollectAll("/root")

	require.Len(t, snaps, 2)
	assert.Equal(t, "/root/p1", snaps[0].Path)
	assert.Equal(t, "/root/p2", snaps[1].Path)
	require.Len(t, errs, 1)
	assert.True(t, IsCollectionError(errs[0]))
}

func TestCollectAll_MissingRoot(t *testing.T) {
	c, _ := newTestCollector(afero.NewMemMapFs())
	snaps, errs := c.CollectAll("/nowhere")
	assert.Empty(t, snaps)
	assert.Empty(t, errs)
}
