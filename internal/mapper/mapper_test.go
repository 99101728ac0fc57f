package mapper

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomnotes/loom/internal/schema"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestMapper() *Mapper {
	return New(nil, WithClock(func() time.Time { return fixedNow }))
}

func mustRecord(t *testing.T, data string) schema.Record {
	t.Helper()
	rec, err := schema.DecodeRecord([]byte(data))
	require.NoError(t, err)
	return rec
}

func assertGoldenRow(t *testing.T, name string, row schema.Row) {
	t.Helper()
	data, err := json.MarshalIndent(row, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

func TestIdentifierRoundTrip(t *testing.T) {
	m := newTestMapper()

	for _, kind := range schema.AllKinds {
		t.Run(kind.String(), func(t *testing.T) {
			rec := schema.Record{
				"id":    json.Number("7"),
				"code":  schema.FormatCode(kind, 3, 7),
				"title": "Item",
			}

			row := m.ToRemoteRow(kind, rec)
			assert.Equal(t, "7", row["code"], "local id lands in remote code")
			assert.Equal(t, rec["code"], row["id"], "public code lands in remote id")

			back := m.ToLocalRecord(kind, row)
			id, ok := back.LocalID()
			require.True(t, ok)
			assert.Equal(t, int64(7), id)
			assert.Equal(t, rec.Code(), back.Code())
		})
	}
}

func TestInvert(t *testing.T) {
	local := map[string]any{"id": 4, "code": "NT-0002-000004", "title": "x", "scratch": true}

	remote := Invert(schema.KindNote, ToRemote, local)
	assert.Equal(t, map[string]any{"code": 4, "id": "NT-0002-000004", "title": "x"}, remote)

	assert.Equal(t, map[string]any{"id": 4, "code": "NT-0002-000004", "title": "x"},
		Invert(schema.KindNote, ToLocal, remote))
}

func TestToRemoteRow_Chapter(t *testing.T) {
	rec := mustRecord(t, `{
		"id": 1,
		"code": "CHP-0001-000001",
		"project_id": "PRJ-0001-000001",
		"creator_id": 1,
		"title": "Opening",
		"body": "It was a dark night.",
		"summary": "Intro",
		"status": "draft",
		"tags": ["intro", "night"],
		"order_index": 0,
		"created_at": "2025-03-01T10:00:00Z",
		"updated_at": "2025-03-02T10:00:00Z",
		"ui_state": {"scroll": 12}
	}`)

	assertGoldenRow(t, "chapter_remote_row", newTestMapper().ToRemoteRow(schema.KindChapter, rec))
}

func TestToRemoteRow_LegacyLore(t *testing.T) {
	rec := mustRecord(t, `{
		"id": 2,
		"code": "LR-0001-000002",
		"project_id": "PRJ-0001-000001",
		"creator_id": 1,
		"title": "Dragons",
		"lore_type": "creature",
		"content": "Old and tired.",
		"Field 1 Name": "Habitat",
		"Field 1 Content": "Mountains",
		"created_at": "2025-03-01T10:00:00Z"
	}`)

	canonical := CanonicalizeLegacyFields(schema.KindLoreItem, rec)
	assertGoldenRow(t, "lore_legacy_remote_row", newTestMapper().ToRemoteRow(schema.KindLoreItem, canonical))
}

func TestToRemoteRow_NeverNullForRequiredColumns(t *testing.T) {
	m := newTestMapper()

	for _, kind := range schema.AllKinds {
		t.Run(kind.String(), func(t *testing.T) {
			row := m.ToRemoteRow(kind, schema.Record{"id": 1, "tags": nil, "title": nil})
			for _, f := range Fields(kind) {
				v, ok := row[f.Remote]
				require.True(t, ok, "column %s missing", f.Remote)
				if !f.Nullable {
					assert.NotNil(t, v, "column %s", f.Remote)
				}
			}
			assert.Equal(t, schema.FormatTime(fixedNow), row["updated_at"])
		})
	}
}

func TestToRemoteRow_ValueConversion(t *testing.T) {
	m := newTestMapper()
	rec := mustRecord(t, `{
		"id": 5,
		"code": "NT-0001-000005",
		"title": "Pinned",
		"pinned": true,
		"tags": "a, b",
		"order_index": "not a number"
	}`)

	row := m.ToRemoteRow(schema.KindNote, rec)
	assert.Equal(t, int64(1), row["pinned"])
	assert.Equal(t, `["a","b"]`, row["tags"])
	assert.Nil(t, row["sort_order"], "unparseable nullable int stays NULL")
	assert.Equal(t, "", row["content"])
	assert.Equal(t, schema.FormatTime(fixedNow), row["created_at"])
}

func TestToRemoteRow_ReferenceDrift(t *testing.T) {
	rec := schema.Record{"id": 1, "reference_type": "book", "source_link": "https://example.com"}
	row := newTestMapper().ToRemoteRow(schema.KindReference, rec)

	assert.Equal(t, "book", row["ref_type"])
	assert.Equal(t, "https://example.com", row["source_url"])
	assert.NotContains(t, row, "reference_type")
	assert.NotContains(t, row, "source_link")
}

func TestToLocalRecord(t *testing.T) {
	row := schema.Row{
		"id":         "NT-0002-000009",
		"code":       "9",
		"project_id": "PRJ-0001-000002",
		"creator_id": int64(1),
		"title":      "Clue",
		"content":    "The butler",
		"pinned":     int64(1),
		"tags":       `["mystery"]`,
		"sort_order": nil,
		"updated_at": "2025-01-01 08:00:00",
	}

	rec := newTestMapper().ToLocalRecord(schema.KindNote, row)

	want := schema.Record{
		"id":         int64(9),
		"code":       "NT-0002-000009",
		"project_id": "PRJ-0001-000002",
		"creator_id": int64(1),
		"title":      "Clue",
		"content":    "The butler",
		"category":   "",
		"pinned":     true,
		"tags":       []string{"mystery"},
		"created_at": "",
		"updated_at": "2025-01-01T08:00:00Z",
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("ToLocalRecord() mismatch (-want +got):\n%s", diff)
	}
}

func TestToLocalRecord_UnparseableCodeKeepsRawValue(t *testing.T) {
	rec := newTestMapper().ToLocalRecord(schema.KindChapter, schema.Row{
		"id":   "CHP-0001-000003",
		"code": "three",
	})

	assert.Equal(t, "three", rec["id"])
	_, ok := rec.LocalID()
	assert.False(t, ok)
}

func TestToLocalRecord_TimelineEvents(t *testing.T) {
	rec := newTestMapper().ToLocalRecord(schema.KindTimeline, schema.Row{
		"id":     "TL-0001-000001",
		"code":   "1",
		"events": `[{"when":"spring","what":"war"}]`,
	})

	assert.Equal(t, []any{map[string]any{"when": "spring", "what": "war"}}, rec["events"])

	broken := newTestMapper().ToLocalRecord(schema.KindTimeline, schema.Row{"id": "TL-0001-000001", "code": "1", "events": "{oops"})
	assert.Equal(t, []any{}, broken["events"])
}

func TestChanged(t *testing.T) {
	m := newTestMapper()
	rec := schema.Record{"id": 1, "code": "CHP-0001-000001", "title": "One", "tags": []any{"a"}, "order_index": 2}
	want := m.ToRemoteRow(schema.KindChapter, rec)

	stored := want.Clone()
	stored["updated_at"] = "2020-01-01T00:00:00Z"
	stored["created_at"] = "2019-01-01T00:00:00Z"
	stored["sort_order"] = int64(2)
	stored["word_count"] = []byte("0")
	assert.Empty(t, Changed(schema.KindChapter, want, stored), "updated_at and immutable columns are ignored")

	stored["title"] = "Uno"
	assert.Equal(t, []string{"title"}, Changed(schema.KindChapter, want, stored))
}

func TestMutableColumns(t *testing.T) {
	assert.Equal(t, []string{"title", "description"}, MutableColumns(schema.KindProject))
	assert.NotContains(t, MutableColumns(schema.KindNote), "creator_id")
	assert.NotContains(t, MutableColumns(schema.KindNote), "id")
}

func TestCanonicalizeLegacyFields(t *testing.T) {
	t.Run("legacy only", func(t *testing.T) {
		rec := schema.Record{"id": 1, "lore_type": "place", "content": "A city"}
		got := CanonicalizeLegacyFields(schema.KindLoreItem, rec)

		assert.Equal(t, "place", got["lore_kind"])
		assert.Equal(t, "A city", got["body"])
		assert.NotContains(t, got, "lore_type")
		assert.NotContains(t, got, "content")
		assert.Contains(t, rec, "lore_type", "input is not modified")
	})

	t.Run("canonical wins", func(t *testing.T) {
		rec := schema.Record{"lore_kind": "person", "lore_type": "place", "body": "new", "content": "old"}
		got := CanonicalizeLegacyFields(schema.KindLoreItem, rec)

		assert.Equal(t, schema.Record{"lore_kind": "person", "body": "new"}, got)
	})

	t.Run("numbered fields", func(t *testing.T) {
		rec := schema.Record{
			"Field 1 Name":    "Age",
			"Field 1 Content": "Ancient",
			"field4 content":  "Last",
			"entry1_name":     "Years",
		}
		got := CanonicalizeLegacyFields(schema.KindLoreItem, rec)

		assert.Equal(t, schema.Record{
			"entry1_name":    "Years",
			"entry1_content": "Ancient",
			"entry4_content": "Last",
		}, got)
	})

	t.Run("other kinds untouched", func(t *testing.T) {
		rec := schema.Record{"content": "text", "lore_type": "x"}
		assert.Equal(t, rec, CanonicalizeLegacyFields(schema.KindNote, rec))
		assert.False(t, HasLegacyFields(schema.KindNote, rec))
	})
}

func TestTextCrossesUnchanged(t *testing.T) {
	m := newTestMapper()
	rec := schema.Record{
		"id":         1,
		"code":       "  CHP-0001-000001 ",
		"project_id": "PRJ-0001-000001\n",
		"title":      " Verse ",
		"content":    "    indented verse\n\n",
	}

	row := m.ToRemoteRow(schema.KindChapter, rec)
	assert.Equal(t, "CHP-0001-000001", row["id"], "identifiers are trimmed")
	assert.Equal(t, "PRJ-0001-000001", row["project_id"])
	assert.Equal(t, "    indented verse\n\n", row["content"])
	assert.Equal(t, " Verse ", row["title"])

	back := m.ToLocalRecord(schema.KindChapter, row)
	assert.Equal(t, "    indented verse\n\n", back["content"])
	assert.Empty(t, Changed(schema.KindChapter, m.ToRemoteRow(schema.KindChapter, back), row))
}

func TestAssignCode(t *testing.T) {
	rec := schema.Record{"id": json.Number("1")}
	code, assigned, err := AssignCode(schema.KindProject, rec, 1, nil)
	require.NoError(t, err)
	assert.True(t, assigned)
	assert.Equal(t, "PRJ-0001-000001", code)
	assert.Equal(t, "PRJ-0001-000001", rec["code"])

	code, assigned, err = AssignCode(schema.KindProject, rec, 9, nil)
	require.NoError(t, err)
	assert.False(t, assigned, "an assigned code is immutable")
	assert.Equal(t, "PRJ-0001-000001", code)

	_, assigned, err = AssignCode(schema.KindNote, schema.Record{"title": "no id"}, 1, nil)
	require.NoError(t, err)
	assert.False(t, assigned)
}

func TestAssignCode_SkipsTakenCodes(t *testing.T) {
	taken := map[string]bool{"CHP-0001-000001": true, "CHP-10001-000001": true}
	var asked []string
	free := func(code string) (bool, error) {
		asked = append(asked, code)
		return !taken[code], nil
	}

	rec := schema.Record{"id": 1}
	code, assigned, err := AssignCode(schema.KindChapter, rec, 1, free)
	require.NoError(t, err)
	assert.True(t, assigned)
	assert.Equal(t, "CHP-20001-000001", code)
	assert.Equal(t, []string{"CHP-0001-000001", "CHP-10001-000001", "CHP-20001-000001"}, asked)

	parsed, err := schema.ParseCode(code)
	require.NoError(t, err)
	assert.Equal(t, int64(1), parsed.LocalID, "the local segment keeps the local id")

	t.Run("lookup error", func(t *testing.T) {
		boom := errors.New("connection reset")
		_, _, err := AssignCode(schema.KindChapter, schema.Record{"id": 2}, 1, func(string) (bool, error) { return false, boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("all taken", func(t *testing.T) {
		rec := schema.Record{"id": 3}
		_, assigned, err := AssignCode(schema.KindChapter, rec, 1, func(string) (bool, error) { return false, nil })
		assert.ErrorIs(t, err, ErrNoFreeCode)
		assert.False(t, assigned)
		assert.False(t, rec.Has("code"))
	})
}
