// Package mapper translates entities between their on-disk record shape and
// their remote row shape.
//
// Every kind has one mapping table listing its fields. The identifier swap
// (local "id" is remote "code", local "code" is remote "id") is two ordinary
// entries of that table, so no call site ever swaps identifiers by hand.
package mapper

import "github.com/loomnotes/loom/internal/schema"

// FieldType controls how a value is converted when it crosses the boundary.
type FieldType int

const (
	// Text is a string column.
	Text FieldType = iota
	// Int is an integer column.
	Int
	// Bool is stored remotely as 0/1.
	Bool
	// Tags is a string list on disk and JSON array text remotely.
	Tags
	// JSON is any JSON value on disk and JSON text remotely.
	JSON
	// Time is an RFC3339 timestamp on both sides.
	Time
	// LocalID is the local sequence number: an integer on disk, decimal
	// text in the remote "code" column.
	LocalID
)

func (t FieldType) String() string {
	switch t {
	case Text:
		return "text"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Tags:
		return "tags"
	case JSON:
		return "json"
	case Time:
		return "time"
	case LocalID:
		return "local_id"
	default:
		return "unknown"
	}
}

// Field maps one local field to one remote column.
type Field struct {
	Local  string
	Remote string
	Type   FieldType
	// Aliases are older local names read when Local is absent.
	Aliases []string
	// Nullable columns are left NULL instead of receiving a default.
	Nullable bool
	// Immutable columns are written on insert only.
	Immutable bool
	// Identifier text is trimmed on the way to the remote. Other text
	// crosses unchanged.
	Identifier bool
}

var (
	fieldLocalID   = Field{Local: "id", Remote: "code", Type: LocalID, Immutable: true}
	fieldCode      = Field{Local: "code", Remote: "id", Type: Text, Immutable: true, Identifier: true}
	fieldProjectID = Field{Local: "project_id", Remote: "project_id", Type: Text, Immutable: true, Identifier: true}
	fieldCreatorID = Field{Local: "creator_id", Remote: "creator_id", Type: Int, Immutable: true}
	fieldTitle     = Field{Local: "title", Remote: "title", Type: Text}
	fieldTags      = Field{Local: "tags", Remote: "tags", Type: Tags}
	fieldOrder     = Field{Local: "order_index", Remote: "sort_order", Type: Int, Aliases: []string{"sort_order", "order"}, Nullable: true}
	fieldCreatedAt = Field{Local: "created_at", Remote: "created_at", Type: Time, Immutable: true}
	fieldUpdatedAt = Field{Local: "updated_at", Remote: "updated_at", Type: Time}
)

func loreEntryFields() []Field {
	var fields []Field
	for _, n := range []string{"1", "2", "3", "4"} {
		fields = append(fields,
			Field{Local: "entry" + n + "_name", Remote: "entry" + n + "_name", Type: Text},
			Field{Local: "entry" + n + "_content", Remote: "entry" + n + "_content", Type: Text},
		)
	}
	return fields
}

var tables = map[schema.Kind][]Field{
	schema.KindProject: {
		fieldLocalID,
		fieldCode,
		fieldCreatorID,
		fieldTitle,
		{Local: "description", Remote: "description", Type: Text, Aliases: []string{"summary"}},
		fieldCreatedAt,
		fieldUpdatedAt,
	},
	schema.KindChapter: {
		fieldLocalID,
		fieldCode,
		fieldProjectID,
		fieldCreatorID,
		fieldTitle,
		{Local: "content", Remote: "content", Type: Text, Aliases: []string{"body", "text"}},
		{Local: "summary", Remote: "summary", Type: Text},
		{Local: "status", Remote: "status", Type: Text},
		fieldTags,
		fieldOrder,
		{Local: "word_count", Remote: "word_count", Type: Int},
		fieldCreatedAt,
		fieldUpdatedAt,
	},
	schema.KindNote: {
		fieldLocalID,
		fieldCode,
		fieldProjectID,
		fieldCreatorID,
		fieldTitle,
		{Local: "content", Remote: "content", Type: Text, Aliases: []string{"body", "text"}},
		{Local: "category", Remote: "category", Type: Text},
		{Local: "pinned", Remote: "pinned", Type: Bool},
		fieldTags,
		fieldOrder,
		fieldCreatedAt,
		fieldUpdatedAt,
	},
	schema.KindReference: {
		fieldLocalID,
		fieldCode,
		fieldProjectID,
		fieldCreatorID,
		fieldTitle,
		{Local: "content", Remote: "content", Type: Text, Aliases: []string{"body", "notes"}},
		{Local: "reference_type", Remote: "ref_type", Type: Text, Aliases: []string{"ref_type", "type"}},
		{Local: "source_link", Remote: "source_url", Type: Text, Aliases: []string{"source_url", "url"}},
		fieldTags,
		fieldOrder,
		fieldCreatedAt,
		fieldUpdatedAt,
	},
	schema.KindLoreItem: append(append([]Field{
		fieldLocalID,
		fieldCode,
		fieldProjectID,
		fieldCreatorID,
		fieldTitle,
		{Local: "body", Remote: "body", Type: Text, Aliases: []string{"content"}},
		{Local: "lore_kind", Remote: "lore_kind", Type: Text, Aliases: []string{"lore_type"}},
	}, loreEntryFields()...),
		fieldTags,
		fieldOrder,
		fieldCreatedAt,
		fieldUpdatedAt,
	),
	schema.KindTimeline: {
		fieldLocalID,
		fieldCode,
		fieldProjectID,
		fieldCreatorID,
		fieldTitle,
		{Local: "events", Remote: "events", Type: JSON, Aliases: []string{"entries"}},
		fieldCreatedAt,
		fieldUpdatedAt,
	},
}

// Fields returns the mapping table for k. The returned slice must not be
// modified.
func Fields(k schema.Kind) []Field {
	return tables[k]
}

// Columns returns the remote column names of k in table order.
func Columns(k schema.Kind) []string {
	fields := tables[k]
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Remote
	}
	return cols
}

// MutableColumns returns the remote columns an UPDATE may change,
// excluding updated_at.
func MutableColumns(k schema.Kind) []string {
	var cols []string
	for _, f := range tables[k] {
		if f.Immutable || f.Remote == "updated_at" {
			continue
		}
		cols = append(cols, f.Remote)
	}
	return cols
}

// ColumnType returns the type of a remote column of k.
func ColumnType(k schema.Kind, column string) (FieldType, bool) {
	for _, f := range tables[k] {
		if f.Remote == column {
			return f.Type, true
		}
	}
	return 0, false
}
