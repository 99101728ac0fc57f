// Package schema defines the entity kinds, identifiers and on-disk file
// shapes shared by the local project tree and the remote store.
//
// Every entity has two identifiers:
//   - a local id: small integer, unique within its parent and kind, used as
//     the on-disk sequence number and stored in the "id" field of a file;
//   - a public code: "<PREFIX>-<parent 4 digits>-<local 6 digits>", globally
//     unique, stored in the "code" field of a file.
//
// The remote store keys rows the other way round ("id" holds the public code,
// "code" holds the local id). Translating between the two shapes is the job
// of the mapper package; nothing in this package swaps identifiers.
package schema

import (
	"fmt"
	"strings"
)

// Kind identifies an entity kind.
type Kind string

const (
	KindProject   Kind = "project"
	KindChapter   Kind = "chapter"
	KindNote      Kind = "note"
	KindReference Kind = "reference"
	KindLoreItem  Kind = "lore_item"
	KindTimeline  Kind = "timeline"
)

// KindInfo holds the naming conventions of one kind on both sides of the
// local/remote boundary.
type KindInfo struct {
	Kind Kind
	// Prefix is the public code prefix (PRJ, CHP, ...).
	Prefix string
	// Table is the remote table name.
	Table string
	// Dir is the subdirectory of a project holding one file per item.
	// Empty for kinds stored in a single file.
	Dir string
	// FileStem is the canonical filename stem: <stem>_<id>.json.
	FileStem string
	// SingleFile is set for kinds stored as one file per project.
	SingleFile string
	// IndexType is the "type" used for this kind in project index entries.
	IndexType string
}

var kinds = map[Kind]KindInfo{
	KindProject: {
		Kind:      KindProject,
		Prefix:    "PRJ",
		Table:     "projects",
		IndexType: "project",
	},
	KindChapter: {
		Kind:      KindChapter,
		Prefix:    "CHP",
		Table:     "chapters",
		Dir:       "chapters",
		FileStem:  "chapter",
		IndexType: "chapter",
	},
	KindNote: {
		Kind:      KindNote,
		Prefix:    "NT",
		Table:     "notes",
		Dir:       "notes",
		FileStem:  "note",
		IndexType: "note",
	},
	KindReference: {
		Kind:      KindReference,
		Prefix:    "RF",
		Table:     "refs",
		Dir:       "refs",
		FileStem:  "ref",
		IndexType: "reference",
	},
	KindLoreItem: {
		Kind:      KindLoreItem,
		Prefix:    "LR",
		Table:     "lore",
		Dir:       "lore",
		FileStem:  "lore",
		IndexType: "lore",
	},
	KindTimeline: {
		Kind:       KindTimeline,
		Prefix:     "TL",
		Table:      "timelines",
		SingleFile: "timeline.json",
		IndexType:  "timeline",
	},
}

// ChildKinds lists the kinds owned by a project, in the order the
// reconciliation engine processes them.
var ChildKinds = []Kind{KindChapter, KindNote, KindReference, KindLoreItem, KindTimeline}

// AllKinds lists every entity kind, parent first.
var AllKinds = append([]Kind{KindProject}, ChildKinds...)

// Info returns the naming conventions for k.
// Unknown kinds yield a zero KindInfo.
func Info(k Kind) KindInfo {
	return kinds[k]
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	_, ok := kinds[k]
	return ok
}

// Table returns the remote table name for k.
func (k Kind) Table() string {
	return kinds[k].Table
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// ParseKind resolves a kind from its name, table name, directory or index type.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, info := range kinds {
		switch s {
		case string(k), info.Table, info.Dir, info.IndexType, info.FileStem:
			if s != "" {
				return k, nil
			}
		}
	}
	switch s {
	case "lore", "loreitem", "lore-item":
		return KindLoreItem, nil
	case "ref":
		return KindReference, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}
