package schema

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// IndexFilename is the per-project index file.
const IndexFilename = "project.json"

// IndexEntry is the lightweight summary of one item kept in the project
// index. Full item content lives only in the item files.
type IndexEntry struct {
	ID         int64  `json:"id"`
	Code       string `json:"code,omitempty"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	OrderIndex int64  `json:"order_index"`
	UpdatedAt  string `json:"updated_at,omitempty"`

	// Extra holds the keys this version does not know, and known keys
	// whose values did not parse. They are written back unchanged.
	Extra Record `json:"-"`

	// raw is an entry that is not a JSON object, kept verbatim.
	raw json.RawMessage
}

var indexEntryKeys = []string{"id", "code", "type", "title", "order_index", "updated_at"}

// SameSummary reports whether e and o agree on every known field.
func (e IndexEntry) SameSummary(o IndexEntry) bool {
	return e.ID == o.ID && e.Code == o.Code && e.Type == o.Type &&
		e.Title == o.Title && e.OrderIndex == o.OrderIndex && e.UpdatedAt == o.UpdatedAt
}

// MarshalJSON writes the known fields over Extra. A zero known field does
// not replace a value Extra kept for it.
func (e IndexEntry) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	out := make(Record, len(e.Extra)+len(indexEntryKeys))
	for k, v := range e.Extra {
		out[k] = v
	}
	set := func(key string, v any, zero bool) {
		if _, kept := out[key]; kept && zero {
			return
		}
		out[key] = v
	}
	set("id", e.ID, e.ID == 0)
	if e.Code != "" {
		out["code"] = e.Code
	}
	set("type", e.Type, e.Type == "")
	set("title", e.Title, e.Title == "")
	set("order_index", e.OrderIndex, e.OrderIndex == 0)
	if e.UpdatedAt != "" {
		out["updated_at"] = e.UpdatedAt
	}
	return json.Marshal(out)
}

// decodeIndexEntry reads one entry leniently. Anything it cannot place in a
// known field lands in Extra.
func decodeIndexEntry(data json.RawMessage) IndexEntry {
	rec, err := DecodeRecord(data)
	if err != nil {
		return IndexEntry{raw: append(json.RawMessage(nil), data...)}
	}

	var entry IndexEntry
	extra := make(Record)
	for k, v := range rec {
		switch k {
		case "id", "order_index":
			n, ok := AsInt(v)
			if !ok {
				extra[k] = v
				continue
			}
			if k == "id" {
				entry.ID = n
			} else {
				entry.OrderIndex = n
			}
		case "code", "type", "title", "updated_at":
			s, ok := v.(string)
			if !ok {
				extra[k] = v
				continue
			}
			switch k {
			case "code":
				entry.Code = s
			case "type":
				entry.Type = s
			case "title":
				entry.Title = s
			default:
				entry.UpdatedAt = s
			}
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		entry.Extra = extra
	}
	return entry
}

// Index is the parsed project index file:
//
//	{ "project": {...}, "entries": [{...}, ...] }
type Index struct {
	Project Record       `json:"project"`
	Entries []IndexEntry `json:"entries"`
}

// IndexPath returns the index file path for a project directory.
func IndexPath(projectPath string) string {
	return filepath.Join(projectPath, IndexFilename)
}

// ReadIndex reads a project's index file.
//
// Entries are decoded leniently: an entry with a missing or non-numeric id
// keeps a zero id rather than failing the whole index. Unknown keys and
// entries that are not objects survive a later WriteIndex.
func ReadIndex(fs afero.Fs, projectPath string) (*Index, error) {
	path := IndexPath(projectPath)
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project index %s: %w", path, err)
	}

	var raw struct {
		Project json.RawMessage   `json:"project"`
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse project index %s: %w", path, err)
	}
	if len(raw.Project) == 0 || string(raw.Project) == "null" {
		return nil, fmt.Errorf("project index %s has no project object", path)
	}

	project, err := DecodeRecord(raw.Project)
	if err != nil {
		return nil, fmt.Errorf("failed to parse project in %s: %w", path, err)
	}

	idx := &Index{Project: project}
	for _, entryData := range raw.Entries {
		idx.Entries = append(idx.Entries, decodeIndexEntry(entryData))
	}

	return idx, nil
}

// WriteIndex writes a project's index file atomically.
func WriteIndex(fs afero.Fs, projectPath string, idx *Index) error {
	if idx.Entries == nil {
		idx.Entries = []IndexEntry{}
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project index: %w", err)
	}
	return writeFileAtomic(fs, IndexPath(projectPath), data)
}

// ExpectedCounts returns how many items of each kind the index lists.
// Entries with an unknown type are ignored.
func (idx *Index) ExpectedCounts() map[Kind]int {
	counts := make(map[Kind]int)
	for _, entry := range idx.Entries {
		kind, err := ParseKind(entry.Type)
		if err != nil || kind == KindProject {
			continue
		}
		counts[kind]++
	}
	return counts
}
