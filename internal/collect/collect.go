// Package collect scans project directories on disk and produces a
// normalized in-memory snapshot per project.
//
// Collection is read-only. A project without a readable index fails with a
// CollectionError; a corrupt item file is skipped with a warning and the rest
// of the project is still collected.
package collect

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/schema"
)

// CollectionError reports a project that could not be collected because its
// index file is missing or unparseable.
type CollectionError struct {
	Path string
	Err  error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("failed to collect project %s: %v", e.Path, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// IsCollectionError reports whether err is, or wraps, a CollectionError.
func IsCollectionError(err error) bool {
	var ce *CollectionError
	return errors.As(err, &ce)
}

// Item is one collected entity.
type Item struct {
	Kind   schema.Kind
	Record schema.Record
	// Path is the authoritative file the record was read from.
	Path string
	// Paths lists every file merged into Record, Path first.
	Paths []string
}

// LocalID returns the item's local id.
func (it Item) LocalID() int64 {
	id, _ := it.Record.LocalID()
	return id
}

// Counts summarizes the scan of one kind.
type Counts struct {
	// Collected is the number of distinct items returned.
	Collected int `json:"collected" yaml:"collected"`
	// Expected is the number of items the project index lists.
	Expected int `json:"expected" yaml:"expected"`
	// Skipped counts files that matched the naming convention but could
	// not be used.
	Skipped int `json:"skipped" yaml:"skipped"`
	// Merged counts duplicate files folded into an earlier item.
	Merged int `json:"merged" yaml:"merged"`
}

// Drift reports whether the collected count disagrees with the index.
func (c Counts) Drift() bool {
	return c.Collected != c.Expected
}

// Snapshot is the collected state of one project directory.
type Snapshot struct {
	Path    string
	Project schema.Record
	// CreatorID is the owning creator recorded in the project index, 0
	// when absent.
	CreatorID int64
	Items     map[schema.Kind][]Item
	Counts    map[schema.Kind]Counts
}

// Kind returns the collected items of k ordered by local id.
func (s *Snapshot) Kind(k schema.Kind) []Item {
	return s.Items[k]
}

// ProjectID returns the project's local id.
func (s *Snapshot) ProjectID() int64 {
	id, _ := s.Project.LocalID()
	return id
}

// Collector reads project directories from a filesystem.
type Collector struct {
	fs     afero.Fs
	logger *slog.Logger
}

// New creates a Collector. A nil logger uses slog.Default.
func New(fsys afero.Fs, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{fs: fsys, logger: logger}
}

// Collect scans one project directory.
func (c *Collector) Collect(projectPath string) (*Snapshot, error) {
	idx, err := schema.ReadIndex(c.fs, projectPath)
	if err != nil {
		return nil, &CollectionError{Path: projectPath, Err: err}
	}

	snap := &Snapshot{
		Path:    projectPath,
		Project: mapper.CanonicalizeLegacyFields(schema.KindProject, idx.Project),
		Items:   make(map[schema.Kind][]Item),
		Counts:  make(map[schema.Kind]Counts),
	}
	if id, ok := snap.Project.Int("creator_id"); ok {
		snap.CreatorID = id
	}

	expected := idx.ExpectedCounts()
	for _, kind := range schema.ChildKinds {
		items, counts := c.collectKind(projectPath, kind)
		counts.Expected = expected[kind]
		if counts.Drift() {
			c.logger.Debug("collected count differs from index",
				"project", projectPath, "kind", kind,
				"collected", counts.Collected, "expected", counts.Expected)
		}
		snap.Items[kind] = items
		snap.Counts[kind] = counts
	}

	return snap, nil
}

// CollectAll collects every project directory directly under root. Hidden
// directories are ignored. A project that fails to collect is reported in
// errs and does not stop the others.
func (c *Collector) CollectAll(root string) (snaps []*Snapshot, errs []error) {
	entries, err := afero.ReadDir(c.fs, root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("failed to read project root %s: %w", root, err)}
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		snap, err := c.Collect(filepath.Join(root, entry.Name()))
		if err != nil {
			c.logger.Warn("skipping project", "path", entry.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, errs
}

type candidate struct {
	path  string
	match schema.FileMatch
}

func (c *Collector) collectKind(projectPath string, kind schema.Kind) ([]Item, Counts) {
	var counts Counts
	candidates := c.candidates(projectPath, kind)

	var items []Item
	byID := make(map[int64]int)
	byCode := make(map[string]int)

	for _, cand := range candidates {
		rec, err := schema.ReadRecordFile(c.fs, cand.path)
		if err != nil {
			c.logger.Warn("skipping unreadable item file", "kind", kind, "path", cand.path, "error", err)
			counts.Skipped++
			continue
		}

		id, ok := rec.LocalID()
		if !ok || id <= 0 {
			switch {
			case cand.match.LocalID > 0:
				id = cand.match.LocalID
			case schema.Info(kind).SingleFile != "":
				id = 1
			default:
				c.logger.Warn("skipping item file without id", "kind", kind, "path", cand.path)
				counts.Skipped++
				continue
			}
			rec["id"] = id
		}
		rec = mapper.CanonicalizeLegacyFields(kind, rec)
		code := rec.Code()

		pos, dup := byID[id]
		if !dup && code != "" {
			pos, dup = byCode[code]
		}
		if dup {
			merge(items[pos].Record, rec)
			items[pos].Paths = append(items[pos].Paths, cand.path)
			counts.Merged++
			c.logger.Warn("merged duplicate item file",
				"kind", kind, "id", id, "code", code,
				"kept", items[pos].Path, "duplicate", cand.path)
			if mergedCode := items[pos].Record.Code(); mergedCode != "" {
				byCode[mergedCode] = pos
			}
			continue
		}

		items = append(items, Item{Kind: kind, Record: rec, Path: cand.path, Paths: []string{cand.path}})
		byID[id] = len(items) - 1
		if code != "" {
			byCode[code] = len(items) - 1
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].LocalID() < items[j].LocalID()
	})
	counts.Collected = len(items)
	return items, counts
}

// candidates lists the files of kind in scan order: canonical names first,
// then legacy names, each group sorted by name. The first file seen for an
// entity is authoritative.
func (c *Collector) candidates(projectPath string, kind schema.Kind) []candidate {
	info := schema.Info(kind)
	if info.SingleFile != "" {
		path := filepath.Join(projectPath, info.SingleFile)
		if ok, _ := afero.Exists(c.fs, path); !ok {
			return nil
		}
		return []candidate{{path: path, match: schema.FileMatch{Canonical: true}}}
	}

	dir := filepath.Join(projectPath, info.Dir)
	entries, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to list item directory", "kind", kind, "path", dir, "error", err)
		}
		return nil
	}

	var out []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match, ok := schema.MatchItemFile(kind, entry.Name())
		if !ok {
			if strings.HasSuffix(entry.Name(), ".json") {
				c.logger.Debug("ignoring file with unknown name", "kind", kind, "file", entry.Name())
			}
			continue
		}
		out = append(out, candidate{path: filepath.Join(dir, entry.Name()), match: match})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].match.Canonical != out[j].match.Canonical {
			return out[i].match.Canonical
		}
		return out[i].path < out[j].path
	})
	return out
}

// merge fills fields missing from dst with values from src.
func merge(dst, src schema.Record) {
	for k, v := range src {
		if !dst.Has(k) && v != nil {
			dst[k] = v
		}
	}
}
