package sync

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/loomnotes/loom/internal/collect"
	"github.com/loomnotes/loom/internal/schema"
)

// FileCodeWriter writes public codes assigned during a cycle into the item
// files and the project index.
type FileCodeWriter struct {
	fs afero.Fs
}

// NewFileCodeWriter returns a FileCodeWriter on fsys.
func NewFileCodeWriter(fsys afero.Fs) *FileCodeWriter {
	return &FileCodeWriter{fs: fsys}
}

// PersistCode implements reconcile.CodeWriter.
//
// A project's code goes into its index. An item's code goes into every file
// merged into it and into its index entry, if that entry has none yet.
func (w *FileCodeWriter) PersistCode(projectPath string, item collect.Item, code string) error {
	idx, err := schema.ReadIndex(w.fs, projectPath)
	if err != nil {
		return err
	}

	if item.Kind == schema.KindProject {
		idx.Project["code"] = code
		return schema.WriteIndex(w.fs, projectPath, idx)
	}

	paths := item.Paths
	if len(paths) == 0 {
		paths = []string{item.Path}
	}
	for _, path := range paths {
		rec, err := schema.ReadRecordFile(w.fs, path)
		if err != nil {
			return err
		}
		if rec.Code() != "" {
			continue
		}
		rec["code"] = code
		if err := schema.WriteRecordFile(w.fs, path, rec); err != nil {
			return fmt.Errorf("failed to persist code for %s: %w", path, err)
		}
	}

	indexType := schema.Info(item.Kind).IndexType
	for i := range idx.Entries {
		entry := &idx.Entries[i]
		if entry.Type == indexType && entry.ID == item.LocalID() && entry.Code == "" {
			entry.Code = code
			return schema.WriteIndex(w.fs, projectPath, idx)
		}
	}
	return nil
}
