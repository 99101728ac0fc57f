package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// ItemFilename returns the canonical filename for an item: <stem>_<id>.json,
// or the fixed name for single-file kinds.
func ItemFilename(k Kind, localID int64) string {
	info := kinds[k]
	if info.SingleFile != "" {
		return info.SingleFile
	}
	return fmt.Sprintf("%s_%d.json", info.FileStem, localID)
}

// ItemPath returns the canonical path of an item inside projectPath.
func ItemPath(projectPath string, k Kind, localID int64) string {
	return filepath.Join(projectPath, kinds[k].Dir, ItemFilename(k, localID))
}

// FileMatch describes how a filename relates to a kind's naming convention.
type FileMatch struct {
	// LocalID is the id encoded in the filename, 0 when the name carries none.
	LocalID int64
	// Canonical is set for <stem>_<id>.json names.
	Canonical bool
}

var numericName = regexp.MustCompile(`^(\d+)\.json$`)

// MatchItemFile reports whether name follows k's file-naming convention.
//
// Accepted forms, for a chapter:
//
//	chapter_3.json        canonical
//	chapter-3.json        legacy
//	chapter3.json         legacy
//	CHP-0002-000003.json  legacy, named after the public code
//	3.json                legacy
func MatchItemFile(k Kind, name string) (FileMatch, bool) {
	info := kinds[k]
	if info.SingleFile != "" {
		if name == info.SingleFile {
			return FileMatch{Canonical: true}, true
		}
		return FileMatch{}, false
	}
	if !strings.HasSuffix(name, ".json") || info.FileStem == "" {
		return FileMatch{}, false
	}

	stem := regexp.QuoteMeta(info.FileStem)
	canonical := regexp.MustCompile(`^` + stem + `_(\d+)\.json$`)
	if m := canonical.FindStringSubmatch(name); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		return FileMatch{LocalID: id, Canonical: true}, true
	}

	legacy := regexp.MustCompile(`^(?i:` + stem + `)-?(\d+)\.json$`)
	if m := legacy.FindStringSubmatch(name); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		return FileMatch{LocalID: id}, true
	}

	if code, err := ParseCode(strings.TrimSuffix(name, ".json")); err == nil && code.Kind == k {
		return FileMatch{LocalID: code.LocalID}, true
	}

	if m := numericName.FindStringSubmatch(name); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		return FileMatch{LocalID: id}, true
	}

	return FileMatch{}, false
}

// ReadRecordFile reads and parses an item file. Numbers are kept as
// json.Number so ids survive a read/write cycle untouched.
func ReadRecordFile(fs afero.Fs, path string) (Record, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read item file %s: %w", path, err)
	}
	return DecodeRecord(data)
}

// DecodeRecord parses a JSON object into a Record.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to parse item: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("failed to parse item: not a JSON object")
	}
	return rec, nil
}

// WriteRecordFile writes rec to path as indented JSON, atomically via a
// temp file and rename.
func WriteRecordFile(fs afero.Fs, path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal item %s: %w", path, err)
	}
	return writeFileAtomic(fs, path, data)
}

func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
