package orchestrator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/loomnotes/loom/internal/reconcile"
)

// HistoryFilename is the JSONL file of past cycles, under the state
// directory.
const HistoryFilename = "history.jsonl"

// HistoryEntry is the persisted summary of one cycle.
type HistoryEntry struct {
	RunID     string           `json:"run_id,omitempty"`
	Trigger   Trigger          `json:"trigger"`
	Status    Status           `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Totals    reconcile.Counts `json:"totals"`
	Failures  int              `json:"failures,omitempty"`
	Conflicts int              `json:"conflicts,omitempty"`
	Written   int              `json:"written,omitempty"`
	Err       string           `json:"error,omitempty"`
}

func entryFor(o Outcome) HistoryEntry {
	e := HistoryEntry{
		RunID:     o.RunID,
		Trigger:   o.Trigger,
		Status:    o.Status,
		StartedAt: o.StartedAt,
		Duration:  o.Duration,
		Err:       o.Err,
	}
	if o.Report != nil {
		e.Totals = o.Report.Totals()
		e.Failures = len(o.Report.Failures)
		e.Conflicts = len(o.Report.Conflicts)
	}
	if o.Pull != nil {
		e.Written = o.Pull.FilesWritten
	}
	return e
}

// History manages the cycle history file, so status survives the process
// that ran the cycle.
type History struct {
	fs   afero.Fs
	path string
}

// NewHistory creates a history stored in stateDir.
func NewHistory(fsys afero.Fs, stateDir string) *History {
	return &History{fs: fsys, path: filepath.Join(stateDir, HistoryFilename)}
}

// Path returns the history file path.
func (h *History) Path() string {
	return h.path
}

// Load reads all entries, oldest first. Malformed lines are skipped.
func (h *History) Load() ([]HistoryEntry, error) {
	file, err := h.fs.Open(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	defer file.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry HistoryEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Last returns the most recent entry.
func (h *History) Last() (HistoryEntry, bool, error) {
	entries, err := h.Load()
	if err != nil || len(entries) == 0 {
		return HistoryEntry{}, false, err
	}
	return entries[len(entries)-1], true, nil
}

// Append adds one entry.
func (h *History) Append(entry HistoryEntry) error {
	if err := h.fs.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	file, err := h.fs.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	_, err = file.Write(append(data, '\n'))
	return err
}

// Compact rewrites the file keeping the newest keep entries.
func (h *History) Compact(keep int) error {
	entries, err := h.Load()
	if err != nil {
		return err
	}
	if len(entries) <= keep {
		return nil
	}
	entries = entries[len(entries)-keep:]

	var buf bytes.Buffer
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	tmpPath := h.path + ".tmp"
	if err := afero.WriteFile(h.fs, tmpPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := h.fs.Rename(tmpPath, h.path); err != nil {
		_ = h.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
