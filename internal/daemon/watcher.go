package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/loomnotes/loom/internal/schema"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change to a project file.
type FileEvent struct {
	// Path is the file that changed.
	Path string
	// Project is the project directory the file belongs to.
	Project string
	// Kind is the entity kind stored in the file. Index files report
	// KindProject.
	Kind schema.Kind
	Op   EventOp
}

// FileWatcher watches a project root, every project directory under it and
// every kind subdirectory of those projects. Directories created while it
// runs are watched as they appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching root.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve project root %s: %w", root, err)
	}
	fw.root = abs

	if err := fw.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch project root %s: %w", abs, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Errorf("failed to read project root %s: %w", abs, err)
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			fw.addProject(filepath.Join(abs, entry.Name()))
		}
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// addProject watches a project directory and its kind subdirectories.
// Missing subdirectories are skipped; they are picked up when created.
func (fw *FileWatcher) addProject(dir string) {
	if err := fw.watcher.Add(dir); err != nil {
		return
	}
	for _, kind := range schema.ChildKinds {
		if sub := schema.Info(kind).Dir; sub != "" {
			_ = fw.watcher.Add(filepath.Join(dir, sub))
		}
	}
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	// Closing the watcher unblocks the event loop.
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				fw.watchNewDir(event.Name)
			}

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// watchNewDir adds watches for a directory created under the root: a new
// project, or a new kind subdirectory of a project.
func (fw *FileWatcher) watchNewDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	switch filepath.Dir(path) {
	case fw.root:
		fw.addProject(path)
	default:
		if filepath.Dir(filepath.Dir(path)) == fw.root {
			_ = fw.watcher.Add(path)
		}
	}
}

// convertEvent converts an fsnotify event to a FileEvent.
// Returns false if the event should be ignored.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	// Temp files end in .json.tmp and are skipped here; their rename onto
	// the real name arrives as a create.
	if !strings.HasSuffix(event.Name, ".json") {
		return FileEvent{}, false
	}

	project, kind, ok := fw.classify(event.Name)
	if !ok {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// The new name triggers a create.
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: event.Name, Project: project, Kind: kind, Op: op}, true
}

// classify finds the project and kind of a file path inside the root.
func (fw *FileWatcher) classify(path string) (project string, kind schema.Kind, ok bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", false
	}
	dir, name := filepath.Split(abs)
	dir = filepath.Clean(dir)

	if filepath.Dir(dir) == fw.root {
		switch name {
		case schema.IndexFilename:
			return dir, schema.KindProject, true
		case schema.Info(schema.KindTimeline).SingleFile:
			return dir, schema.KindTimeline, true
		}
		return "", "", false
	}

	project = filepath.Dir(dir)
	if filepath.Dir(project) != fw.root {
		return "", "", false
	}
	for _, k := range schema.ChildKinds {
		if info := schema.Info(k); info.Dir != "" && info.Dir == filepath.Base(dir) {
			return project, k, true
		}
	}
	return "", "", false
}
