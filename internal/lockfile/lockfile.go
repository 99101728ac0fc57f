// Package lockfile provides a cross-process advisory lock so only one loom
// process syncs a project root at a time.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// DefaultName is the lock file created in the state directory.
const DefaultName = "sync.lock"

// ErrNotHeld is returned by Unlock when the lock is not held.
var ErrNotHeld = errors.New("lock not held")

// Lock is a file lock. It satisfies orchestrator.Locker.
type Lock struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// New returns an unlocked Lock on path. The file is created on first use.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// TryLock acquires the lock without blocking. It returns false when another
// process holds it.
func (l *Lock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f != nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, ok, err := tryLock(l.path)
	if err != nil || !ok {
		return false, err
	}

	// Holder pid, for humans inspecting a stuck lock.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	l.f = f
	return true, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return ErrNotHeld
	}
	err := unlock(l.f, l.path)
	l.f = nil
	return err
}
