//go:build !unix

package lockfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Without flock the lock is the existence of the file. A crash leaves it
// behind and it must be removed by hand.
func tryLock(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to create lock file: %w", err)
	}
	return f, true, nil
}

func unlock(f *os.File, path string) error {
	_ = f.Close()
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
