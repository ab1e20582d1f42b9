package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/marmos91/filedrop/pkg/store"
)

// fsUpload is a staged upload backed by a hidden file in the store directory.
type fsUpload struct {
	mu        sync.Mutex
	file      *os.File
	tmpPath   string
	finalPath string
	name      string
	size      int64
	closed    bool
}

func (u *fsUpload) Name() string {
	return u.name
}

func (u *fsUpload) Size() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.size
}

func (u *fsUpload) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return 0, store.ErrUploadClosed
	}

	n, err := u.file.Write(p)
	u.size += int64(n)
	return n, err
}

// Commit flushes the staging file and links it under the final name. A hard
// link fails with EEXIST instead of replacing the target, which makes the
// publish step itself no-overwrite. Filesystems without link support fall
// back to a stat-then-rename.
func (u *fsUpload) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return store.ErrUploadClosed
	}
	u.closed = true

	if err := ctx.Err(); err != nil {
		u.cleanup()
		return err
	}

	if err := u.file.Sync(); err != nil {
		u.cleanup()
		return fmt.Errorf("failed to sync staged upload: %w", err)
	}
	if err := u.file.Close(); err != nil {
		_ = os.Remove(u.tmpPath)
		return fmt.Errorf("failed to close staged upload: %w", err)
	}

	err := os.Link(u.tmpPath, u.finalPath)
	switch {
	case err == nil:
		_ = os.Remove(u.tmpPath)
		return nil
	case errors.Is(err, fs.ErrExist):
		_ = os.Remove(u.tmpPath)
		return fmt.Errorf("file %s: %w", u.name, store.ErrAlreadyExists)
	}

	if _, statErr := os.Lstat(u.finalPath); statErr == nil {
		_ = os.Remove(u.tmpPath)
		return fmt.Errorf("file %s: %w", u.name, store.ErrAlreadyExists)
	}
	if err := os.Rename(u.tmpPath, u.finalPath); err != nil {
		_ = os.Remove(u.tmpPath)
		return fmt.Errorf("failed to publish %s: %w", u.name, err)
	}
	return nil
}

func (u *fsUpload) Discard(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}
	u.closed = true
	return u.cleanup()
}

// cleanup closes and removes the staging file. Caller holds u.mu.
func (u *fsUpload) cleanup() error {
	_ = u.file.Close()
	if err := os.Remove(u.tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove staged upload: %w", err)
	}
	return nil
}
