// Package fs implements the filesystem-backed file store.
//
// Committed files live directly in the base directory under their own names.
// In-flight uploads are written to hidden ".pending-<uuid>" files in the same
// directory and published with a hard link (falling back to rename), so a
// file appears in a directory listing only once it is complete.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/marmos91/filedrop/internal/logger"
	"github.com/marmos91/filedrop/pkg/store"
)

// pendingPrefix marks staging files. ValidateName rejects dot-prefixed names,
// so a client can never upload a file that collides with a staging file.
const pendingPrefix = ".pending-"

// FSStoreConfig configures a filesystem store.
type FSStoreConfig struct {
	// Path is the store directory. Created with 0755 if missing.
	Path string

	// Extension is the suffix listed files must carry (e.g. ".txt").
	Extension string
}

// FSStore implements store.Store on a local directory.
//
// Thread Safety:
// All methods are safe for concurrent use. Commit never overwrites an
// existing file, but the existence check and the create are not atomic with
// each other; callers serialize them (see pkg/coordinator).
type FSStore struct {
	basePath  string
	extension string
}

// NewFSStore creates the store directory if needed and removes staging files
// left behind by a previous run.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Store configuration
//
// Returns:
//   - *FSStore: Ready store
//   - error: Directory creation or sweep failure, or context cancellation
func NewFSStore(ctx context.Context, cfg FSStoreConfig) (*FSStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem store: path is required")
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FSStore{
		basePath:  cfg.Path,
		extension: cfg.Extension,
	}

	removed, err := s.SweepPending(ctx)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		logger.Info("Removed %d stale staged upload(s) from %s", removed, cfg.Path)
	}

	return s, nil
}

// Path returns the store directory.
func (s *FSStore) Path() string {
	return s.basePath
}

// Extension implements store.Store.
func (s *FSStore) Extension() string {
	return s.extension
}

func (s *FSStore) filePath(name string) string {
	return filepath.Join(s.basePath, name)
}

// Exists implements store.Store.
func (s *FSStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := store.ValidateName(name); err != nil {
		return false, fmt.Errorf("file %q: %w", name, err)
	}

	_, err := os.Lstat(s.filePath(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", name, err)
}

// List implements store.Store.
//
// Directories, symlinks and other non-regular entries are skipped, as are
// staging files and names without the store extension. os.ReadDir returns
// entries sorted by name, which gives a stable order.
func (s *FSStore) List(ctx context.Context) ([]store.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	files := make([]store.FileInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(name, pendingPrefix) || !store.HasExtension(name, s.extension) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info; a listing is only a snapshot.
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}

		files = append(files, store.FileInfo{Name: name, Size: info.Size()})
	}

	return files, nil
}

// Open implements store.Store.
func (s *FSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := store.ValidateName(name); err != nil {
		return nil, fmt.Errorf("file %q: %w", name, err)
	}

	f, err := os.Open(s.filePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// Stage implements store.Store.
func (s *FSStore) Stage(ctx context.Context, name string) (store.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := store.ValidateName(name); err != nil {
		return nil, fmt.Errorf("file %q: %w", name, err)
	}

	tmpPath := s.filePath(pendingPrefix + uuid.NewString())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	return &fsUpload{
		file:      f,
		tmpPath:   tmpPath,
		finalPath: s.filePath(name),
		name:      name,
	}, nil
}

// SweepPending deletes staging files. Only safe while no upload is in flight,
// which NewFSStore guarantees by running it before the store is shared.
func (s *FSStore) SweepPending(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read store directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !strings.HasPrefix(entry.Name(), pendingPrefix) {
			continue
		}
		if err := os.Remove(s.filePath(entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove stale staging file %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Close implements store.Store. The filesystem store holds no resources.
func (s *FSStore) Close() error {
	return nil
}
