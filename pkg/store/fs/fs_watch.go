package fs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/filedrop/internal/logger"
	"github.com/marmos91/filedrop/pkg/store"
)

// Change is a filesystem event on a listable file in the store directory.
type Change struct {
	Name string
	Op   string
}

// Watch reports create, write, remove and rename events on listable files in
// the store directory until ctx is cancelled. Staging files are ignored, so a
// Put shows up as a single create when it commits.
//
// Watch is informational: the store never relies on it for correctness.
func (s *FSStore) Watch(ctx context.Context, onChange func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create store watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.basePath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.basePath, err)
	}

	logger.Debug("Watching store directory %s", s.basePath)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, pendingPrefix) || !store.HasExtension(name, s.extension) {
				continue
			}
			if op := changeOp(event.Op); op != "" {
				onChange(Change{Name: name, Op: op})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Store watcher error: %v", err)
		}
	}
}

func changeOp(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
