// Package memory implements an in-memory file store, used for tests and for
// ephemeral servers whose uploads need not survive a restart.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/filedrop/pkg/store"
)

// MemoryStore implements store.Store with a map guarded by a RWMutex.
type MemoryStore struct {
	mu        sync.RWMutex
	files     map[string][]byte
	extension string
}

// NewMemoryStore creates an empty store listing files that end in extension.
func NewMemoryStore(extension string) *MemoryStore {
	return &MemoryStore{
		files:     make(map[string][]byte),
		extension: extension,
	}
}

func (s *MemoryStore) Extension() string {
	return s.extension
}

func (s *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.files[name]
	return ok, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]store.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	files := make([]store.FileInfo, 0, len(s.files))
	for name, data := range s.files {
		if store.HasExtension(name, s.extension) {
			files = append(files, store.FileInfo{Name: name, Size: int64(len(data))})
		}
	}
	s.mu.RUnlock()

	store.SortByName(files)
	return files, nil
}

func (s *MemoryStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", name, store.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Stage(ctx context.Context, name string) (store.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateName(name); err != nil {
		return nil, fmt.Errorf("file %q: %w", name, err)
	}
	return &memoryUpload{store: s, name: name}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// publish inserts data under name unless the name is taken.
func (s *MemoryStore) publish(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[name]; ok {
		return fmt.Errorf("file %s: %w", name, store.ErrAlreadyExists)
	}
	s.files[name] = data
	return nil
}

type memoryUpload struct {
	mu     sync.Mutex
	store  *MemoryStore
	name   string
	buf    bytes.Buffer
	closed bool
}

func (u *memoryUpload) Name() string {
	return u.name
}

func (u *memoryUpload) Size() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return int64(u.buf.Len())
}

func (u *memoryUpload) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return 0, store.ErrUploadClosed
	}
	return u.buf.Write(p)
}

func (u *memoryUpload) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return store.ErrUploadClosed
	}
	u.closed = true

	if err := ctx.Err(); err != nil {
		return err
	}

	data := bytes.Clone(u.buf.Bytes())
	u.buf.Reset()
	return u.store.publish(u.name, data)
}

func (u *memoryUpload) Discard(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.closed = true
	u.buf.Reset()
	return nil
}
