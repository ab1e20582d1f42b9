// Package store defines the flat file store that holds uploaded files.
//
// A store is a single namespace of files identified by name. Files are
// created only through a staged Upload: bytes are written to a hidden staging
// object, and Commit publishes the object under its final name in one step.
// Staged objects are never visible to List or Exists, so readers observe a
// file either completely or not at all.
//
// Stores do not serialize mutations themselves. Callers that need the
// check-then-create sequence to be atomic (see pkg/coordinator) provide their
// own mutual exclusion; Commit still refuses to overwrite an existing file.
package store

import (
	"context"
	"io"
	"sort"
	"strings"
)

// FileInfo describes a committed file.
type FileInfo struct {
	Name string
	Size int64
}

// Store is the interface implemented by every storage backend.
type Store interface {
	// Exists reports whether a committed file with this name exists.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns the committed files whose name ends with the store's
	// extension, sorted by name. Staged uploads are never included.
	List(ctx context.Context) ([]FileInfo, error)

	// Stage creates a hidden staging object for name. The name is validated
	// with ValidateName but not checked for existence.
	Stage(ctx context.Context, name string) (Upload, error)

	// Open returns a reader for a committed file. Returns ErrNotFound if the
	// file does not exist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Extension is the suffix every listed file carries (e.g. ".txt").
	Extension() string

	// Close releases backend resources.
	Close() error
}

// Upload is an in-progress staged file.
//
// Exactly one of Commit or Discard takes effect. Write or Commit on a closed
// upload returns ErrUploadClosed; Discard on a closed upload is a no-op.
type Upload interface {
	io.Writer

	// Name is the final name the upload will be published under.
	Name() string

	// Size is the number of bytes written so far.
	Size() int64

	// Commit publishes the staged bytes under Name. If a file with that name
	// already exists the staged object is discarded and ErrAlreadyExists is
	// returned.
	Commit(ctx context.Context) error

	// Discard deletes the staged object.
	Discard(ctx context.Context) error
}

// HasExtension reports whether name ends with ext and has a non-empty stem.
func HasExtension(name, ext string) bool {
	return len(name) > len(ext) && strings.HasSuffix(name, ext)
}

// ValidateName checks that name is a plain, visible base name.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case strings.HasPrefix(name, "."):
		return ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidName
	}
	return nil
}

// SortByName orders files by name in place.
func SortByName(files []FileInfo) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
}

// Names extracts the file names in order.
func Names(files []FileInfo) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}
