package store

import "errors"

// Standard store errors. Backends wrap them with context:
//
//	return fmt.Errorf("file %s: %w", name, store.ErrAlreadyExists)
//
// and callers match them with errors.Is.
var (
	// ErrNotFound indicates the requested file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrAlreadyExists indicates a committed file with the same name exists.
	// Files are never overwritten; Commit returns this instead.
	ErrAlreadyExists = errors.New("file already exists")

	// ErrInvalidName indicates a name that is not a plain, visible base name
	// (it contains a path separator, is "." or "..", or starts with a dot).
	ErrInvalidName = errors.New("invalid file name")

	// ErrUploadClosed indicates a write, commit or discard on an upload that
	// was already committed or discarded.
	ErrUploadClosed = errors.New("upload already closed")
)
