package requestlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSinkConfig configures a FileSink.
type FileSinkConfig struct {
	// Path of the log file. Parent directories are created if missing.
	Path string `mapstructure:"path"`

	// Sync calls fsync after every append.
	Sync bool `mapstructure:"sync"`
}

// FileSink appends records to a plain text file, one line per record.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	sync bool
}

// NewFileSink creates or truncates the log file at cfg.Path.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("request log: path is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create request log directory: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open request log %s: %w", cfg.Path, err)
	}

	return &FileSink{file: f, sync: cfg.Sync}, nil
}

// Append writes the record as a single newline-terminated write.
func (s *FileSink) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line := FormatRecord(r) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return os.ErrClosed
	}
	if _, err := s.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to append log record: %w", err)
	}
	if s.sync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync request log: %w", err)
		}
	}
	return nil
}

// Close closes the log file. Further appends return os.ErrClosed.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
