package requestlog

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// keyPrefix namespaces log entries: "log:" + 8-byte big-endian sequence.
var keyPrefix = []byte("log:")

// BadgerSinkConfig configures a BadgerSink.
type BadgerSinkConfig struct {
	// Path is the BadgerDB directory.
	Path string `mapstructure:"path"`
}

// BadgerSink stores log lines in BadgerDB keyed by an append sequence, so a
// prefix scan returns them in append order.
//
// The database is emptied on open to keep the same per-process lifetime as
// the file sink.
type BadgerSink struct {
	mu  sync.Mutex
	db  *badger.DB
	seq uint64
}

// NewBadgerSink opens (creating if needed) the database at cfg.Path and drops
// any records from a previous run.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Sink configuration
//
// Returns:
//   - *BadgerSink: Ready sink
//   - error: Open or truncate failure, or context cancellation
func NewBadgerSink(ctx context.Context, cfg BadgerSinkConfig) (*BadgerSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("badger request log: path is required")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	if err := db.DropPrefix(keyPrefix); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to truncate request log: %w", err)
	}

	return &BadgerSink{db: db}, nil
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

// Append stores the record under the next sequence number.
func (s *BadgerSink) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("badger request log is closed")
	}

	key := recordKey(s.seq)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(FormatRecord(r)))
	})
	if err != nil {
		return fmt.Errorf("failed to append log record: %w", err)
	}

	s.seq++
	return nil
}

// Lines returns all stored log lines in append order.
func (s *BadgerSink) Lines(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("badger request log is closed")
	}

	var lines []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			lines = append(lines, string(value))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read request log: %w", err)
	}
	return lines, nil
}

// Records returns all stored records in append order.
func (s *BadgerSink) Records(ctx context.Context) ([]Record, error) {
	lines, err := s.Lines(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		r, err := ParseRecord(line)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *BadgerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
