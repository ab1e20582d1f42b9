package requestlog

import (
	"context"
	"sync"
)

// MemorySink keeps records in memory. Used by tests and by servers that do
// not need a persistent log.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
	return nil
}

// Records returns a copy of the appended records in append order.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Lines returns the appended records rendered with FormatRecord.
func (s *MemorySink) Lines() []string {
	records := s.Records()
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = FormatRecord(r)
	}
	return lines
}

func (s *MemorySink) Close() error {
	return nil
}
