// Package coordinator serializes every mutation of the shared file store and
// every append to the request log behind one mutex.
//
// A Put is split into three steps so that the lock is never held while
// reading from the network:
//
//	r, err := c.Reserve(ctx, name)   // lock: existence check, stage upload
//	io.Copy(r, conn)                 // no lock
//	r.Commit(ctx, record)            // lock: publish, append log record
//
// A reservation claims its name until it is committed or aborted. A second
// Reserve of the same name waits for the first claim to end and then
// re-checks the store, so it fails only if the first upload was committed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/filedrop/internal/logger"
	"github.com/marmos91/filedrop/pkg/metrics"
	"github.com/marmos91/filedrop/pkg/requestlog"
	"github.com/marmos91/filedrop/pkg/store"
)

var (
	// ErrAlreadyExists is returned by Reserve when a file with the name has
	// been committed.
	ErrAlreadyExists = store.ErrAlreadyExists

	// ErrReservationDone is returned by Write and Commit after the
	// reservation has been committed or aborted.
	ErrReservationDone = errors.New("reservation already committed or aborted")
)

// Coordinator owns the lock guarding the store and the request log.
//
// Thread Safety:
// All methods are safe for concurrent use. Store reads that need no
// consistency with writes (List) go to the store directly.
type Coordinator struct {
	mu sync.Mutex
	// released is signalled whenever a reservation ends.
	released *sync.Cond
	store    store.Store
	log     requestlog.Sink
	pending map[string]struct{}
	metrics metrics.ExchangeMetrics
}

// New creates a coordinator over s and log. m may be nil.
func New(s store.Store, log requestlog.Sink, m metrics.ExchangeMetrics) *Coordinator {
	if m == nil {
		m = metrics.NewNoopExchangeMetrics()
	}
	c := &Coordinator{
		store:   s,
		log:     log,
		pending: make(map[string]struct{}),
		metrics: m,
	}
	c.released = sync.NewCond(&c.mu)
	return c
}

// Store returns the underlying store, for lock-free reads.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Record appends r to the request log under the lock. Append failures are
// logged and counted, never returned: a broken log must not fail requests.
func (c *Coordinator) Record(ctx context.Context, r requestlog.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.appendLocked(ctx, r)
}

// appendLocked writes r to the log. Caller holds c.mu.
func (c *Coordinator) appendLocked(ctx context.Context, r requestlog.Record) {
	if err := c.log.Append(ctx, r); err != nil {
		c.metrics.RecordLogAppendFailure()
		logger.Error("Failed to append request log record %q: %v", requestlog.FormatRecord(r), err)
	}
}

// Reserve claims name for an upload and stages the upload object.
//
// If another reservation holds name, Reserve waits (without holding the
// lock) until it is committed or aborted, or until ctx is done.
//
// Returns:
//   - *Reservation: Claim to stream into, then Commit or Abort
//   - error: ErrAlreadyExists if the name is taken; ctx.Err() if ctx ended
//     while waiting; store errors (including store.ErrInvalidName) otherwise
func (c *Coordinator) Reserve(ctx context.Context, name string) (*Reservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.waitReleasedLocked(ctx, name); err != nil {
		return nil, err
	}

	exists, err := c.store.Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", name, err)
	}
	if exists {
		return nil, fmt.Errorf("file %s: %w", name, ErrAlreadyExists)
	}

	upload, err := c.store.Stage(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", name, err)
	}

	c.pending[name] = struct{}{}
	logger.Debug("Reserved %s", name)

	return &Reservation{coord: c, upload: upload, name: name}, nil
}

// waitReleasedLocked blocks until no reservation holds name. Caller holds
// c.mu; the lock is released while waiting.
func (c *Coordinator) waitReleasedLocked(ctx context.Context, name string) error {
	if _, reserved := c.pending[name]; !reserved {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.released.Broadcast()
	})
	defer stop()

	logger.Debug("Waiting for in-flight upload of %s", name)
	for {
		if _, reserved := c.pending[name]; !reserved {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for upload of %s: %w", name, err)
		}
		c.released.Wait()
	}
}

// Pending reports how many reservations are outstanding.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Reservation is an outstanding claim on a filename.
//
// Write is called by the owning connection only; Commit and Abort may be
// called in any order and any number of times, and only the first one takes
// effect.
type Reservation struct {
	coord  *Coordinator
	upload store.Upload
	name   string

	// done is guarded by coord.mu.
	done bool
}

// Name returns the reserved filename.
func (r *Reservation) Name() string {
	return r.name
}

// Size returns the number of bytes written so far.
func (r *Reservation) Size() int64 {
	return r.upload.Size()
}

// Write appends to the staged upload. It does not take the coordinator lock.
func (r *Reservation) Write(p []byte) (int, error) {
	n, err := r.upload.Write(p)
	if errors.Is(err, store.ErrUploadClosed) {
		return n, ErrReservationDone
	}
	return n, err
}

// Commit publishes the upload and appends rec to the request log, both under
// the lock. On failure the staged upload is discarded and nothing is logged.
func (r *Reservation) Commit(ctx context.Context, rec requestlog.Record) error {
	c := r.coord
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.done {
		return ErrReservationDone
	}
	r.done = true
	delete(c.pending, r.name)
	c.released.Broadcast()

	size := r.upload.Size()
	if err := r.upload.Commit(ctx); err != nil {
		if discardErr := r.upload.Discard(ctx); discardErr != nil {
			logger.Warn("Failed to discard upload of %s after commit error: %v", r.name, discardErr)
		}
		return fmt.Errorf("failed to commit %s: %w", r.name, err)
	}

	c.appendLocked(ctx, rec)
	logger.Debug("Committed %s (%d bytes)", r.name, size)
	return nil
}

// Abort discards the staged upload and releases the name. Abort after Commit
// or a previous Abort is a no-op.
func (r *Reservation) Abort(ctx context.Context) error {
	c := r.coord
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.done {
		return nil
	}
	r.done = true
	delete(c.pending, r.name)
	c.released.Broadcast()

	if err := r.upload.Discard(ctx); err != nil {
		return fmt.Errorf("failed to discard upload of %s: %w", r.name, err)
	}
	logger.Debug("Aborted upload of %s", r.name)
	return nil
}
