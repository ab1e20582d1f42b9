package exchange

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/marmos91/filedrop/internal/logger"
	"github.com/marmos91/filedrop/internal/protocol"
	"github.com/marmos91/filedrop/pkg/coordinator"
	"github.com/marmos91/filedrop/pkg/requestlog"
	"github.com/marmos91/filedrop/pkg/store"
)

// drainTimeout bounds how long a rejected upload is drained when no
// ReadTimeout is configured.
const drainTimeout = 5 * time.Second

// errTooLarge is returned by receive when the upload exceeds MaxFileSize.
var errTooLarge = errors.New("upload exceeds size limit")

// Request outcomes, used as metric labels and in debug logs.
const (
	outcomeOK          = "ok"
	outcomeNotText     = "not_text"
	outcomeInvalidName = "invalid_name"
	outcomeExists      = "exists"
	outcomeTooLarge    = "too_large"
	outcomeFailed      = "failed"
	outcomeUnsupported = "unsupported"
)

// ExchangeConnection serves the single request carried by one connection.
type ExchangeConnection struct {
	server *ExchangeAdapter
	conn   net.Conn
	reader *bufio.Reader
	id     string
}

func NewExchangeConnection(server *ExchangeAdapter, conn net.Conn, id string) *ExchangeConnection {
	return &ExchangeConnection{
		server: server,
		conn:   conn,
		reader: bufio.NewReaderSize(conn, server.config.ChunkSize),
		id:     id,
	}
}

// Serve reads one request, dispatches it, writes the response and closes the
// connection. A panic in the handler is recovered and logged so it cannot
// take the server down.
func (c *ExchangeConnection) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in exchange connection %s from %s: %v", c.id, c.conn.RemoteAddr(), r)
		}
		_ = c.conn.Close()
	}()

	if err := c.setReadDeadline(); err != nil {
		logger.Debug("Failed to set read deadline for %s: %v", c.conn.RemoteAddr(), err)
		return
	}

	req, err := protocol.ReadRequest(c.reader)
	if err != nil {
		c.logReadError("reading request", err)
		if errors.Is(err, protocol.ErrLineTooLong) {
			_ = c.respond(protocol.ErrUnsupported)
		}
		return
	}

	logger.Debug("Exchange request on %s from %s: %q", c.id, c.conn.RemoteAddr(), req.Raw)

	start := time.Now()
	var outcome string
	switch req.Command {
	case protocol.CommandList:
		outcome = c.handleList(ctx)
	case protocol.CommandPut:
		var drain bool
		outcome, drain = c.handlePut(ctx, req.Argument)
		if drain {
			c.drain()
		}
	default:
		outcome = outcomeUnsupported
		_ = c.respond(protocol.ErrUnsupported)
	}

	c.server.metrics.RecordRequest(req.Command.String(), outcome, time.Since(start))
	logger.Debug("Exchange request on %s finished: command=%s outcome=%s duration=%v",
		c.id, req.Command, outcome, time.Since(start))
}

// handleList logs the request, then enumerates the store without holding the
// coordinator lock.
func (c *ExchangeConnection) handleList(ctx context.Context) string {
	c.server.coord.Record(ctx, requestlog.NewRecord(c.conn.RemoteAddr(), requestlog.KindList))

	outcome := outcomeOK
	files, err := c.server.coord.Store().List(ctx)
	if err != nil {
		logger.Error("Failed to list store for %s: %v", c.conn.RemoteAddr(), err)
		files = nil
		outcome = outcomeFailed
	}

	if err := c.respond(protocol.ListResponse(store.Names(files))...); err != nil {
		c.logWriteError(err)
	}
	return outcome
}

// handlePut runs the upload of name. It returns the outcome and whether the
// rest of the client's payload should be drained before closing.
//
// Every path logs exactly one put record: a committed upload logs inside the
// commit critical section, every other path after its response is written.
func (c *ExchangeConnection) handlePut(ctx context.Context, name string) (string, bool) {
	rec := requestlog.NewRecord(c.conn.RemoteAddr(), requestlog.KindPut)
	coord := c.server.coord

	// A bare extension passes here and fails ValidateName below.
	if !strings.HasSuffix(name, coord.Store().Extension()) {
		c.reject(ctx, rec, protocol.ErrOnlyText)
		return outcomeNotText, true
	}
	if err := store.ValidateName(name); err != nil {
		logger.Debug("Rejecting put of %q from %s: %v", name, c.conn.RemoteAddr(), err)
		c.reject(ctx, rec, protocol.ErrCannotSave)
		return outcomeInvalidName, true
	}

	reservation, err := coord.Reserve(ctx, name)
	if err != nil {
		if errors.Is(err, coordinator.ErrAlreadyExists) {
			c.reject(ctx, rec, protocol.AlreadyExists(name))
			return outcomeExists, true
		}
		logger.Error("Failed to reserve %s for %s: %v", name, c.conn.RemoteAddr(), err)
		c.reject(ctx, rec, protocol.ErrCannotSave)
		return outcomeFailed, true
	}
	defer func() {
		if err := reservation.Abort(ctx); err != nil {
			logger.Warn("Failed to abort upload of %s: %v", name, err)
		}
	}()

	received, err := c.receive(reservation)
	c.server.metrics.RecordBytesReceived(received)

	switch {
	case errors.Is(err, errTooLarge):
		c.abort(ctx, reservation)
		logger.Debug("Upload of %s from %s exceeds %d bytes", name, c.conn.RemoteAddr(), c.server.config.MaxFileSize)
		c.reject(ctx, rec, protocol.ErrTooLarge)
		return outcomeTooLarge, true

	case err != nil:
		c.abort(ctx, reservation)
		c.logReadError("receiving "+name, err)
		c.reject(ctx, rec, protocol.ErrCannotSave)
		return outcomeFailed, false
	}

	if err := reservation.Commit(ctx, rec); err != nil {
		logger.Error("Failed to commit %s from %s: %v", name, c.conn.RemoteAddr(), err)
		c.reject(ctx, rec, protocol.ErrCannotSave)
		return outcomeFailed, false
	}

	logger.Info("Uploaded %s (%d bytes) from %s", name, received, requestlog.ClientIP(c.conn.RemoteAddr()))
	if err := c.respond(protocol.Uploaded(name)); err != nil {
		c.logWriteError(err)
	}
	return outcomeOK, false
}

// receive streams the payload into r in ChunkSize reads until the client
// half-closes. The size check happens before each chunk is written, so a
// rejected upload never grows past the limit.
func (c *ExchangeConnection) receive(r *coordinator.Reservation) (int64, error) {
	limit := c.server.config.MaxFileSize
	buf := make([]byte, c.server.config.ChunkSize)
	var total int64

	for {
		if err := c.setReadDeadline(); err != nil {
			return total, err
		}

		n, err := c.reader.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return total, errTooLarge
			}
			if _, werr := r.Write(buf[:n]); werr != nil {
				return total, fmt.Errorf("failed to write upload: %w", werr)
			}
		}

		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// abort discards the staged upload now, so it is gone before the client sees
// the error line.
func (c *ExchangeConnection) abort(ctx context.Context, r *coordinator.Reservation) {
	if err := r.Abort(ctx); err != nil {
		logger.Warn("Failed to discard upload of %s: %v", r.Name(), err)
	}
}

// reject writes an error line and then logs the put record.
func (c *ExchangeConnection) reject(ctx context.Context, rec requestlog.Record, line string) {
	if err := c.respond(line); err != nil {
		c.logWriteError(err)
	}
	c.server.coord.Record(ctx, rec)
}

// drain reads and discards what the client is still sending, up to
// DrainLimit bytes, so closing the socket does not reset the connection
// before the client has read the response.
func (c *ExchangeConnection) drain() {
	limit := c.server.config.DrainLimit
	if limit < 0 {
		return
	}

	timeout := drainTimeout
	if rt := c.server.config.ReadTimeout; rt > 0 && rt < timeout {
		timeout = rt
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return
	}

	n, err := io.CopyN(io.Discard, c.reader, limit)
	if err != nil && err != io.EOF {
		logger.Debug("Stopped draining %s after %d bytes: %v", c.conn.RemoteAddr(), n, err)
	}
}

func (c *ExchangeConnection) respond(lines ...string) error {
	if wt := c.server.config.WriteTimeout; wt > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wt)); err != nil {
			return err
		}
	}
	return protocol.WriteLines(c.conn, lines...)
}

func (c *ExchangeConnection) setReadDeadline() error {
	if rt := c.server.config.ReadTimeout; rt > 0 {
		return c.conn.SetReadDeadline(time.Now().Add(rt))
	}
	return nil
}

func (c *ExchangeConnection) logReadError(what string, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Connection %s from %s closed by client while %s", c.id, c.conn.RemoteAddr(), what)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Connection %s from %s timed out while %s: %v", c.id, c.conn.RemoteAddr(), what, err)
	default:
		logger.Debug("Error on connection %s from %s while %s: %v", c.id, c.conn.RemoteAddr(), what, err)
	}
}

func (c *ExchangeConnection) logWriteError(err error) {
	logger.Debug("Failed to write response on connection %s to %s: %v", c.id, c.conn.RemoteAddr(), err)
}
