// Package requestlog records every dispatched list and put request.
//
// A Record is rendered as one line, "yyyy-MM-dd|HH:mm:ss|<client-ip>|<kind>",
// and appended to a Sink. Sinks are truncated when opened, so a log only
// covers the current process. Callers serialize Append (see pkg/coordinator);
// sinks are nonetheless safe for concurrent use.
package requestlog

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind is the request kind recorded in the log.
type Kind string

const (
	KindList Kind = "list"
	KindPut  Kind = "put"
)

// timeLayout renders the date and time fields of a log line.
const timeLayout = "2006-01-02|15:04:05"

// Record is one request log entry.
type Record struct {
	Timestamp  time.Time
	ClientAddr string
	Kind       Kind
}

// NewRecord builds a record stamped with the current local time. addr is
// reduced to its host part.
func NewRecord(addr net.Addr, kind Kind) Record {
	return Record{
		Timestamp:  time.Now(),
		ClientAddr: ClientIP(addr),
		Kind:       kind,
	}
}

// FormatRecord renders r as a log line without the trailing newline.
func FormatRecord(r Record) string {
	return fmt.Sprintf("%s|%s|%s", r.Timestamp.Format(timeLayout), r.ClientAddr, r.Kind)
}

// ParseRecord is the inverse of FormatRecord. The timestamp is interpreted in
// the local time zone.
func ParseRecord(line string) (Record, error) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), "|")
	if len(parts) != 4 {
		return Record{}, fmt.Errorf("malformed log line %q", line)
	}

	ts, err := time.ParseInLocation(timeLayout, parts[0]+"|"+parts[1], time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("malformed log timestamp in %q: %w", line, err)
	}

	return Record{Timestamp: ts, ClientAddr: parts[2], Kind: Kind(parts[3])}, nil
}

// ClientIP returns the host part of a remote address, without the port.
func ClientIP(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Sink is an append-only destination for log records.
type Sink interface {
	// Append writes one record. A record is either written whole or not at all.
	Append(ctx context.Context, r Record) error

	// Close flushes and releases the sink.
	Close() error
}
