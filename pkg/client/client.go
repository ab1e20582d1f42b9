// Package client implements the client side of the file exchange protocol.
//
// Each call opens one connection, sends one request and reads the response:
//
//	c := client.New(client.Config{Host: "localhost", Port: 9487})
//	listing, err := c.List(ctx)
//	reply, err := c.Put(ctx, "notes.txt")
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/filedrop/internal/logger"
	"github.com/marmos91/filedrop/internal/protocol"
)

var (
	// ErrCannotOpen is returned by Put when the local file is missing or
	// unreadable. Nothing is sent to the server.
	ErrCannotOpen = errors.New("cannot open local file")

	// ErrFileTooLarge is returned by Put when the local file exceeds
	// MaxFileSize. Nothing is sent to the server.
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrNoResponse is returned when the server closes the connection
	// without answering.
	ErrNoResponse = errors.New("server closed connection without a response")
)

// ServerError is an "Error: ..." line sent by the server.
type ServerError struct {
	Line string
}

func (e *ServerError) Error() string {
	return e.Line
}

// Config configures a Client.
type Config struct {
	// Host is the server host name or address. Default: localhost
	Host string

	// Port is the server port. Default: 9487
	Port int

	// DialTimeout bounds connection setup. Default: 10s
	DialTimeout time.Duration

	// MaxFileSize is the pre-flight size check applied by Put. Default: 65536
	MaxFileSize int64

	// ChunkSize is the buffer size used to stream an upload. Default: 4096
	ChunkSize int
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9487
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 65536
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 4096
	}
}

// Client talks to one filedrop server. Safe for concurrent use; every call
// uses its own connection.
type Client struct {
	config Config
	dialer net.Dialer
}

// New creates a client. Zero config fields get defaults.
func New(config Config) *Client {
	config.applyDefaults()
	return &Client{
		config: config,
		dialer: net.Dialer{Timeout: config.DialTimeout},
	}
}

// Addr returns the server address the client dials.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// Listing is the server's answer to list.
type Listing struct {
	// Lines are the response lines before END, as the server sent them.
	Lines []string

	// Files are the listed file names, empty when the store has none.
	Files []string
}

// List asks the server for its files and reads the response up to END.
func (c *Client) List(ctx context.Context) (*Listing, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, protocol.EncodeList()); err != nil {
		return nil, fmt.Errorf("failed to send list request: %w", err)
	}

	reader := bufio.NewReader(conn)
	listing := &Listing{}
	for {
		line, err := readLine(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// The listing was cut short; return what arrived.
				if len(listing.Lines) == 0 {
					return nil, ErrNoResponse
				}
				return listing, nil
			}
			return nil, fmt.Errorf("failed to read list response: %w", err)
		}
		if line == protocol.EndOfListing {
			break
		}
		listing.Lines = append(listing.Lines, line)
	}

	if len(listing.Lines) > 0 && protocol.IsError(listing.Lines[0]) {
		return nil, &ServerError{Line: listing.Lines[0]}
	}
	if len(listing.Lines) > 1 && strings.HasPrefix(listing.Lines[0], "Listing ") {
		listing.Files = listing.Lines[1:]
	}
	return listing, nil
}

// Put uploads the file at path under its base name and returns the
// server's confirmation line.
//
// The local file is checked before connecting: a missing or unreadable file
// yields ErrCannotOpen and one larger than MaxFileSize yields
// ErrFileTooLarge. A rejection by the server is returned as *ServerError.
func (c *Client) Put(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w '%s'", ErrCannotOpen, path)
	}
	if info.Size() > c.config.MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, info.Size(), c.config.MaxFileSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w '%s'", ErrCannotOpen, path)
	}
	defer file.Close()

	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	name := filepath.Base(path)
	if _, err := io.WriteString(conn, protocol.EncodePut(name)); err != nil {
		return "", fmt.Errorf("failed to send put request: %w", err)
	}

	// The server may reject the upload and close before all bytes are
	// sent, so a copy error is only reported if no response can be read.
	sent, copyErr := io.CopyBuffer(conn, file, make([]byte, c.config.ChunkSize))
	if hc, ok := conn.(halfCloser); ok {
		if err := hc.CloseWrite(); err != nil && copyErr == nil {
			copyErr = err
		}
	}
	logger.Debug("Sent %d bytes of %s to %s", sent, name, c.Addr())

	line, err := readLine(bufio.NewReader(conn))
	if err != nil {
		if copyErr != nil {
			return "", fmt.Errorf("failed to send file: %w", copyErr)
		}
		if errors.Is(err, io.EOF) {
			return "", ErrNoResponse
		}
		return "", fmt.Errorf("failed to read put response: %w", err)
	}

	if protocol.IsError(line) {
		return "", &ServerError{Line: line}
	}
	return line, nil
}

// dial connects to the server. The connection is closed when ctx ends so
// blocking reads return promptly.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.Addr(), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return &ctxConn{Conn: conn, stop: context.AfterFunc(ctx, func() { _ = conn.Close() })}, nil
}

// halfCloser ends the write side of a connection. The server treats that as
// the end of an upload.
type halfCloser interface {
	CloseWrite() error
}

// ctxConn releases the context watcher when closed.
type ctxConn struct {
	net.Conn
	stop func() bool
}

func (c *ctxConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

// CloseWrite half-closes the underlying TCP connection.
func (c *ctxConn) CloseWrite() error {
	if tcp, ok := c.Conn.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	return nil
}

// readLine returns the next line without its terminator. A final line
// without a newline is returned as is.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
