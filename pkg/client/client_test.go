package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/filedrop/internal/protocol"
	"github.com/marmos91/filedrop/pkg/adapter/exchange"
	"github.com/marmos91/filedrop/pkg/coordinator"
	"github.com/marmos91/filedrop/pkg/requestlog"
	"github.com/marmos91/filedrop/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	port  int
	store *memory.MemoryStore
	sink  *requestlog.MemorySink
}

func startServer(t *testing.T, cfg exchange.ExchangeConfig) *testServer {
	t.Helper()

	st := memory.NewMemoryStore(".txt")
	sink := requestlog.NewMemorySink()

	cfg.Port = 0
	a := exchange.New(cfg, nil)
	a.SetCoordinator(coordinator.New(st, sink, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	select {
	case <-a.Ready():
		if a.Addr() == nil {
			cancel()
			t.Fatalf("server failed to start: %v", <-done)
		}
	case err := <-done:
		cancel()
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not start")
	}

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testServer{
		port:  a.Addr().(*net.TCPAddr).Port,
		store: st,
		sink:  sink,
	}
}

func (s *testServer) client() *Client {
	return New(Config{Host: "127.0.0.1", Port: s.port})
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestConfigDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "localhost:9487", c.Addr())
	assert.Equal(t, int64(65536), c.config.MaxFileSize)
	assert.Equal(t, 4096, c.config.ChunkSize)
}

func TestList_Empty(t *testing.T) {
	srv := startServer(t, exchange.ExchangeConfig{})

	listing, err := srv.client().List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{protocol.NoFilesFound}, listing.Lines)
	assert.Empty(t, listing.Files)
}

func TestPutThenList(t *testing.T) {
	srv := startServer(t, exchange.ExchangeConfig{})
	c := srv.client()
	ctx := context.Background()

	reply, err := c.Put(ctx, writeFile(t, "hello.txt", []byte("hello\n")))
	require.NoError(t, err)
	assert.Equal(t, "Uploaded file hello.txt", reply)

	_, err = c.Put(ctx, writeFile(t, "a.txt", nil))
	require.NoError(t, err, "empty files are valid uploads")

	listing, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Listing 2 file(s):", "a.txt", "hello.txt"}, listing.Lines)
	assert.Equal(t, []string{"a.txt", "hello.txt"}, listing.Files)

	assert.Len(t, srv.sink.Records(), 3)
}

func TestPut_ExactLimit(t *testing.T) {
	srv := startServer(t, exchange.ExchangeConfig{})

	data := bytes.Repeat([]byte("x"), 65536)
	_, err := srv.client().Put(context.Background(), writeFile(t, "max.txt", data))
	require.NoError(t, err)

	exists, err := srv.store.Exists(context.Background(), "max.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPut_ServerRejections(t *testing.T) {
	srv := startServer(t, exchange.ExchangeConfig{})
	c := srv.client()
	ctx := context.Background()

	_, err := c.Put(ctx, writeFile(t, "dup.txt", []byte("one")))
	require.NoError(t, err)

	tests := []struct {
		name string
		file string
		want string
	}{
		{"duplicate", "dup.txt", protocol.AlreadyExists("dup.txt")},
		{"not text", "image.png", protocol.ErrOnlyText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Put(ctx, writeFile(t, tt.file, []byte("payload")))

			var serverErr *ServerError
			require.ErrorAs(t, err, &serverErr)
			assert.Equal(t, tt.want, serverErr.Line)
		})
	}
}

func TestPut_ServerSizeLimit(t *testing.T) {
	// DrainLimit covers the whole payload so the server closes cleanly.
	srv := startServer(t, exchange.ExchangeConfig{MaxFileSize: 10, DrainLimit: 1000})

	c := New(Config{Host: "127.0.0.1", Port: srv.port, MaxFileSize: 1 << 20})
	_, err := c.Put(context.Background(), writeFile(t, "big.txt", bytes.Repeat([]byte("y"), 100)))

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.ErrTooLarge, serverErr.Line)

	exists, err := srv.store.Exists(context.Background(), "big.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPut_LocalChecks(t *testing.T) {
	srv := startServer(t, exchange.ExchangeConfig{})
	c := srv.client()
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := c.Put(ctx, filepath.Join(t.TempDir(), "missing.txt"))
		assert.ErrorIs(t, err, ErrCannotOpen)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := c.Put(ctx, t.TempDir())
		assert.ErrorIs(t, err, ErrCannotOpen)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := c.Put(ctx, writeFile(t, "big.txt", make([]byte, 65537)))
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	// Pre-flight failures never reach the server.
	assert.Empty(t, srv.sink.Records())
}

func TestConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := New(Config{Host: "127.0.0.1", Port: port})

	_, err = c.List(context.Background())
	assert.ErrorContains(t, err, "failed to connect")

	_, err = c.Put(context.Background(), writeFile(t, "a.txt", []byte("a")))
	assert.ErrorContains(t, err, "failed to connect")
}

// fakeServer accepts one connection, reads the request line and hands the
// connection to handle.
func fakeServer(t *testing.T, handle func(conn net.Conn)) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = bufio.NewReader(conn).ReadString('\n')
		handle(conn)
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestList_NoResponse(t *testing.T) {
	port := fakeServer(t, func(conn net.Conn) {})

	_, err := New(Config{Host: "127.0.0.1", Port: port}).List(context.Background())
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestList_TruncatedListing(t *testing.T) {
	port := fakeServer(t, func(conn net.Conn) {
		_ = protocol.WriteLines(conn, "Listing 2 file(s):", "a.txt")
	})

	listing, err := New(Config{Host: "127.0.0.1", Port: port}).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Listing 2 file(s):", "a.txt"}, listing.Lines)
}

func TestList_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	port := fakeServer(t, func(conn net.Conn) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New(Config{Host: "127.0.0.1", Port: port}).List(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestServerError(t *testing.T) {
	var err error = &ServerError{Line: protocol.ErrCannotSave}
	assert.Equal(t, protocol.ErrCannotSave, err.Error())
	assert.False(t, errors.Is(err, ErrNoResponse))
}
