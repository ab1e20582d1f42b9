package exchange

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/filedrop/internal/protocol"
	"github.com/marmos91/filedrop/pkg/coordinator"
	"github.com/marmos91/filedrop/pkg/requestlog"
	"github.com/marmos91/filedrop/pkg/store"
	"github.com/marmos91/filedrop/pkg/store/fs"
	"github.com/marmos91/filedrop/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	adapter *ExchangeAdapter
	store   store.Store
	sink    *requestlog.MemorySink
	coord   *coordinator.Coordinator
	cancel  context.CancelFunc
	done    chan error
}

func startServer(t *testing.T, cfg ExchangeConfig, s store.Store) *testServer {
	t.Helper()

	if s == nil {
		s = memory.NewMemoryStore(".txt")
	}
	sink := requestlog.NewMemorySink()
	coord := coordinator.New(s, sink, nil)

	adapter := New(cfg, nil)
	adapter.SetCoordinator(coord)

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		adapter: adapter,
		store:   s,
		sink:    sink,
		coord:   coord,
		cancel:  cancel,
		done:    make(chan error, 1),
	}

	go func() { ts.done <- adapter.Serve(ctx) }()

	select {
	case <-adapter.Ready():
		if adapter.Addr() == nil {
			t.Fatalf("server failed to start: %v", <-ts.done)
		}
	case err := <-ts.done:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

// stop cancels the server and returns Serve's result.
func (ts *testServer) stop(t *testing.T) error {
	t.Helper()
	ts.cancel()
	select {
	case err := <-ts.done:
		ts.done <- err
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

func (ts *testServer) dial(t *testing.T) *net.TCPConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", ts.adapter.Addr().String(), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn.(*net.TCPConn)
}

// readAll reads the whole response and splits it into lines.
func readAll(t *testing.T, conn net.Conn) []string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	data, err := io.ReadAll(conn)
	require.NoError(t, err)

	out := strings.TrimRight(string(data), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func (ts *testServer) send(t *testing.T, request string, payload []byte) []string {
	t.Helper()
	conn := ts.dial(t)

	_, err := conn.Write(append([]byte(request), payload...))
	require.NoError(t, err)
	require.NoError(t, conn.CloseWrite())

	return readAll(t, conn)
}

func (ts *testServer) put(t *testing.T, name string, payload []byte) string {
	t.Helper()
	lines := ts.send(t, protocol.EncodePut(name), payload)
	require.Len(t, lines, 1, "put answers with one line")
	return lines[0]
}

func (ts *testServer) list(t *testing.T) []string {
	t.Helper()
	return ts.send(t, protocol.EncodeList(), nil)
}

func (ts *testServer) read(t *testing.T, name string) []byte {
	t.Helper()
	rc, err := ts.store.Open(context.Background(), name)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func (ts *testServer) exists(t *testing.T, name string) bool {
	t.Helper()
	ok, err := ts.store.Exists(context.Background(), name)
	require.NoError(t, err)
	return ok
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msg)
}

func TestListEmpty(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	assert.Equal(t, []string{"No files found.", "END"}, ts.list(t))

	records := ts.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, requestlog.KindList, records[0].Kind)
	assert.Equal(t, "127.0.0.1", records[0].ClientAddr)
}

func TestPutThenList(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)
	payload := bytes.Repeat([]byte("x"), 100)

	assert.Equal(t, "Uploaded file a.txt", ts.put(t, "a.txt", payload))
	assert.Equal(t, []string{"Listing 1 file(s):", "a.txt", "END"}, ts.list(t))
	assert.Equal(t, payload, ts.read(t, "a.txt"))

	lines := ts.sink.Lines()
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "|127.0.0.1|put"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "|127.0.0.1|list"), lines[1])
}

func TestPutRoundTripSizes(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	for _, size := range []int{0, 1, 4095, 4096, 4097, 65535, 65536} {
		name := fmt.Sprintf("size-%d.txt", size)
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i % 251)
		}

		assert.Equal(t, "Uploaded file "+name, ts.put(t, name, payload), "size %d", size)
		assert.Equal(t, payload, ts.read(t, name), "size %d", size)
	}
}

func TestPutTooLarge(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	for _, size := range []int{65537, 70000, 100000} {
		name := fmt.Sprintf("big-%d.txt", size)

		assert.Equal(t, protocol.ErrTooLarge, ts.put(t, name, make([]byte, size)), "size %d", size)
		assert.False(t, ts.exists(t, name), "no artifact may remain for size %d", size)
	}

	assert.Equal(t, []string{"No files found.", "END"}, ts.list(t))
	assert.Equal(t, 0, ts.coord.Pending())
}

func TestPutTooLarge_SmallLimit(t *testing.T) {
	ts := startServer(t, ExchangeConfig{MaxFileSize: 10, ChunkSize: 4}, nil)

	assert.Equal(t, "Uploaded file ok.txt", ts.put(t, "ok.txt", []byte("0123456789")))
	assert.Equal(t, protocol.ErrTooLarge, ts.put(t, "over.txt", []byte("0123456789A")))
	assert.False(t, ts.exists(t, "over.txt"))
}

func TestPutWrongExtension(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	assert.Equal(t, protocol.ErrOnlyText, ts.put(t, "image.png", []byte("png data")))
	assert.Equal(t, []string{protocol.ErrOnlyText}, ts.send(t, "put   \n", nil), "blank name")
	assert.False(t, ts.exists(t, "image.png"))
	assert.Equal(t, 0, ts.coord.Pending())

	// Rejected puts are still logged once each.
	records := ts.sink.Records()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, requestlog.KindPut, r.Kind)
	}
}

func TestPutInvalidName(t *testing.T) {
	dir := t.TempDir()
	s, err := fs.NewFSStore(context.Background(), fs.FSStoreConfig{Path: filepath.Join(dir, "store"), Extension: ".txt"})
	require.NoError(t, err)
	ts := startServer(t, ExchangeConfig{}, s)

	assert.Equal(t, protocol.ErrCannotSave, ts.put(t, "../escape.txt", []byte("data")))
	assert.Equal(t, protocol.ErrCannotSave, ts.put(t, "sub/dir.txt", []byte("data")))
	assert.Equal(t, protocol.ErrCannotSave, ts.put(t, ".txt", []byte("data")), "extension only")

	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(s.Path())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPutDuplicate(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	assert.Equal(t, "Uploaded file a.txt", ts.put(t, "a.txt", []byte("first")))
	assert.Equal(t, "Error: Cannot upload file 'a.txt'; already exists on server.",
		ts.put(t, "a.txt", []byte("second version")))

	assert.Equal(t, []byte("first"), ts.read(t, "a.txt"))
	assert.Equal(t, []string{"Listing 1 file(s):", "a.txt", "END"}, ts.list(t))
}

func TestConcurrentPutSameName(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	const clients = 10
	responses := make([]string, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = ts.put(t, "race.txt", []byte(fmt.Sprintf("client %d", i)))
		}(i)
	}
	wg.Wait()

	uploaded, exists := 0, 0
	for _, r := range responses {
		switch r {
		case "Uploaded file race.txt":
			uploaded++
		case protocol.AlreadyExists("race.txt"):
			exists++
		default:
			t.Errorf("unexpected response %q", r)
		}
	}
	assert.Equal(t, 1, uploaded)
	assert.Equal(t, clients-1, exists)
	assert.Len(t, ts.sink.Records(), clients)
}

func TestPutSameNameWaitsForRejectedUpload(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	first := ts.dial(t)
	_, err := first.Write([]byte("put same.txt\nstart"))
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.coord.Pending() == 1 }, "first upload should be reserved")

	second := make(chan string, 1)
	go func() {
		lines := ts.send(t, protocol.EncodePut("same.txt"), bytes.Repeat([]byte("b"), 100))
		second <- strings.Join(lines, "\n")
	}()

	select {
	case r := <-second:
		t.Fatalf("second put answered while the name was reserved: %q", r)
	case <-time.After(100 * time.Millisecond):
	}

	_, err = first.Write(bytes.Repeat([]byte("a"), 70000))
	require.NoError(t, err)
	require.NoError(t, first.CloseWrite())
	assert.Equal(t, []string{protocol.ErrTooLarge}, readAll(t, first))

	select {
	case r := <-second:
		assert.Equal(t, "Uploaded file same.txt", r)
	case <-time.After(5 * time.Second):
		t.Fatal("second put still waiting after the first was rejected")
	}

	assert.Equal(t, bytes.Repeat([]byte("b"), 100), ts.read(t, "same.txt"))
	assert.Equal(t, 0, ts.coord.Pending())
	waitFor(t, func() bool { return len(ts.sink.Records()) == 2 }, "both puts should be logged")
}

// failingStore stages uploads whose writes always fail.
type failingStore struct {
	*memory.MemoryStore
	discarded chan string
}

func (s *failingStore) Stage(ctx context.Context, name string) (store.Upload, error) {
	u, err := s.MemoryStore.Stage(ctx, name)
	if err != nil {
		return nil, err
	}
	return &failingUpload{Upload: u, discarded: s.discarded}, nil
}

type failingUpload struct {
	store.Upload
	discarded chan string
}

func (u *failingUpload) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func (u *failingUpload) Discard(ctx context.Context) error {
	select {
	case u.discarded <- u.Name():
	default:
	}
	return u.Upload.Discard(ctx)
}

func TestPutWriteFailure(t *testing.T) {
	s := &failingStore{MemoryStore: memory.NewMemoryStore(".txt"), discarded: make(chan string, 1)}
	ts := startServer(t, ExchangeConfig{}, s)

	assert.Equal(t, protocol.ErrCannotSave, ts.put(t, "broken.txt", []byte("data")))

	select {
	case name := <-s.discarded:
		assert.Equal(t, "broken.txt", name)
	default:
		t.Fatal("staged upload was not discarded")
	}

	exists, err := s.Exists(context.Background(), "broken.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 0, ts.coord.Pending())
	waitFor(t, func() bool { return len(ts.sink.Records()) == 1 }, "failed put should be logged")

	assert.Equal(t, []string{"No files found.", "END"}, ts.list(t))
}

func TestPutClientDisconnectMidPayload(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	conn := ts.dial(t)
	_, err := conn.Write([]byte("put partial.txt\nhalf of it"))
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.coord.Pending() == 1 }, "upload should be reserved")

	require.NoError(t, conn.SetLinger(0))
	require.NoError(t, conn.Close())

	waitFor(t, func() bool { return ts.coord.Pending() == 0 }, "reset upload should be aborted")
	exists, err := ts.store.Exists(context.Background(), "partial.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListDuringUpload(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	conn := ts.dial(t)
	_, err := conn.Write([]byte("put pending.txt\npartial"))
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.coord.Pending() == 1 }, "upload should be reserved")

	assert.Equal(t, []string{"No files found.", "END"}, ts.list(t))

	_, err = conn.Write([]byte(" rest"))
	require.NoError(t, err)
	require.NoError(t, conn.CloseWrite())
	assert.Equal(t, []string{"Uploaded file pending.txt"}, readAll(t, conn))

	assert.Equal(t, []byte("partial rest"), ts.read(t, "pending.txt"))
	assert.Equal(t, []string{"Listing 1 file(s):", "pending.txt", "END"}, ts.list(t))
}

func TestConcurrentRequestsLogged(t *testing.T) {
	ts := startServer(t, ExchangeConfig{Workers: 4}, nil)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				ts.list(t)
			} else {
				ts.put(t, fmt.Sprintf("f%d.txt", i), []byte("data"))
			}
		}(i)
	}
	wg.Wait()

	lines := ts.sink.Lines()
	require.Len(t, lines, n)
	for _, line := range lines {
		r, err := requestlog.ParseRecord(line)
		require.NoError(t, err, line)
		assert.Contains(t, []requestlog.Kind{requestlog.KindList, requestlog.KindPut}, r.Kind)
	}
}

func TestUnsupportedCommand(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	for _, req := range []string{"delete x\n", "LIST\n", "put\n", "list extra\n"} {
		assert.Equal(t, []string{"Error: Unsupported command"}, ts.send(t, req, nil), "request %q", req)
	}
	assert.Empty(t, ts.sink.Records(), "unknown commands are not logged")
}

func TestEmptyConnection(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	conn := ts.dial(t)
	require.NoError(t, conn.CloseWrite())
	assert.Empty(t, readAll(t, conn))
	assert.Empty(t, ts.sink.Records())
}

func TestCRLFRequest(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)
	assert.Equal(t, []string{"No files found.", "END"}, ts.send(t, "list\r\n", nil))
}

func TestFSStoreEndToEnd(t *testing.T) {
	s, err := fs.NewFSStore(context.Background(), fs.FSStoreConfig{Path: t.TempDir(), Extension: ".txt"})
	require.NoError(t, err)
	ts := startServer(t, ExchangeConfig{}, s)

	assert.Equal(t, "Uploaded file a.txt", ts.put(t, "a.txt", bytes.Repeat([]byte("a"), 100)))
	assert.Equal(t, protocol.ErrTooLarge, ts.put(t, "b.txt", make([]byte, 70000)))

	entries, err := os.ReadDir(s.Path())
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the committed file may remain")
	assert.Equal(t, "a.txt", entries[0].Name())

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size())
}

func TestBackpressure(t *testing.T) {
	ts := startServer(t, ExchangeConfig{Workers: 1, QueueSize: 1}, nil)

	// Occupy the only worker with a stalled upload.
	blocker := ts.dial(t)
	_, err := blocker.Write([]byte("put slow.txt\n"))
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.coord.Pending() == 1 }, "blocker should hold the worker")

	// One client fills the queue, the next is held by the blocked acceptor.
	waiting := make([]*net.TCPConn, 2)
	for i := range waiting {
		waiting[i] = ts.dial(t)
		_, err := waiting[i].Write([]byte(protocol.EncodeList()))
		require.NoError(t, err)
		require.NoError(t, waiting[i].CloseWrite())
	}

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, ts.sink.Records(), 0, "queued clients must not be served while the worker is busy")

	require.NoError(t, blocker.CloseWrite())
	assert.Equal(t, []string{"Uploaded file slow.txt"}, readAll(t, blocker))

	for _, conn := range waiting {
		assert.Equal(t, []string{"Listing 1 file(s):", "slow.txt", "END"}, readAll(t, conn))
	}
}

func TestGracefulShutdownCompletesUpload(t *testing.T) {
	ts := startServer(t, ExchangeConfig{ShutdownTimeout: 5 * time.Second}, nil)

	conn := ts.dial(t)
	_, err := conn.Write([]byte("put late.txt\nfirst half "))
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.coord.Pending() == 1 }, "upload should be reserved")

	ts.cancel()
	waitFor(t, func() bool {
		_, err := net.DialTimeout("tcp", ts.adapter.Addr().String(), 100*time.Millisecond)
		return err != nil
	}, "listener should close on shutdown")

	_, err = conn.Write([]byte("second half"))
	require.NoError(t, err)
	require.NoError(t, conn.CloseWrite())
	assert.Equal(t, []string{"Uploaded file late.txt"}, readAll(t, conn))

	assert.NoError(t, ts.stop(t))
	assert.Equal(t, []byte("first half second half"), ts.read(t, "late.txt"))
}

func TestShutdownForceClosesStalledConnections(t *testing.T) {
	ts := startServer(t, ExchangeConfig{ShutdownTimeout: 200 * time.Millisecond}, nil)

	conn := ts.dial(t)
	_, err := conn.Write([]byte("put stalled.txt\nsome"))
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.adapter.GetActiveConnections() == 1 }, "connection should be active")

	start := time.Now()
	err = ts.stop(t)
	assert.Error(t, err, "force closure is reported")
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, int32(0), ts.adapter.GetActiveConnections())
	assert.False(t, ts.exists(t, "stalled.txt"), "interrupted upload must not be committed")
	assert.Equal(t, 0, ts.coord.Pending())
}

func TestStopBeforeServe(t *testing.T) {
	adapter := New(ExchangeConfig{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, adapter.Stop(ctx))
	assert.NoError(t, adapter.Stop(ctx), "stop is idempotent")
	assert.Nil(t, adapter.Addr())
}

func TestStop(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.adapter.Stop(ctx))

	select {
	case err := <-ts.done:
		assert.NoError(t, err)
		ts.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestServeWithoutCoordinator(t *testing.T) {
	adapter := New(ExchangeConfig{}, nil)
	assert.Error(t, adapter.Serve(context.Background()))

	select {
	case <-adapter.Ready():
	default:
		t.Fatal("Ready must be closed after Serve fails")
	}
	assert.Nil(t, adapter.Addr())
}

func TestServeBindFailure(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	adapter := New(ExchangeConfig{Port: l.Addr().(*net.TCPAddr).Port}, nil)
	adapter.SetCoordinator(coordinator.New(memory.NewMemoryStore(".txt"), requestlog.NewMemorySink(), nil))

	err = adapter.Serve(context.Background())
	assert.Error(t, err)

	select {
	case <-adapter.Ready():
	default:
		t.Fatal("Ready must be closed after a bind failure")
	}
	assert.Nil(t, adapter.Addr())
}

func TestAcceptRateLimit(t *testing.T) {
	ts := startServer(t, ExchangeConfig{AcceptRate: 1000, AcceptBurst: 5}, nil)

	for i := 0; i < 10; i++ {
		assert.Equal(t, []string{"No files found.", "END"}, ts.list(t))
	}
}

func TestLongRequestLine(t *testing.T) {
	ts := startServer(t, ExchangeConfig{}, nil)

	conn := ts.dial(t)
	w := bufio.NewWriter(conn)
	_, err := w.WriteString(strings.Repeat("x", protocol.MaxLineLength+10))
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, conn.CloseWrite())

	assert.Equal(t, []string{"Error: Unsupported command"}, readAll(t, conn))
}

func TestConfigDefaults(t *testing.T) {
	cfg := ExchangeConfig{}
	cfg.applyDefaults()
	require.NoError(t, cfg.validate())

	assert.Equal(t, 20, cfg.Workers)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, int64(65536), cfg.MaxFileSize)
	assert.Equal(t, 4096, cfg.ChunkSize)
	assert.Equal(t, int64(65536), cfg.DrainLimit)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.ReadTimeout)
	assert.Zero(t, cfg.WriteTimeout)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  ExchangeConfig
	}{
		{"port too large", ExchangeConfig{Port: 70000}},
		{"negative workers", ExchangeConfig{Workers: -1}},
		{"negative queue", ExchangeConfig{QueueSize: -1}},
		{"negative read timeout", ExchangeConfig{ReadTimeout: -time.Second}},
		{"negative accept rate", ExchangeConfig{AcceptRate: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.applyDefaults()
			assert.Error(t, cfg.validate())
			assert.Panics(t, func() { New(tt.cfg, nil) })
		})
	}
}
