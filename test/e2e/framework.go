//go:build e2e

package e2e

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/filedrop/pkg/adapter/exchange"
	"github.com/marmos91/filedrop/pkg/client"
	"github.com/marmos91/filedrop/pkg/config"
	"github.com/marmos91/filedrop/pkg/coordinator"
	"github.com/marmos91/filedrop/pkg/metrics"
	"github.com/marmos91/filedrop/pkg/requestlog"
	"github.com/marmos91/filedrop/pkg/server"
	"github.com/marmos91/filedrop/pkg/store"
)

// TestContext is a running server built from a TestConfig the same way
// filedropd builds it, plus a client pointed at it.
type TestContext struct {
	T       *testing.T
	Config  *TestConfig
	Server  *server.Server
	Store   store.Store
	Log     requestlog.Sink
	Adapter *exchange.ExchangeAdapter
	Client  *client.Client
	Dir     string
	Port    int

	logPath string
	cancel  context.CancelFunc
	done    chan error
}

// NewTestContext starts a server for tc. It is stopped by t.Cleanup.
func NewTestContext(t *testing.T, tc *TestConfig) *TestContext {
	t.Helper()

	dir := t.TempDir()
	cfg, err := tc.ServerConfig(dir)
	if err != nil {
		t.Fatalf("Failed to build config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &TestContext{
		T:      t,
		Config: tc,
		Dir:    dir,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	if tc.Log == LogFile {
		c.logPath = filepath.Join(dir, "log.txt")
	}

	m := metrics.NewNoopExchangeMetrics()

	c.Store, err = config.CreateStore(ctx, &cfg.Store, m)
	if err != nil {
		cancel()
		t.Fatalf("Failed to create store: %v", err)
	}
	c.Log, err = config.CreateRequestLog(ctx, &cfg.RequestLog)
	if err != nil {
		cancel()
		_ = c.Store.Close()
		t.Fatalf("Failed to create request log: %v", err)
	}

	c.Server = server.New(coordinator.New(c.Store, c.Log, m))
	c.Server.StopTimeout = 5 * time.Second

	adapters, err := config.CreateAdapters(cfg, m)
	if err != nil {
		cancel()
		t.Fatalf("Failed to create adapters: %v", err)
	}
	for _, a := range adapters {
		if err := c.Server.AddAdapter(a); err != nil {
			cancel()
			t.Fatalf("Failed to add adapter: %v", err)
		}
		if ex, ok := a.(*exchange.ExchangeAdapter); ok {
			c.Adapter = ex
		}
	}

	t.Cleanup(c.Cleanup)
	go func() { c.done <- c.Server.Serve(ctx) }()

	select {
	case <-c.Adapter.Ready():
		if c.Adapter.Addr() == nil {
			t.Fatalf("Server failed to start: %v", <-c.done)
		}
	case err := <-c.done:
		t.Fatalf("Server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not start within 5s")
	}

	c.Port = c.Adapter.Addr().(*net.TCPAddr).Port
	c.Client = client.New(client.Config{Host: "127.0.0.1", Port: c.Port})
	return c
}

// Cleanup stops the server and closes its store and log.
func (c *TestContext) Cleanup() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil

	select {
	case <-c.done:
	case <-time.After(10 * time.Second):
		c.T.Errorf("Server did not stop within 10s")
	}

	if err := c.Log.Close(); err != nil {
		c.T.Logf("Failed to close request log: %v", err)
	}
	if err := c.Store.Close(); err != nil {
		c.T.Logf("Failed to close store: %v", err)
	}
}

// LogLines returns the request log contents in append order.
func (c *TestContext) LogLines() []string {
	c.T.Helper()

	switch sink := c.Log.(type) {
	case *requestlog.MemorySink:
		return sink.Lines()
	case *requestlog.BadgerSink:
		lines, err := sink.Lines(context.Background())
		if err != nil {
			c.T.Fatalf("Failed to read badger log: %v", err)
		}
		return lines
	case *requestlog.FileSink:
		f, err := os.Open(c.logPath)
		if err != nil {
			c.T.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()

		var lines []string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			c.T.Fatalf("Failed to read log file: %v", err)
		}
		return lines
	default:
		c.T.Fatalf("Unsupported request log %T", c.Log)
		return nil
	}
}

// LogRecords parses LogLines.
func (c *TestContext) LogRecords() []requestlog.Record {
	c.T.Helper()

	lines := c.LogLines()
	records := make([]requestlog.Record, 0, len(lines))
	for _, line := range lines {
		r, err := requestlog.ParseRecord(line)
		if err != nil {
			c.T.Fatalf("Bad log line: %v", err)
		}
		records = append(records, r)
	}
	return records
}

// WaitForLogRecords waits until the log holds n records and returns them.
// Rejected puts are logged after their response, so a client can observe the
// rejection before the record lands.
func (c *TestContext) WaitForLogRecords(n int) []requestlog.Record {
	c.T.Helper()

	var records []requestlog.Record
	deadline := time.Now().Add(5 * time.Second)
	for {
		records = c.LogRecords()
		if len(records) >= n || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(records) != n {
		c.T.Fatalf("Expected %d log records, got %d", n, len(records))
	}
	return records
}

// WriteLocalFile creates a file for upload and returns its path.
func (c *TestContext) WriteLocalFile(name string, data []byte) string {
	c.T.Helper()

	dir, err := os.MkdirTemp(c.Dir, "local-*")
	if err != nil {
		c.T.Fatalf("Failed to create local dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		c.T.Fatalf("Failed to write local file: %v", err)
	}
	return path
}

// RunOnAllConfigs runs fn once per configuration as a subtest. S3
// configurations are included when Localstack is reachable.
func RunOnAllConfigs(t *testing.T, fn func(t *testing.T, c *TestContext)) {
	t.Helper()

	configs := AllConfigurations()

	helper := NewLocalstackHelper(t)
	if helper.Available(context.Background()) {
		t.Cleanup(helper.Cleanup)
		for _, tc := range S3Configurations() {
			SetupS3Config(t, tc, helper)
			configs = append(configs, tc)
		}
	} else {
		t.Log("Localstack not available, skipping S3 configurations")
	}

	for _, tc := range configs {
		t.Run(tc.Name, func(t *testing.T) {
			fn(t, NewTestContext(t, tc))
		})
	}
}
