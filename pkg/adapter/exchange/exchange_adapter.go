// Package exchange implements the file exchange protocol server: a TCP
// listener feeding a fixed pool of workers, each serving one connection
// (one list or put request) at a time.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/filedrop/internal/logger"
	"github.com/marmos91/filedrop/internal/ratelimiter"
	"github.com/marmos91/filedrop/pkg/coordinator"
	"github.com/marmos91/filedrop/pkg/metrics"
)

// ExchangeAdapter implements adapter.Adapter for the list/put protocol.
//
// Architecture:
// Serve runs the accept loop. Accepted connections go into a bounded queue
// read by Workers goroutines. When every worker is busy and the queue is
// full the accept loop blocks on the queue and stops accepting, so further
// clients wait in the kernel listen backlog rather than being dropped.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. Queued connections that no worker has picked up are closed
//  4. In-flight connections run to completion (up to ShutdownTimeout)
//  5. Remaining connections are force-closed
//
// Thread safety:
// All methods are safe for concurrent use. Shutdown is idempotent.
type ExchangeAdapter struct {
	config ExchangeConfig

	// listener is set once Serve has bound the port. Guarded by listenerMu
	// because Stop may race with Serve.
	listener   net.Listener
	listenerMu sync.Mutex

	// ready is closed once the listener is bound or Serve has given up.
	ready     chan struct{}
	readyOnce sync.Once

	// stopped is closed when Serve returns.
	stopped chan struct{}
	serving atomic.Bool

	coord   *coordinator.Coordinator
	metrics metrics.ExchangeMetrics
	limiter *ratelimiter.RateLimiter

	// queue hands accepted connections to workers. Only the accept loop
	// sends on it and closes it.
	queue   chan net.Conn
	workers sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// connCount is the number of connections currently being served.
	connCount atomic.Int32

	// requestCtx is handed to every connection. It is cancelled only when
	// in-flight connections are force-closed, so a graceful shutdown lets
	// running uploads commit.
	requestCtx     context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps connection id to net.Conn for force closure.
	activeConnections sync.Map
}

// New creates an adapter in a stopped state. Call SetCoordinator, then
// Serve.
//
// Parameters:
//   - config: Adapter configuration; zero values get defaults
//   - m: Optional metrics collector (nil for no metrics)
//
// Panics if config validation fails.
func New(config ExchangeConfig, m metrics.ExchangeMetrics) *ExchangeAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid exchange config: %v", err))
	}

	if m == nil {
		m = metrics.NewNoopExchangeMetrics()
	}

	requestCtx, cancelRequests := context.WithCancel(context.Background())

	return &ExchangeAdapter{
		config:         config,
		ready:          make(chan struct{}),
		stopped:        make(chan struct{}),
		metrics:        m,
		limiter:        ratelimiter.New(config.AcceptRate, config.AcceptBurst),
		queue:          make(chan net.Conn, config.QueueSize),
		shutdown:       make(chan struct{}),
		requestCtx:     requestCtx,
		cancelRequests: cancelRequests,
	}
}

// SetCoordinator implements adapter.Adapter.
func (s *ExchangeAdapter) SetCoordinator(c *coordinator.Coordinator) {
	s.coord = c
	logger.Debug("Exchange coordinator configured")
}

// Serve binds the port, starts the worker pool and accepts connections until
// ctx is cancelled or Stop is called.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener cannot be created, or if connections had to be
//     force-closed after ShutdownTimeout
//
// Serve must be called at most once.
func (s *ExchangeAdapter) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("exchange adapter: Serve called more than once")
	}
	defer close(s.stopped)
	defer s.markReady()

	if s.coord == nil {
		return errors.New("exchange adapter: coordinator not configured")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create exchange listener on port %d: %w", s.config.Port, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	s.markReady()

	// Stop may have run before the listener existed.
	select {
	case <-s.shutdown:
		_ = listener.Close()
	default:
	}

	logger.Info("Exchange server listening on %s", listener.Addr())
	logger.Debug("Exchange config: workers=%d queue_size=%d max_file_size=%d chunk_size=%d accept_rate=%v read_timeout=%v write_timeout=%v",
		s.config.Workers, s.config.QueueSize, s.config.MaxFileSize, s.config.ChunkSize,
		s.config.AcceptRate, s.config.ReadTimeout, s.config.WriteTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Exchange shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for i := 0; i < s.config.Workers; i++ {
		s.workers.Add(1)
		go s.worker()
	}

	s.acceptLoop(listener)

	// Only the accept loop sends on queue, and it has returned.
	close(s.queue)
	return s.gracefulShutdown()
}

func (s *ExchangeAdapter) acceptLoop(listener net.Listener) {
	// limitCtx ends with shutdown so the accept rate limiter never delays it.
	limitCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.shutdown:
			cancel()
		case <-limitCtx.Done():
		}
	}()

	for {
		if err := s.limiter.Wait(limitCtx); err != nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Debug("Temporary error accepting exchange connection: %v", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("Error accepting exchange connection: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.metrics.RecordConnectionAccepted()
		logger.Debug("Exchange connection accepted from %s", conn.RemoteAddr())

		select {
		case s.queue <- conn:
			s.metrics.SetQueueDepth(len(s.queue))
		case <-s.shutdown:
			_ = conn.Close()
			s.metrics.RecordConnectionClosed()
			return
		}
	}
}

func (s *ExchangeAdapter) worker() {
	defer s.workers.Done()

	for conn := range s.queue {
		s.metrics.SetQueueDepth(len(s.queue))

		select {
		case <-s.shutdown:
			logger.Debug("Closing queued exchange connection from %s: server shutting down", conn.RemoteAddr())
			_ = conn.Close()
			s.metrics.RecordConnectionClosed()
			continue
		default:
		}

		s.serveConn(conn)
	}
}

func (s *ExchangeAdapter) serveConn(tcpConn net.Conn) {
	id := uuid.NewString()
	s.activeConnections.Store(id, tcpConn)
	current := s.connCount.Add(1)
	s.metrics.SetActiveConnections(current)

	defer func() {
		s.activeConnections.Delete(id)
		current := s.connCount.Add(-1)
		s.metrics.RecordConnectionClosed()
		s.metrics.SetActiveConnections(current)
		logger.Debug("Exchange connection %s closed (active: %d)", id, current)
	}()

	NewExchangeConnection(s, tcpConn, id).Serve(s.requestCtx)
}

// initiateShutdown closes the shutdown channel and the listener. Safe to
// call more than once.
func (s *ExchangeAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Exchange shutdown initiated")
		close(s.shutdown)

		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing exchange listener: %v", err)
			}
		}
	})
}

// gracefulShutdown waits for the workers to finish, force-closing
// connections after ShutdownTimeout.
func (s *ExchangeAdapter) gracefulShutdown() error {
	logger.Info("Exchange graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.connCount.Load(), s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.cancelRequests()
		logger.Info("Exchange graceful shutdown complete")
		return nil

	case <-timer.C:
		remaining := s.connCount.Load()
		logger.Warn("Exchange shutdown timeout exceeded: %d connection(s) still active after %v, forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.cancelRequests()
		s.forceCloseConnections()
		<-done

		return fmt.Errorf("exchange shutdown timeout: %d connection(s) force-closed", remaining)
	}
}

func (s *ExchangeAdapter) forceCloseConnections() {
	closed := 0
	s.activeConnections.Range(func(key, value any) bool {
		id := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing exchange connection %s: %v", id, err)
		} else {
			closed++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closed > 0 {
		logger.Info("Force-closed %d exchange connection(s)", closed)
	}
}

// Stop initiates shutdown and waits for Serve to return, or for ctx.
//
// Returns:
//   - nil when Serve has returned (or was never started)
//   - ctx.Err() if ctx is done first
func (s *ExchangeAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if !s.serving.Load() {
		return nil
	}

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		logger.Warn("Exchange shutdown context cancelled: %d connection(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// Ready returns a channel closed once the listener is bound, or once Serve
// has returned without binding it. Addr is nil in the second case.
func (s *ExchangeAdapter) Ready() <-chan struct{} {
	return s.ready
}

func (s *ExchangeAdapter) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Addr returns the bound listener address, or nil before Serve has bound
// the port.
func (s *ExchangeAdapter) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetActiveConnections returns the number of connections being served.
func (s *ExchangeAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Port implements adapter.Adapter.
func (s *ExchangeAdapter) Port() int {
	return s.config.Port
}

// Protocol implements adapter.Adapter.
func (s *ExchangeAdapter) Protocol() string {
	return "exchange"
}
