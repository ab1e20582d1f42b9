// Package server runs the protocol adapters that front one shared
// coordinator.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/filedrop/internal/logger"
	"github.com/marmos91/filedrop/pkg/adapter"
	"github.com/marmos91/filedrop/pkg/coordinator"
)

// DefaultStopTimeout bounds how long Serve waits for each adapter's Stop.
const DefaultStopTimeout = 30 * time.Second

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("server: Serve already called")

// Server manages the lifecycle of the adapters sharing a coordinator.
//
// Lifecycle:
//  1. New() with the coordinator
//  2. AddAdapter() for each listener
//  3. Serve() starts all adapters concurrently and blocks
//  4. Context cancellation or the first adapter failure stops all adapters
//
// Example:
//
//	srv := server.New(coord)
//	_ = srv.AddAdapter(exchange.New(cfg, m))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type Server struct {
	coord *coordinator.Coordinator

	// mu protects adapters.
	mu       sync.RWMutex
	adapters []adapter.Adapter

	served atomic.Bool

	// StopTimeout overrides DefaultStopTimeout when positive.
	StopTimeout time.Duration
}

// New creates a server for coord. Panics if coord is nil.
func New(coord *coordinator.Coordinator) *Server {
	if coord == nil {
		panic("server: coordinator is required")
	}
	return &Server{coord: coord}
}

// AddAdapter registers a, injecting the shared coordinator.
//
// Two adapters may not share a protocol name, nor a non-zero port. Port 0
// asks for an ephemeral port and never conflicts.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		return errors.New("adapter cannot be nil")
	}
	if s.served.Load() {
		return errors.New("cannot add adapters after Serve")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	protocol := a.Protocol()
	port := a.Port()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetCoordinator(s.coord)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// Serve starts every adapter and blocks until ctx is cancelled or an
// adapter fails, then stops all adapters in reverse registration order and
// waits for them.
//
// Returns:
//   - ctx.Err() when shutdown was triggered by ctx
//   - the first adapter error otherwise (wrapped with its protocol)
//   - ErrAlreadyServed on a second call
func (s *Server) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		return ErrAlreadyServed
	}

	adapters := s.Adapters()
	if len(adapters) == 0 {
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting filedrop server with %d adapter(s)", len(adapters))

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			// An adapter returning nil before shutdown is treated as a
			// failure too: the server would otherwise keep running without it.
			err := a.Serve(ctx)
			if ctx.Err() != nil {
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("%s adapter stopped with error: %v", protocol, err)
				} else {
					logger.Debug("%s adapter stopped", protocol)
				}
				return
			}
			if err == nil {
				err = errors.New("adapter stopped unexpectedly")
			}
			logger.Error("%s adapter failed: %v", protocol, err)
			errChan <- adapterError{protocol: protocol, err: err}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()
	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed, shutting down all adapters", adapterErr.protocol)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	s.stopAll(adapters)
	wg.Wait()

	logger.Info("Filedrop server stopped")
	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

func (s *Server) stopAll(adapters []adapter.Adapter) {
	timeout := s.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		}
	}
}
