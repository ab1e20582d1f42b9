// Package adapter defines the lifecycle contract shared by protocol servers.
package adapter

import (
	"context"

	"github.com/marmos91/filedrop/pkg/coordinator"
)

// Adapter is a protocol server run by pkg/server.
//
// Lifecycle:
//  1. SetCoordinator is called once with the shared store+log coordinator
//  2. Serve blocks until ctx is cancelled or a fatal error occurs
//  3. Stop may be called at any time to shut down gracefully
//
// Implementations must be safe for Stop to be called concurrently with
// Serve, and more than once.
type Adapter interface {
	// Serve listens and handles connections until ctx is cancelled.
	//
	// Returns nil after a graceful shutdown, an error if the listener cannot
	// be created or connections had to be force-closed.
	Serve(ctx context.Context) error

	// SetCoordinator injects the coordinator every connection handler uses
	// for store mutations and request log appends.
	SetCoordinator(c *coordinator.Coordinator)

	// Stop initiates graceful shutdown and waits for it up to ctx's deadline.
	Stop(ctx context.Context) error

	// Protocol returns a short protocol name for logging (e.g. "exchange").
	Protocol() string

	// Port returns the configured TCP port.
	Port() int
}
