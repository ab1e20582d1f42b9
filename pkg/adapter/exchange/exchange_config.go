package exchange

import (
	"fmt"
	"time"
)

// ExchangeConfig configures the file exchange adapter.
//
// Zero values are replaced by defaults in applyDefaults, except Port (0 asks
// the OS for a free port) and the timeouts (0 disables them). pkg/config sets
// the user-facing default port.
//
// Default values:
//   - Workers: 20
//   - QueueSize: 64
//   - MaxFileSize: 65536
//   - ChunkSize: 4096
//   - DrainLimit: MaxFileSize (negative disables draining)
//   - ShutdownTimeout: 30s
type ExchangeConfig struct {
	// Enabled controls whether the adapter is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// Workers is the number of connections handled concurrently.
	Workers int `mapstructure:"workers" yaml:"workers" validate:"min=0"`

	// QueueSize is the number of accepted connections that may wait for a
	// free worker. Once full, the acceptor stops accepting and new clients
	// wait in the kernel backlog.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"min=0"`

	// MaxFileSize is the upload ceiling in bytes. An upload of exactly
	// MaxFileSize bytes is accepted.
	MaxFileSize int64 `mapstructure:"max_file_size" yaml:"max_file_size" validate:"min=0"`

	// ChunkSize is the read buffer size used while streaming an upload.
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size" validate:"min=0"`

	// DrainLimit is how many bytes of a rejected upload are read and
	// discarded before the connection is closed.
	DrainLimit int64 `mapstructure:"drain_limit" yaml:"drain_limit" validate:"min=-1"`

	// AcceptRate limits accepted connections per second. 0 disables.
	AcceptRate float64 `mapstructure:"accept_rate" yaml:"accept_rate" validate:"min=0"`

	// AcceptBurst is the token bucket size for AcceptRate.
	AcceptBurst int `mapstructure:"accept_burst" yaml:"accept_burst" validate:"min=0"`

	// ReadTimeout bounds each read from a client. 0 means no timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing a response. 0 means no timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Serve waits for in-flight connections
	// during shutdown before force-closing them.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`
}

func (c *ExchangeConfig) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 20
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 65536
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 4096
	}
	if c.DrainLimit == 0 {
		c.DrainLimit = c.MaxFileSize
	}
	if c.AcceptRate > 0 && c.AcceptBurst == 0 {
		c.AcceptBurst = 1
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *ExchangeConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid workers %d: must be >= 1", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("invalid queue_size %d: must be >= 0", c.QueueSize)
	}
	if c.MaxFileSize < 1 {
		return fmt.Errorf("invalid max_file_size %d: must be >= 1", c.MaxFileSize)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk_size %d: must be >= 1", c.ChunkSize)
	}
	if c.AcceptRate < 0 {
		return fmt.Errorf("invalid accept_rate %v: must be >= 0", c.AcceptRate)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("invalid timeouts: must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}
