package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/filedrop/pkg/adapter/exchange"
	"github.com/spf13/viper"
)

// Default values shared by ApplyDefaults, the viper defaults and the
// generated config file.
const (
	DefaultExchangePort    = 9487
	DefaultMetricsPort     = 9090
	DefaultExtension       = ".txt"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultWorkers         = 20
	DefaultQueueSize       = 64
	DefaultMaxFileSize     = 65536
	DefaultChunkSize       = 4096
)

// DefaultStorePath is the filesystem store directory used when none is set.
func DefaultStorePath() string {
	return filepath.Join(".", "serverFiles")
}

// DefaultRequestLogPath is the request log file used when none is set.
func DefaultRequestLogPath() string {
	return filepath.Join(".", "log.txt")
}

// registerViperDefaults makes every scalar setting known to viper so that
// FILEDROP_* environment variables override it even when the config file
// does not mention it.
func registerViperDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("server.metrics.enabled", false)
	v.SetDefault("server.metrics.port", DefaultMetricsPort)

	v.SetDefault("store.type", "filesystem")
	v.SetDefault("store.extension", DefaultExtension)
	v.SetDefault("store.filesystem.path", DefaultStorePath())
	v.SetDefault("store.filesystem.watch", false)

	v.SetDefault("request_log.type", "file")
	v.SetDefault("request_log.file.path", DefaultRequestLogPath())
	v.SetDefault("request_log.file.sync", false)

	v.SetDefault("adapters.exchange.enabled", true)
	v.SetDefault("adapters.exchange.port", DefaultExchangePort)
	v.SetDefault("adapters.exchange.workers", DefaultWorkers)
	v.SetDefault("adapters.exchange.queue_size", DefaultQueueSize)
	v.SetDefault("adapters.exchange.max_file_size", DefaultMaxFileSize)
	v.SetDefault("adapters.exchange.chunk_size", DefaultChunkSize)
	v.SetDefault("adapters.exchange.drain_limit", 0)
	v.SetDefault("adapters.exchange.accept_rate", 0)
	v.SetDefault("adapters.exchange.accept_burst", 0)
	v.SetDefault("adapters.exchange.read_timeout", 0)
	v.SetDefault("adapters.exchange.write_timeout", 0)
	v.SetDefault("adapters.exchange.shutdown_timeout", DefaultShutdownTimeout)
}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults and explicit values are kept.
// Backend-specific keys are filled only for the selected backend's section.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStoreDefaults(&cfg.Store)
	applyRequestLogDefaults(&cfg.RequestLog)
	applyExchangeDefaults(&cfg.Adapters.Exchange)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = DefaultStorePath()
	}
}

func applyRequestLogDefaults(cfg *RequestLogConfig) {
	if cfg.Type == "" {
		cfg.Type = "file"
	}

	if cfg.File == nil {
		cfg.File = make(map[string]any)
	}
	if _, ok := cfg.File["path"]; !ok {
		cfg.File["path"] = DefaultRequestLogPath()
	}
}

// applyExchangeDefaults fills the user-facing defaults. The adapter fills
// the rest itself.
func applyExchangeDefaults(cfg *exchange.ExchangeConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultExchangePort
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.DrainLimit == 0 {
		cfg.DrainLimit = cfg.MaxFileSize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// GetDefaultConfig returns a Config with all default values applied. Used
// to generate the sample config file and in tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Adapters: AdaptersConfig{
			Exchange: exchange.ExchangeConfig{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
