// Package config loads the filedrop server configuration from a file,
// environment variables and defaults, and builds the components it
// describes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/filedrop/pkg/adapter/exchange"
	"github.com/spf13/viper"
)

// envPrefix is the prefix of every environment override, e.g.
// FILEDROP_ADAPTERS_EXCHANGE_PORT=9500.
const envPrefix = "FILEDROP"

// Config represents the complete filedrop configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FILEDROP_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Backend sections follow one pattern: a Type field selects the
// implementation and only the section of the same name is decoded, by the
// factory for that type.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Store selects where uploaded files live
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// RequestLog selects where request records are written
	RequestLog RequestLogConfig `mapstructure:"request_log" yaml:"request_log"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds how long the server waits for adapters to stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// StoreConfig selects and configures the file store.
type StoreConfig struct {
	// Type selects the backend.
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	// Extension is the only file suffix accepted and listed.
	Extension string `mapstructure:"extension" yaml:"extension" validate:"required,startswith=."`

	// Filesystem is used when Type = "filesystem". Keys: path, watch.
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// S3 is used when Type = "s3". Keys: region, bucket, key_prefix,
	// endpoint, access_key_id, secret_access_key, max_retries.
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// RequestLogConfig selects and configures the request log sink.
type RequestLogConfig struct {
	// Type selects the sink.
	// Valid values: file, badger, memory
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=file badger memory"`

	// File is used when Type = "file". Keys: path, sync.
	File map[string]any `mapstructure:"file" yaml:"file"`

	// Badger is used when Type = "badger". Keys: path.
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// Exchange uses the adapter's own config type to avoid duplication.
	Exchange exchange.ExchangeConfig `mapstructure:"exchange" yaml:"exchange"`
}

// Load loads configuration from file, environment, and defaults, then
// validates it.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures env overrides, viper-level defaults and the config
// file search.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// scalar default is registered here as well.
	registerViperDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file. A missing file is not an
// error: defaults and environment apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/filedrop, ~/.config/filedrop, or "."
// if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "filedrop")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "filedrop")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists reports whether a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
