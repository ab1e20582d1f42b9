package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs validation that cannot be expressed in tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.Exchange.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	ex := cfg.Adapters.Exchange
	if ex.Workers < 1 {
		return fmt.Errorf("adapters.exchange.workers: must be >= 1, got %d", ex.Workers)
	}
	if ex.MaxFileSize < 1 {
		return fmt.Errorf("adapters.exchange.max_file_size: must be >= 1, got %d", ex.MaxFileSize)
	}
	if ex.ChunkSize < 1 {
		return fmt.Errorf("adapters.exchange.chunk_size: must be >= 1, got %d", ex.ChunkSize)
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == ex.Port {
		return fmt.Errorf("server.metrics.port: %d conflicts with adapters.exchange.port", ex.Port)
	}

	switch cfg.Store.Type {
	case "filesystem":
		if path, _ := cfg.Store.Filesystem["path"].(string); path == "" {
			return fmt.Errorf("store.filesystem.path: required when store.type is filesystem")
		}
	case "s3":
		if bucket, _ := cfg.Store.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("store.s3.bucket: required when store.type is s3")
		}
	}

	switch cfg.RequestLog.Type {
	case "file":
		if path, _ := cfg.RequestLog.File["path"].(string); path == "" {
			return fmt.Errorf("request_log.file.path: required when request_log.type is file")
		}
	case "badger":
		if path, _ := cfg.RequestLog.Badger["path"].(string); path == "" {
			return fmt.Errorf("request_log.badger.path: required when request_log.type is badger")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
