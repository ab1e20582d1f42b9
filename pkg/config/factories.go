package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/filedrop/internal/logger"
	"github.com/marmos91/filedrop/pkg/adapter"
	"github.com/marmos91/filedrop/pkg/adapter/exchange"
	"github.com/marmos91/filedrop/pkg/metrics"
	"github.com/marmos91/filedrop/pkg/requestlog"
	"github.com/marmos91/filedrop/pkg/store"
	storefs "github.com/marmos91/filedrop/pkg/store/fs"
	storememory "github.com/marmos91/filedrop/pkg/store/memory"
	stores3 "github.com/marmos91/filedrop/pkg/store/s3"
	"github.com/mitchellh/mapstructure"
)

// filesystemStoreOptions is the decoded store.filesystem section.
type filesystemStoreOptions struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// s3StoreOptions is the decoded store.s3 section.
type s3StoreOptions struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// CreateStore creates the file store selected by cfg.Type, decoding only the
// matching section.
//
// Supported types:
//   - "filesystem": pkg/store/fs (local directory; optional change watcher)
//   - "memory": pkg/store/memory (ephemeral, mainly for tests)
//   - "s3": pkg/store/s3 (Amazon S3 or compatible storage)
//
// When the filesystem watcher is enabled it runs until ctx is cancelled and
// reports every out-of-band change to m.
func CreateStore(ctx context.Context, cfg *StoreConfig, m metrics.ExchangeMetrics) (store.Store, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemStore(ctx, cfg, m)
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return storememory.NewMemoryStore(cfg.Extension), nil
	case "s3":
		return createS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

func createFilesystemStore(ctx context.Context, cfg *StoreConfig, m metrics.ExchangeMetrics) (store.Store, error) {
	var opts filesystemStoreOptions
	if err := mapstructure.WeakDecode(cfg.Filesystem, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem store config: %w", err)
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("filesystem store: path is required")
	}

	s, err := storefs.NewFSStore(ctx, storefs.FSStoreConfig{
		Path:      opts.Path,
		Extension: cfg.Extension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem store: %w", err)
	}

	if opts.Watch {
		if m == nil {
			m = metrics.NewNoopExchangeMetrics()
		}
		go func() {
			err := s.Watch(ctx, func(c storefs.Change) {
				logger.Info("Store change detected: %s %s", c.Op, c.Name)
				m.RecordStoreChange(c.Op)
			})
			if err != nil {
				logger.Warn("Store watcher stopped: %v", err)
			}
		}()
	}

	logger.Info("Filesystem store initialized: path=%s extension=%s watch=%v", opts.Path, cfg.Extension, opts.Watch)
	return s, nil
}

func createS3Store(ctx context.Context, cfg *StoreConfig) (store.Store, error) {
	var opts s3StoreOptions
	if err := mapstructure.WeakDecode(cfg.S3, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 store config: %w", err)
	}

	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 store: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 store: region is required")
	}

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	// Static credentials when given, the default chain otherwise.
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// MinIO and Localstack need path-style addressing.
			o.UsePathStyle = true
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	s, err := stores3.NewS3Store(ctx, stores3.S3StoreConfig{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
		Extension: cfg.Extension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 store: %w", err)
	}

	logger.Info("S3 store initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)

	return s, nil
}

// CreateRequestLog creates the request log sink selected by cfg.Type.
//
// Supported types:
//   - "file": append-only text file, truncated on open
//   - "badger": BadgerDB, emptied on open
//   - "memory": in-process, mainly for tests
func CreateRequestLog(ctx context.Context, cfg *RequestLogConfig) (requestlog.Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "file":
		var sinkCfg requestlog.FileSinkConfig
		if err := mapstructure.WeakDecode(cfg.File, &sinkCfg); err != nil {
			return nil, fmt.Errorf("failed to decode file request log config: %w", err)
		}
		sink, err := requestlog.NewFileSink(sinkCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create request log: %w", err)
		}
		logger.Info("Request log: file %s (sync=%v)", sinkCfg.Path, sinkCfg.Sync)
		return sink, nil

	case "badger":
		var sinkCfg requestlog.BadgerSinkConfig
		if err := mapstructure.WeakDecode(cfg.Badger, &sinkCfg); err != nil {
			return nil, fmt.Errorf("failed to decode badger request log config: %w", err)
		}
		sink, err := requestlog.NewBadgerSink(ctx, sinkCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create request log: %w", err)
		}
		logger.Info("Request log: badger %s", sinkCfg.Path)
		return sink, nil

	case "memory":
		return requestlog.NewMemorySink(), nil

	default:
		return nil, fmt.Errorf("unknown request log type: %q", cfg.Type)
	}
}

// CreateAdapters creates all enabled protocol adapters.
//
// Returns an error when no adapter is enabled.
func CreateAdapters(cfg *Config, m metrics.ExchangeMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.Exchange.Enabled {
		adapters = append(adapters, exchange.New(cfg.Adapters.Exchange, m))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
