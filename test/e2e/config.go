//go:build e2e

package e2e

import (
	"fmt"
	"path/filepath"

	"github.com/marmos91/filedrop/pkg/config"
)

// StoreType selects the file store backing a test run.
type StoreType string

const (
	StoreMemory     StoreType = "memory"
	StoreFilesystem StoreType = "filesystem"
	StoreS3         StoreType = "s3"
)

// LogType selects the request log sink of a test run.
type LogType string

const (
	LogMemory LogType = "memory"
	LogFile   LogType = "file"
	LogBadger LogType = "badger"
)

// TestConfig describes one store/log combination to run the suite against.
type TestConfig struct {
	Name  string
	Store StoreType
	Log   LogType

	// Set by SetupS3Config.
	s3Endpoint string
	s3Bucket   string
}

func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s/%s", tc.Store, tc.Log)
}

// ServerConfig builds a complete server configuration rooted at dir. The
// exchange adapter listens on an ephemeral port.
func (tc *TestConfig) ServerConfig(dir string) (*config.Config, error) {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = "ERROR"
	cfg.Store.Type = string(tc.Store)
	cfg.RequestLog.Type = string(tc.Log)

	switch tc.Store {
	case StoreFilesystem:
		cfg.Store.Filesystem = map[string]any{"path": filepath.Join(dir, "files")}
	case StoreS3:
		if tc.s3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket not initialized (localstack not running?)")
		}
		cfg.Store.S3 = map[string]any{
			"region":            "us-east-1",
			"bucket":            tc.s3Bucket,
			"key_prefix":        "e2e/",
			"endpoint":          tc.s3Endpoint,
			"access_key_id":     "test",
			"secret_access_key": "test",
			"force_path_style":  true,
		}
	}

	switch tc.Log {
	case LogFile:
		cfg.RequestLog.File = map[string]any{"path": filepath.Join(dir, "log.txt")}
	case LogBadger:
		cfg.RequestLog.Badger = map[string]any{"path": filepath.Join(dir, "log.db")}
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	cfg.Adapters.Exchange.Port = 0
	return cfg, nil
}

// AllConfigurations returns the combinations that run without external
// services.
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{Name: "memory-memory", Store: StoreMemory, Log: LogMemory},
		{Name: "filesystem-file", Store: StoreFilesystem, Log: LogFile},
		{Name: "filesystem-badger", Store: StoreFilesystem, Log: LogBadger},
	}
}

// S3Configurations returns the combinations that need Localstack.
func S3Configurations() []*TestConfig {
	return []*TestConfig{
		{Name: "s3-file", Store: StoreS3, Log: LogFile},
		{Name: "s3-badger", Store: StoreS3, Log: LogBadger},
	}
}
