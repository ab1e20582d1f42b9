package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# filedrop Configuration File
#
# Every value below is the built-in default. Any key can be overridden with
# an environment variable: FILEDROP_<SECTION>_<KEY>, for example
# FILEDROP_ADAPTERS_EXCHANGE_PORT=9500 or FILEDROP_LOGGING_LEVEL=DEBUG.

`

// InitConfig writes a commented default config file to the default
// location and returns its path. An existing file is only replaced when
// force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default config file to path,
// creating parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
		}
	}

	data, err := GenerateDefaultYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// field is one key of the generated document. value is either a scalar or
// a nested []field.
type field struct {
	key     string
	comment string
	value   any
}

// GenerateDefaultYAML renders GetDefaultConfig as commented YAML.
func GenerateDefaultYAML() ([]byte, error) {
	cfg := GetDefaultConfig()
	ex := cfg.Adapters.Exchange

	doc := []field{
		{"logging", "Log output of the server process.", []field{
			{"level", "DEBUG, INFO, WARN or ERROR", cfg.Logging.Level},
			{"format", "text or json", cfg.Logging.Format},
			{"output", "stdout, stderr or a file path", cfg.Logging.Output},
		}},
		{"server", "", []field{
			{"shutdown_timeout", "How long to wait for adapters to stop", duration(cfg.Server.ShutdownTimeout)},
			{"metrics", "Prometheus endpoint (/metrics and /healthz)", []field{
				{"enabled", "", cfg.Server.Metrics.Enabled},
				{"port", "", cfg.Server.Metrics.Port},
			}},
		}},
		{"store", "Where uploaded files are kept.", []field{
			{"type", "filesystem, memory or s3", cfg.Store.Type},
			{"extension", "Only files with this suffix can be uploaded and listed", cfg.Store.Extension},
			{"filesystem", "", []field{
				{"path", "", cfg.Store.Filesystem["path"]},
				{"watch", "Log and count changes made to the directory by other processes", false},
			}},
			{"s3", "Used when type is s3. endpoint enables path-style access (MinIO, Localstack).", []field{
				{"region", "", "us-east-1"},
				{"bucket", "", ""},
				{"key_prefix", "", ""},
				{"endpoint", "", ""},
			}},
		}},
		{"request_log", "One line per list or put request: date|time|client-ip|command", []field{
			{"type", "file, badger or memory", cfg.RequestLog.Type},
			{"file", "Truncated at startup", []field{
				{"path", "", cfg.RequestLog.File["path"]},
				{"sync", "fsync after every record", false},
			}},
			{"badger", "Emptied at startup", []field{
				{"path", "", filepath.Join(".", "requestlog.db")},
			}},
		}},
		{"adapters", "", []field{
			{"exchange", "The list/put TCP protocol.", []field{
				{"enabled", "", ex.Enabled},
				{"port", "", ex.Port},
				{"workers", "Connections served concurrently", ex.Workers},
				{"queue_size", "Accepted connections waiting for a worker", ex.QueueSize},
				{"max_file_size", "Largest accepted upload in bytes", ex.MaxFileSize},
				{"chunk_size", "Read buffer size while receiving", ex.ChunkSize},
				{"drain_limit", "Bytes of a rejected upload read before closing; -1 disables", ex.DrainLimit},
				{"accept_rate", "New connections per second; 0 disables", ex.AcceptRate},
				{"accept_burst", "", ex.AcceptBurst},
				{"read_timeout", "0 disables", duration(ex.ReadTimeout)},
				{"write_timeout", "0 disables", duration(ex.WriteTimeout)},
				{"shutdown_timeout", "Wait for in-flight requests before force-closing", duration(ex.ShutdownTimeout)},
			}},
		}},
	}

	root, err := mappingNode(doc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("failed to encode default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode default config: %w", err)
	}
	return buf.Bytes(), nil
}

func mappingNode(fields []field) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}

	for _, f := range fields {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: f.key, HeadComment: f.comment}

		var value *yaml.Node
		if nested, ok := f.value.([]field); ok {
			n, err := mappingNode(nested)
			if err != nil {
				return nil, err
			}
			value = n
		} else {
			value = &yaml.Node{}
			if err := value.Encode(f.value); err != nil {
				return nil, fmt.Errorf("failed to encode %s: %w", f.key, err)
			}
		}

		node.Content = append(node.Content, key, value)
	}
	return node, nil
}

// duration renders d the way viper parses it back.
func duration(d time.Duration) string {
	return d.String()
}
