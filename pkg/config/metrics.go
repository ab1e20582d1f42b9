package config

import (
	"github.com/marmos91/filedrop/pkg/metrics"
	promMetrics "github.com/marmos91/filedrop/pkg/metrics/prometheus"
)

// MetricsResult contains the metrics components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Exchange is the collector for the exchange adapter, coordinator and
	// store watcher (never nil, noop if disabled)
	Exchange metrics.ExchangeMetrics
}

// InitializeMetrics creates the metrics components.
//
// If metrics are enabled this initializes the global Prometheus registry
// and returns an HTTP server plus Prometheus-backed collectors. Otherwise it
// returns a nil server and noop collectors.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Exchange: metrics.NewNoopExchangeMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port: cfg.Server.Metrics.Port,
		}),
		Exchange: promMetrics.NewExchangeMetrics(),
	}
}
