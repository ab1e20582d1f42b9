// Package prometheus provides Prometheus-backed implementations of the
// interfaces in pkg/metrics.
package prometheus

import (
	"time"

	"github.com/marmos91/filedrop/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// exchangeMetrics is the Prometheus implementation of metrics.ExchangeMetrics.
type exchangeMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	bytesReceived          prometheus.Counter
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	queueDepth             prometheus.Gauge
	logAppendFailures      prometheus.Counter
	storeChanges           *prometheus.CounterVec
}

// NewExchangeMetrics registers the exchange metrics on the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not
// called). Call it at most once per registry; promauto panics on duplicate
// registration.
func NewExchangeMetrics() metrics.ExchangeMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopExchangeMetrics()
	}
	return newExchangeMetrics(metrics.GetRegistry())
}

func newExchangeMetrics(reg prometheus.Registerer) *exchangeMetrics {
	return &exchangeMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedrop_requests_total",
				Help: "Total number of requests by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "filedrop_request_duration_seconds",
				Help: "Duration of requests in seconds, dispatch to response",
				Buckets: []float64{
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.025,  // 25ms
					0.1,    // 100ms
					0.5,    // 500ms
					2.5,    // 2.5s
					10.0,   // 10s
				},
			},
			[]string{"command"},
		),
		bytesReceived: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "filedrop_upload_bytes_received_total",
				Help: "Total upload payload bytes read from clients",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "filedrop_active_connections",
				Help: "Current number of connections being served",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "filedrop_connections_accepted_total",
				Help: "Total number of accepted connections",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "filedrop_connections_closed_total",
				Help: "Total number of closed connections",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "filedrop_connections_force_closed_total",
				Help: "Connections closed because the shutdown timeout elapsed",
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "filedrop_queue_depth",
				Help: "Accepted connections waiting for a worker",
			},
		),
		logAppendFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "filedrop_request_log_append_failures_total",
				Help: "Request log records that could not be written",
			},
		),
		storeChanges: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedrop_store_changes_total",
				Help: "Store directory changes reported by the filesystem watcher",
			},
			[]string{"op"},
		),
	}
}

func (m *exchangeMetrics) RecordRequest(command, outcome string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(command, outcome).Inc()
	m.requestDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (m *exchangeMetrics) RecordBytesReceived(bytes int64) {
	if bytes > 0 {
		m.bytesReceived.Add(float64(bytes))
	}
}

func (m *exchangeMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *exchangeMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *exchangeMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *exchangeMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *exchangeMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *exchangeMetrics) RecordLogAppendFailure() {
	m.logAppendFailures.Inc()
}

func (m *exchangeMetrics) RecordStoreChange(op string) {
	m.storeChanges.WithLabelValues(op).Inc()
}
