package metrics

import "time"

// ExchangeMetrics provides observability for the file exchange adapter.
//
// This interface is optional: components given nil fall back to
// NewNoopExchangeMetrics, which records nothing.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	m := prometheus.NewExchangeMetrics()
//	adapter := exchange.New(config, m)
//
//	// Without metrics (no-op)
//	adapter := exchange.New(config, nil)
type ExchangeMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - command: "list", "put" or "unknown"
	//   - outcome: Short result label (e.g. "ok", "exists", "too_large")
	//   - duration: Time from dispatch to response written
	RecordRequest(command, outcome string, duration time.Duration)

	// RecordBytesReceived adds upload payload bytes read from clients,
	// including bytes of rejected uploads.
	RecordBytesReceived(bytes int64)

	// SetActiveConnections updates the number of connections being served.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed increments the counter of connections closed
	// because the shutdown timeout elapsed.
	RecordConnectionForceClosed()

	// SetQueueDepth updates the number of accepted connections waiting for a
	// worker.
	SetQueueDepth(depth int)

	// RecordLogAppendFailure increments the failed request log appends counter.
	RecordLogAppendFailure()

	// RecordStoreChange records a change to the store directory observed by
	// the filesystem watcher.
	//
	// Parameters:
	//   - op: "create", "write", "remove" or "rename"
	RecordStoreChange(op string)
}

type noopExchangeMetrics struct{}

// NewNoopExchangeMetrics returns an ExchangeMetrics that discards everything.
func NewNoopExchangeMetrics() ExchangeMetrics {
	return noopExchangeMetrics{}
}

func (noopExchangeMetrics) RecordRequest(string, string, time.Duration) {}
func (noopExchangeMetrics) RecordBytesReceived(int64)                   {}
func (noopExchangeMetrics) SetActiveConnections(int32)                  {}
func (noopExchangeMetrics) RecordConnectionAccepted()                   {}
func (noopExchangeMetrics) RecordConnectionClosed()                     {}
func (noopExchangeMetrics) RecordConnectionForceClosed()                {}
func (noopExchangeMetrics) SetQueueDepth(int)                           {}
func (noopExchangeMetrics) RecordLogAppendFailure()                     {}
func (noopExchangeMetrics) RecordStoreChange(string)                    {}
