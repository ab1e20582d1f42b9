package coordinator

import "time"

// noopMetrics lets tests override a single ExchangeMetrics method.
type noopMetrics struct{}

func (noopMetrics) RecordRequest(string, string, time.Duration) {}
func (noopMetrics) RecordBytesReceived(int64)                   {}
func (noopMetrics) SetActiveConnections(int32)                  {}
func (noopMetrics) RecordConnectionAccepted()                   {}
func (noopMetrics) RecordConnectionClosed()                     {}
func (noopMetrics) RecordConnectionForceClosed()                {}
func (noopMetrics) SetQueueDepth(int)                           {}
func (noopMetrics) RecordLogAppendFailure()                     {}
func (noopMetrics) RecordStoreChange(string)                    {}
