// Package metrics provides internal metrics utilities for cqlcore.
package metrics

import "github.com/arloliu/cqlcore/types"

// NopMetrics is a no-op metrics collector that discards all metrics.
//
// This is used as the default metrics collector when no collector is configured,
// avoiding nil checks throughout the codebase.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements types.MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNopMetrics creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A collector that discards all metrics
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// ----------------------
// Requests
// ----------------------

// IncRequestTotal discards the metric.
func (m *NopMetrics) IncRequestTotal() {}

// IncRequestError discards the metric.
func (m *NopMetrics) IncRequestError(_ types.ErrorKind) {}

// ObserveRequestDuration discards the metric.
func (m *NopMetrics) ObserveRequestDuration(_ float64) {}

// IncRetry discards the metric.
func (m *NopMetrics) IncRetry(_ types.ErrorKind) {}

// IncSpeculativeExecution discards the metric.
func (m *NopMetrics) IncSpeculativeExecution() {}

// ----------------------
// Timeouts
// ----------------------

// IncRequestTimeout discards the metric.
func (m *NopMetrics) IncRequestTimeout() {}

// IncConnectionTimeout discards the metric.
func (m *NopMetrics) IncConnectionTimeout() {}

// IncPendingRequestTimeout discards the metric.
func (m *NopMetrics) IncPendingRequestTimeout() {}

// ----------------------
// Connections and hosts
// ----------------------

// IncConnectionOpened discards the metric.
func (m *NopMetrics) IncConnectionOpened(_ string) {}

// IncConnectionClosed discards the metric.
func (m *NopMetrics) IncConnectionClosed(_ string) {}

// SetHostUp discards the metric.
func (m *NopMetrics) SetHostUp(_ string, _ bool) {}

// SetHostDraining discards the metric.
func (m *NopMetrics) SetHostDraining(_ string, _ bool) {}

// OrNop returns m, or a NopMetrics when m is nil.
func OrNop(m types.MetricsCollector) types.MetricsCollector {
	if m == nil {
		return NewNopMetrics()
	}

	return m
}
