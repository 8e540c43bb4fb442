package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/cqlcore/types"
)

// TestMetricsCollector is a test implementation of types.MetricsCollector
// that tracks method calls for assertion in tests.
type TestMetricsCollector struct {
	mu sync.RWMutex

	// Requests
	RequestErrors map[types.ErrorKind]int64
	Retries       map[types.ErrorKind]int64
	Durations     []float64

	// Connections, keyed by host endpoint
	ConnectionsOpened map[string]int64
	ConnectionsClosed map[string]int64
	HostUp            map[string]bool
	HostDraining      map[string]bool

	// Atomic counters for quick access
	requests               atomic.Int64
	speculative            atomic.Int64
	requestTimeouts        atomic.Int64
	connectionTimeouts     atomic.Int64
	pendingRequestTimeouts atomic.Int64
}

// Compile-time assertion that TestMetricsCollector implements types.MetricsCollector.
var _ types.MetricsCollector = (*TestMetricsCollector)(nil)

// NewTestMetricsCollector creates a new test metrics collector.
func NewTestMetricsCollector() *TestMetricsCollector {
	m := &TestMetricsCollector{}
	m.Reset()

	return m
}

// ----------------------
// Requests
// ----------------------

func (m *TestMetricsCollector) IncRequestTotal() {
	m.requests.Add(1)
}

func (m *TestMetricsCollector) IncRequestError(kind types.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestErrors[kind]++
}

func (m *TestMetricsCollector) ObserveRequestDuration(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Durations = append(m.Durations, seconds)
}

func (m *TestMetricsCollector) IncRetry(kind types.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Retries[kind]++
}

func (m *TestMetricsCollector) IncSpeculativeExecution() {
	m.speculative.Add(1)
}

// ----------------------
// Timeouts
// ----------------------

func (m *TestMetricsCollector) IncRequestTimeout() {
	m.requestTimeouts.Add(1)
}

func (m *TestMetricsCollector) IncConnectionTimeout() {
	m.connectionTimeouts.Add(1)
}

func (m *TestMetricsCollector) IncPendingRequestTimeout() {
	m.pendingRequestTimeouts.Add(1)
}

// ----------------------
// Connections and hosts
// ----------------------

func (m *TestMetricsCollector) IncConnectionOpened(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectionsOpened[host]++
}

func (m *TestMetricsCollector) IncConnectionClosed(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectionsClosed[host]++
}

func (m *TestMetricsCollector) SetHostUp(host string, up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HostUp[host] = up
}

func (m *TestMetricsCollector) SetHostDraining(host string, draining bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HostDraining[host] = draining
}

// ----------------------
// Test Helpers
// ----------------------

// GetRequests returns the number of logical requests started.
func (m *TestMetricsCollector) GetRequests() int64 {
	return m.requests.Load()
}

// GetSpeculativeExecutions returns the number of speculative attempts.
func (m *TestMetricsCollector) GetSpeculativeExecutions() int64 {
	return m.speculative.Load()
}

// GetRequestTimeouts returns the number of client side request timeouts.
func (m *TestMetricsCollector) GetRequestTimeouts() int64 {
	return m.requestTimeouts.Load()
}

// GetPendingRequestTimeouts returns the number of requests that timed out
// while waiting for a connection.
func (m *TestMetricsCollector) GetPendingRequestTimeouts() int64 {
	return m.pendingRequestTimeouts.Load()
}

// GetConnectionTimeouts returns the number of connect timeouts.
func (m *TestMetricsCollector) GetConnectionTimeouts() int64 {
	return m.connectionTimeouts.Load()
}

// GetRequestErrors returns the failed request count for an error kind.
func (m *TestMetricsCollector) GetRequestErrors(kind types.ErrorKind) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestErrors[kind]
}

// GetTotalRetries returns the retry count across all error kinds.
func (m *TestMetricsCollector) GetTotalRetries() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, n := range m.Retries {
		total += n
	}

	return total
}

// GetHostUp returns the last reported state of a host and whether one was
// reported at all.
func (m *TestMetricsCollector) GetHostUp(host string) (up, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	up, ok = m.HostUp[host]

	return up, ok
}

// GetConnectionsOpened returns the opened connection count for a host.
func (m *TestMetricsCollector) GetConnectionsOpened(host string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConnectionsOpened[host]
}

// Reset clears all collected metrics.
func (m *TestMetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RequestErrors = make(map[types.ErrorKind]int64)
	m.Retries = make(map[types.ErrorKind]int64)
	m.Durations = nil
	m.ConnectionsOpened = make(map[string]int64)
	m.ConnectionsClosed = make(map[string]int64)
	m.HostUp = make(map[string]bool)
	m.HostDraining = make(map[string]bool)

	m.requests.Store(0)
	m.speculative.Store(0)
	m.requestTimeouts.Store(0)
	m.connectionTimeouts.Store(0)
	m.pendingRequestTimeouts.Store(0)
}
