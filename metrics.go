package cqlcore

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/arloliu/cqlcore/types"
)

// Latency histogram bounds, in microseconds.
const (
	histogramMinMicros = 1
	histogramMaxMicros = int64(10 * time.Minute / time.Microsecond)
	histogramSigFigs   = 3
)

// MetricsSnapshot is a point in time view of the session metrics.
type MetricsSnapshot struct {
	Requests              RequestMetrics
	Stats                 ConnectionStats
	Errors                ErrorMetrics
	SpeculativeExecutions SpeculativeMetrics
}

// RequestMetrics describes request latency, in seconds, and request rates,
// in requests per second.
type RequestMetrics struct {
	Count             int64
	Min               float64
	Max               float64
	Mean              float64
	StdDev            float64
	Median            float64
	P75               float64
	P95               float64
	P98               float64
	P99               float64
	P999              float64
	MeanRate          float64
	OneMinuteRate     float64
	FiveMinuteRate    float64
	FifteenMinuteRate float64
}

// ConnectionStats counts connections.
type ConnectionStats struct {
	// TotalConnections is the number of open connections.
	TotalConnections int
	// AvailableConnections is the number of open connections below their
	// high water mark.
	AvailableConnections int
	// ConnectionsOpened and ConnectionsClosed are lifetime totals.
	ConnectionsOpened int64
	ConnectionsClosed int64
}

// ErrorMetrics counts client side failures.
type ErrorMetrics struct {
	ConnectionTimeouts     int64
	PendingRequestTimeouts int64
	RequestTimeouts        int64
	RequestErrors          int64
	Retries                int64
}

// SpeculativeMetrics counts speculative attempts.
type SpeculativeMetrics struct {
	Count int64
	// Percentage is Count relative to all requests, in 0..100.
	Percentage float64
}

// sessionMetrics aggregates the session's own metrics and forwards every
// event to the configured collector.
type sessionMetrics struct {
	next types.MetricsCollector

	registry           gometrics.Registry
	requests           gometrics.Meter
	requestErrors      gometrics.Counter
	retries            gometrics.Counter
	speculative        gometrics.Counter
	requestTimeouts    gometrics.Counter
	pendingTimeouts    gometrics.Counter
	connectionTimeouts gometrics.Counter
	connectionsOpened  gometrics.Counter
	connectionsClosed  gometrics.Counter

	mu      sync.Mutex
	latency *hdrhistogram.Histogram
}

var _ types.MetricsCollector = (*sessionMetrics)(nil)

func newSessionMetrics(next types.MetricsCollector) *sessionMetrics {
	m := &sessionMetrics{
		next:               next,
		registry:           gometrics.NewRegistry(),
		requests:           gometrics.NewMeter(),
		requestErrors:      gometrics.NewCounter(),
		retries:            gometrics.NewCounter(),
		speculative:        gometrics.NewCounter(),
		requestTimeouts:    gometrics.NewCounter(),
		pendingTimeouts:    gometrics.NewCounter(),
		connectionTimeouts: gometrics.NewCounter(),
		connectionsOpened:  gometrics.NewCounter(),
		connectionsClosed:  gometrics.NewCounter(),
		latency:            hdrhistogram.New(histogramMinMicros, histogramMaxMicros, histogramSigFigs),
	}

	_ = m.registry.Register("requests", m.requests)
	_ = m.registry.Register("request-errors", m.requestErrors)
	_ = m.registry.Register("retries", m.retries)
	_ = m.registry.Register("speculative-executions", m.speculative)
	_ = m.registry.Register("request-timeouts", m.requestTimeouts)
	_ = m.registry.Register("pending-request-timeouts", m.pendingTimeouts)
	_ = m.registry.Register("connection-timeouts", m.connectionTimeouts)
	_ = m.registry.Register("connections-opened", m.connectionsOpened)
	_ = m.registry.Register("connections-closed", m.connectionsClosed)

	return m
}

func (m *sessionMetrics) IncRequestTotal() {
	m.requests.Mark(1)
	m.next.IncRequestTotal()
}

func (m *sessionMetrics) IncRequestError(kind types.ErrorKind) {
	m.requestErrors.Inc(1)
	m.next.IncRequestError(kind)
}

func (m *sessionMetrics) ObserveRequestDuration(seconds float64) {
	micros := int64(seconds * float64(time.Second/time.Microsecond))
	micros = max(histogramMinMicros, min(micros, histogramMaxMicros))

	m.mu.Lock()
	_ = m.latency.RecordValue(micros)
	m.mu.Unlock()

	m.next.ObserveRequestDuration(seconds)
}

func (m *sessionMetrics) IncRetry(kind types.ErrorKind) {
	m.retries.Inc(1)
	m.next.IncRetry(kind)
}

func (m *sessionMetrics) IncSpeculativeExecution() {
	m.speculative.Inc(1)
	m.next.IncSpeculativeExecution()
}

func (m *sessionMetrics) IncRequestTimeout() {
	m.requestTimeouts.Inc(1)
	m.next.IncRequestTimeout()
}

func (m *sessionMetrics) IncConnectionTimeout() {
	m.connectionTimeouts.Inc(1)
	m.next.IncConnectionTimeout()
}

func (m *sessionMetrics) IncPendingRequestTimeout() {
	m.pendingTimeouts.Inc(1)
	m.next.IncPendingRequestTimeout()
}

func (m *sessionMetrics) IncConnectionOpened(host string) {
	m.connectionsOpened.Inc(1)
	m.next.IncConnectionOpened(host)
}

func (m *sessionMetrics) IncConnectionClosed(host string) {
	m.connectionsClosed.Inc(1)
	m.next.IncConnectionClosed(host)
}

func (m *sessionMetrics) SetHostUp(host string, up bool) {
	m.next.SetHostUp(host, up)
}

func (m *sessionMetrics) SetHostDraining(host string, draining bool) {
	m.next.SetHostDraining(host, draining)
}

// snapshot builds a MetricsSnapshot; connection counts are filled by the session.
func (m *sessionMetrics) snapshot() MetricsSnapshot {
	toSeconds := func(micros int64) float64 {
		return float64(micros) / float64(time.Second/time.Microsecond)
	}

	var snap MetricsSnapshot

	m.mu.Lock()
	h := m.latency
	if h.TotalCount() > 0 {
		snap.Requests = RequestMetrics{
			Count:  h.TotalCount(),
			Min:    toSeconds(h.Min()),
			Max:    toSeconds(h.Max()),
			Mean:   h.Mean() / float64(time.Second/time.Microsecond),
			StdDev: h.StdDev() / float64(time.Second/time.Microsecond),
			Median: toSeconds(h.ValueAtQuantile(50)),
			P75:    toSeconds(h.ValueAtQuantile(75)),
			P95:    toSeconds(h.ValueAtQuantile(95)),
			P98:    toSeconds(h.ValueAtQuantile(98)),
			P99:    toSeconds(h.ValueAtQuantile(99)),
			P999:   toSeconds(h.ValueAtQuantile(99.9)),
		}
	}
	m.mu.Unlock()

	rates := m.requests.Snapshot()
	snap.Requests.MeanRate = rates.RateMean()
	snap.Requests.OneMinuteRate = rates.Rate1()
	snap.Requests.FiveMinuteRate = rates.Rate5()
	snap.Requests.FifteenMinuteRate = rates.Rate15()

	snap.Stats.ConnectionsOpened = m.connectionsOpened.Count()
	snap.Stats.ConnectionsClosed = m.connectionsClosed.Count()

	snap.Errors = ErrorMetrics{
		ConnectionTimeouts:     m.connectionTimeouts.Count(),
		PendingRequestTimeouts: m.pendingTimeouts.Count(),
		RequestTimeouts:        m.requestTimeouts.Count(),
		RequestErrors:          m.requestErrors.Count(),
		Retries:                m.retries.Count(),
	}

	snap.SpeculativeExecutions.Count = m.speculative.Count()
	if total := rates.Count(); total > 0 {
		snap.SpeculativeExecutions.Percentage = float64(snap.SpeculativeExecutions.Count) * 100 / float64(total)
	}

	return snap
}

// Registry exposes the underlying go-metrics registry for reporters.
func (m *sessionMetrics) Registry() gometrics.Registry {
	return m.registry
}

// stop releases the rate meter.
func (m *sessionMetrics) stop() {
	m.requests.Stop()
}
