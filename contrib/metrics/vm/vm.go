package vm

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"

	"github.com/arloliu/cqlcore/types"
)

// Option configures a Collector.
type Option func(*Collector)

// WithPrefix sets the metric name prefix.
//
// Default: "cqlcore"
//
// Parameters:
//   - prefix: The prefix to use for all metric names
//
// Returns:
//   - Option: A configuration option
func WithPrefix(prefix string) Option {
	return func(c *Collector) {
		c.prefix = prefix
	}
}

// WithSessionName adds a session="name" label to every metric.
//
// Use it when several sessions of one process export to the same set.
//
// Parameters:
//   - name: The session label value
//
// Returns:
//   - Option: A configuration option
func WithSessionName(name string) Option {
	return func(c *Collector) {
		c.session = name
	}
}

// WithMetricsSet sets the metrics set to use.
//
// If provided, the collector will register metrics with this set instead of
// creating a new one. The caller is responsible for exposing this set
// (e.g., via metrics.WritePrometheus or a custom handler).
//
// Parameters:
//   - set: The metrics set to use
//
// Returns:
//   - Option: A configuration option
func WithMetricsSet(set *metrics.Set) Option {
	return func(c *Collector) {
		c.set = set
	}
}

// Collector implements types.MetricsCollector using VictoriaMetrics.
//
// Request metrics are pre-created at initialization time; per-host metrics
// are created the first time a host is seen. Thread-safe for concurrent use.
type Collector struct {
	set     *metrics.Set
	prefix  string
	session string

	// Request metrics
	requestTotal    *metrics.Counter
	requestDuration *metrics.Histogram
	requestErrors   []*metrics.Counter
	retries         []*metrics.Counter
	speculative     *metrics.Counter

	// Timeout metrics
	requestTimeouts *metrics.Counter
	connectTimeouts *metrics.Counter
	pendingTimeouts *metrics.Counter

	// Host metrics
	connectionsOpened sync.Map // host -> *metrics.Counter
	connectionsClosed sync.Map // host -> *metrics.Counter
	hostUp            sync.Map // host -> *atomic.Int64
	hostDraining      sync.Map // host -> *atomic.Int64
	gaugeMu           sync.Mutex
}

var _ types.MetricsCollector = (*Collector)(nil)

// New creates a new VictoriaMetrics-based metrics collector.
//
// The collector creates its own metrics.Set and registers it globally.
//
// Parameters:
//   - opts: Configuration options (e.g., WithPrefix)
//
// Returns:
//   - *Collector: A new metrics collector ready for use
//
// Example:
//
//	collector := vm.New(vm.WithPrefix("myapp"))
//	session, _ := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1"),
//	    cqlcore.WithMetrics(collector),
//	)
func New(opts ...Option) *Collector {
	c := &Collector{
		prefix: "cqlcore",
	}

	for _, opt := range opts {
		opt(c)
	}

	// If no set is provided, create a new one and register it globally.
	// If a set is provided, we assume the caller manages it.
	if c.set == nil {
		c.set = metrics.NewSet()
		metrics.RegisterSet(c.set)
	}

	c.initMetrics()

	return c
}

// name builds a metric name with the session label and extra labels.
func (c *Collector) name(metric string, labels ...string) string {
	var l string
	if c.session != "" {
		l = fmt.Sprintf(`session=%q`, c.session)
	}
	for i := 0; i+1 < len(labels); i += 2 {
		if l != "" {
			l += ","
		}
		l += fmt.Sprintf(`%s=%q`, labels[i], labels[i+1])
	}

	if l == "" {
		return c.prefix + "_" + metric
	}

	return c.prefix + "_" + metric + "{" + l + "}"
}

// initMetrics pre-creates the request metrics with the configured prefix.
func (c *Collector) initMetrics() {
	c.requestTotal = c.set.NewCounter(c.name("requests_total"))
	c.requestDuration = c.set.NewHistogram(c.name("request_duration_seconds"))
	c.speculative = c.set.NewCounter(c.name("speculative_executions_total"))

	kinds := int(types.ErrorKindConnectionLost) + 1
	c.requestErrors = make([]*metrics.Counter, kinds)
	c.retries = make([]*metrics.Counter, kinds)
	for k := range kinds {
		kind := types.ErrorKind(k).String()
		c.requestErrors[k] = c.set.NewCounter(c.name("request_errors_total", "kind", kind))
		c.retries[k] = c.set.NewCounter(c.name("retries_total", "kind", kind))
	}

	c.requestTimeouts = c.set.NewCounter(c.name("request_timeouts_total"))
	c.connectTimeouts = c.set.NewCounter(c.name("connect_timeouts_total"))
	c.pendingTimeouts = c.set.NewCounter(c.name("pending_request_timeouts_total"))
}

// Set returns the metrics set the collector registers with.
func (c *Collector) Set() *metrics.Set {
	return c.set
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
//
// Example:
//
//	http.HandleFunc("/metrics", collector.Handler)
func (c *Collector) Handler(w http.ResponseWriter, _ *http.Request) {
	c.set.WritePrometheus(w)
}

// WritePrometheus writes all metrics in Prometheus format to the given writer.
//
// Parameters:
//   - w: The writer to write metrics to
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

func (c *Collector) kindCounter(counters []*metrics.Counter, kind types.ErrorKind) *metrics.Counter {
	if int(kind) >= len(counters) {
		return counters[types.ErrorKindUnknown]
	}

	return counters[kind]
}

func (c *Collector) hostCounter(m *sync.Map, metric, host string) *metrics.Counter {
	if v, ok := m.Load(host); ok {
		return v.(*metrics.Counter)
	}

	v, _ := m.LoadOrStore(host, c.set.GetOrCreateCounter(c.name(metric, "host", host)))

	return v.(*metrics.Counter)
}

func (c *Collector) hostGauge(m *sync.Map, metric, host string) *atomic.Int64 {
	if v, ok := m.Load(host); ok {
		return v.(*atomic.Int64)
	}

	c.gaugeMu.Lock()
	defer c.gaugeMu.Unlock()

	if v, ok := m.Load(host); ok {
		return v.(*atomic.Int64)
	}
	val := new(atomic.Int64)
	c.set.NewGauge(c.name(metric, "host", host), func() float64 {
		return float64(val.Load())
	})
	m.Store(host, val)

	return val
}

// ----------------------
// Requests
// ----------------------

// IncRequestTotal increments the logical request counter.
func (c *Collector) IncRequestTotal() {
	c.requestTotal.Inc()
}

// IncRequestError increments the failed request counter of kind.
func (c *Collector) IncRequestError(kind types.ErrorKind) {
	c.kindCounter(c.requestErrors, kind).Inc()
}

// ObserveRequestDuration records a request duration in seconds.
func (c *Collector) ObserveRequestDuration(seconds float64) {
	c.requestDuration.Update(seconds)
}

// IncRetry increments the retry counter of kind.
func (c *Collector) IncRetry(kind types.ErrorKind) {
	c.kindCounter(c.retries, kind).Inc()
}

// IncSpeculativeExecution increments the speculative attempt counter.
func (c *Collector) IncSpeculativeExecution() {
	c.speculative.Inc()
}

// ----------------------
// Timeouts
// ----------------------

// IncRequestTimeout increments the request timeout counter.
func (c *Collector) IncRequestTimeout() {
	c.requestTimeouts.Inc()
}

// IncConnectionTimeout increments the connect timeout counter.
func (c *Collector) IncConnectionTimeout() {
	c.connectTimeouts.Inc()
}

// IncPendingRequestTimeout increments the pending request timeout counter.
func (c *Collector) IncPendingRequestTimeout() {
	c.pendingTimeouts.Inc()
}

// ----------------------
// Connections and hosts
// ----------------------

// IncConnectionOpened increments the opened connection counter of host.
func (c *Collector) IncConnectionOpened(host string) {
	c.hostCounter(&c.connectionsOpened, "connections_opened_total", host).Inc()
}

// IncConnectionClosed increments the closed connection counter of host.
func (c *Collector) IncConnectionClosed(host string) {
	c.hostCounter(&c.connectionsClosed, "connections_closed_total", host).Inc()
}

// SetHostUp sets the host state gauge.
func (c *Collector) SetHostUp(host string, up bool) {
	c.hostGauge(&c.hostUp, "host_up", host).Store(boolValue(up))
}

// SetHostDraining sets the host drain gauge.
func (c *Collector) SetHostDraining(host string, draining bool) {
	c.hostGauge(&c.hostDraining, "host_draining", host).Store(boolValue(draining))
}

func boolValue(v bool) int64 {
	if v {
		return 1
	}

	return 0
}
