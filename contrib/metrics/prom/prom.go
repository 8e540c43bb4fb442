// Package prom provides a Prometheus client_golang implementation of the
// MetricsCollector interface.
//
// Register the collector with a registry and serve it with promhttp:
//
//	reg := prometheus.NewRegistry()
//	collector := prom.New(prom.WithRegisterer(reg))
//	session, _ := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1"),
//	    cqlcore.WithMetrics(collector),
//	)
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/cqlcore/types"
)

// Option configures a Collector.
type Option func(*Collector)

// WithNamespace sets the metric namespace. Default: "cqlcore".
func WithNamespace(ns string) Option {
	return func(c *Collector) {
		c.namespace = ns
	}
}

// WithRegisterer sets the registerer the metrics are added to.
//
// Default: prometheus.DefaultRegisterer
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Collector) {
		c.registerer = r
	}
}

// WithDurationBuckets overrides the request duration histogram buckets.
func WithDurationBuckets(buckets []float64) Option {
	return func(c *Collector) {
		c.buckets = buckets
	}
}

// Collector implements types.MetricsCollector with Prometheus vectors.
type Collector struct {
	namespace  string
	registerer prometheus.Registerer
	buckets    []float64

	requests        prometheus.Counter
	requestErrors   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	retries         *prometheus.CounterVec
	speculative     prometheus.Counter
	timeouts        *prometheus.CounterVec
	connsOpened     *prometheus.CounterVec
	connsClosed     *prometheus.CounterVec
	hostUp          *prometheus.GaugeVec
	hostDraining    *prometheus.GaugeVec
}

var _ types.MetricsCollector = (*Collector)(nil)

// New creates a collector and registers its metrics.
//
// It panics if a metric is already registered, like prometheus.MustRegister.
func New(opts ...Option) *Collector {
	c := &Collector{
		namespace:  "cqlcore",
		registerer: prometheus.DefaultRegisterer,
		// requests range from sub-millisecond reads to multi-second timeouts
		buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.requests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "requests_total",
		Help:      "Total count of logical requests.",
	})
	c.requestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "request_errors_total",
		Help:      "Total count of failed requests by error kind.",
	}, []string{"kind"})
	c.requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      "request_duration_seconds",
		Help:      "Time spent in seconds on logical requests, retries included.",
		Buckets:   c.buckets,
	})
	c.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "retries_total",
		Help:      "Total count of retries by the error kind that caused them.",
	}, []string{"kind"})
	c.speculative = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "speculative_executions_total",
		Help:      "Total count of speculative attempts.",
	})
	c.timeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "timeouts_total",
		Help:      "Total count of client side timeouts by type.",
	}, []string{"type"})
	c.connsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "connections_opened_total",
		Help:      "Total count of opened connections.",
	}, []string{"host"})
	c.connsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "connections_closed_total",
		Help:      "Total count of closed connections.",
	}, []string{"host"})
	c.hostUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      "host_up",
		Help:      "Whether the host is up (1) or down (0).",
	}, []string{"host"})
	c.hostDraining = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      "host_draining",
		Help:      "Whether the host is drained by an operator override.",
	}, []string{"host"})

	c.registerer.MustRegister(
		c.requests, c.requestErrors, c.requestDuration, c.retries, c.speculative,
		c.timeouts, c.connsOpened, c.connsClosed, c.hostUp, c.hostDraining,
	)

	return c
}

// IncRequestTotal implements types.MetricsCollector.
func (c *Collector) IncRequestTotal() { c.requests.Inc() }

// IncRequestError implements types.MetricsCollector.
func (c *Collector) IncRequestError(kind types.ErrorKind) {
	c.requestErrors.WithLabelValues(kind.String()).Inc()
}

// ObserveRequestDuration implements types.MetricsCollector.
func (c *Collector) ObserveRequestDuration(seconds float64) { c.requestDuration.Observe(seconds) }

// IncRetry implements types.MetricsCollector.
func (c *Collector) IncRetry(kind types.ErrorKind) {
	c.retries.WithLabelValues(kind.String()).Inc()
}

// IncSpeculativeExecution implements types.MetricsCollector.
func (c *Collector) IncSpeculativeExecution() { c.speculative.Inc() }

// IncRequestTimeout implements types.MetricsCollector.
func (c *Collector) IncRequestTimeout() { c.timeouts.WithLabelValues("request").Inc() }

// IncConnectionTimeout implements types.MetricsCollector.
func (c *Collector) IncConnectionTimeout() { c.timeouts.WithLabelValues("connect").Inc() }

// IncPendingRequestTimeout implements types.MetricsCollector.
func (c *Collector) IncPendingRequestTimeout() { c.timeouts.WithLabelValues("pending").Inc() }

// IncConnectionOpened implements types.MetricsCollector.
func (c *Collector) IncConnectionOpened(host string) { c.connsOpened.WithLabelValues(host).Inc() }

// IncConnectionClosed implements types.MetricsCollector.
func (c *Collector) IncConnectionClosed(host string) { c.connsClosed.WithLabelValues(host).Inc() }

// SetHostUp implements types.MetricsCollector.
func (c *Collector) SetHostUp(host string, up bool) {
	c.hostUp.WithLabelValues(host).Set(gaugeValue(up))
}

// SetHostDraining implements types.MetricsCollector.
func (c *Collector) SetHostDraining(host string, draining bool) {
	c.hostDraining.WithLabelValues(host).Set(gaugeValue(draining))
}

func gaugeValue(v bool) float64 {
	if v {
		return 1
	}

	return 0
}
