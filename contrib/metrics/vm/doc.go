// Package vm provides a VictoriaMetrics-based implementation of the MetricsCollector interface.
//
// This package uses github.com/VictoriaMetrics/metrics for lightweight,
// high-performance Prometheus-compatible metrics collection.
//
// # Basic Usage
//
// Create a collector with default prefix "cqlcore":
//
//	collector := vm.New()
//	session, _ := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1"),
//	    cqlcore.WithMetrics(collector),
//	)
//
// # Custom Prefix
//
// Use WithPrefix to customize the metric name prefix:
//
//	collector := vm.New(vm.WithPrefix("myapp"))
//
// This produces metrics like:
//   - myapp_requests_total
//   - myapp_request_errors_total{kind="overloaded"}
//
// # Exposing Metrics
//
// Use the Handler method to expose metrics via HTTP:
//
//	http.HandleFunc("/metrics", collector.Handler)
//	http.ListenAndServe(":8080", nil)
//
// Or use WritePrometheus to write metrics to a custom writer:
//
//	collector.WritePrometheus(w)
//
// # Metrics Provided
//
// Requests:
//   - {prefix}_requests_total - Counter of logical requests
//   - {prefix}_request_errors_total{kind} - Counter of failed requests by error kind
//   - {prefix}_request_duration_seconds - Histogram of request latencies
//   - {prefix}_retries_total{kind} - Counter of retries by the error kind that caused them
//   - {prefix}_speculative_executions_total - Counter of speculative attempts
//
// Timeouts:
//   - {prefix}_request_timeouts_total - Counter of client side request timeouts
//   - {prefix}_connect_timeouts_total - Counter of connect timeouts
//   - {prefix}_pending_request_timeouts_total - Counter of requests that timed out waiting for a connection
//
// Hosts:
//   - {prefix}_connections_opened_total{host} - Counter of opened connections
//   - {prefix}_connections_closed_total{host} - Counter of closed connections
//   - {prefix}_host_up{host} - Gauge (1=up, 0=down)
//   - {prefix}_host_draining{host} - Gauge (1=drained by an override, 0=in rotation)
//
// # Performance Notes
//
// Request metrics are pre-created at initialization time using the NewXXX
// pattern (instead of GetOrCreateXXX) for the hot path. Host metrics are
// created once per host on first use.
//
// The metrics are registered with a dedicated Set that is registered
// globally, allowing standard Prometheus scraping.
package vm
