package types

// Logger is the structured logging interface used throughout the driver.
//
// Messages are constant strings; context is passed as alternating key/value
// pairs. Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MetricsCollector defines methods for exporting operational metrics.
//
// The session keeps its own in-process histogram and meters for
// Session.Metrics(); a MetricsCollector receives the same events for export
// to an external system. Implementations should be thread-safe as methods are
// called concurrently from request goroutines.
//
// Example usage with VictoriaMetrics (via contrib/metrics/vm):
//
//	import vmmetrics "github.com/arloliu/cqlcore/contrib/metrics/vm"
//
//	collector := vmmetrics.New(vmmetrics.WithPrefix("myapp"))
//	session, _ := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1"),
//	    cqlcore.WithMetrics(collector),
//	)
//
//	http.HandleFunc("/metrics", collector.Handler)
type MetricsCollector interface {
	// ----------------------
	// Requests
	// ----------------------

	// IncRequestTotal increments the logical request counter.
	IncRequestTotal()

	// IncRequestError increments the failed logical request counter.
	IncRequestError(kind ErrorKind)

	// ObserveRequestDuration records a logical request duration in seconds.
	ObserveRequestDuration(seconds float64)

	// IncRetry increments the retry counter for the failure kind that caused it.
	IncRetry(kind ErrorKind)

	// IncSpeculativeExecution increments the speculative attempt counter.
	IncSpeculativeExecution()

	// ----------------------
	// Timeouts
	// ----------------------

	// IncRequestTimeout increments the client side request timeout counter.
	IncRequestTimeout()

	// IncConnectionTimeout increments the connect timeout counter.
	IncConnectionTimeout()

	// IncPendingRequestTimeout increments the counter of requests that timed
	// out before a connection could be acquired.
	IncPendingRequestTimeout()

	// ----------------------
	// Connections and hosts
	// ----------------------

	// IncConnectionOpened increments the opened connection counter for a host.
	IncConnectionOpened(host string)

	// IncConnectionClosed increments the closed connection counter for a host.
	IncConnectionClosed(host string)

	// SetHostUp sets the host state gauge. Value: 1 if up, 0 if down.
	SetHostUp(host string, up bool)

	// SetHostDraining sets the host drain gauge. Value: 1 if drained by an
	// operator override, 0 otherwise.
	SetHostDraining(host string, draining bool)
}
