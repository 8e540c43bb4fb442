package vm

import (
	"bytes"
	"testing"

	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/types"
)

func TestCollector(t *testing.T) {
	set := metrics.NewSet()
	c := New(WithMetricsSet(set), WithPrefix("test"))
	require.Same(t, set, c.Set())

	c.IncRequestTotal()
	c.IncRequestError(types.ErrorKindReadTimeout)
	c.IncRetry(types.ErrorKindUnavailable)
	c.IncRetry(types.ErrorKind(200))
	c.IncSpeculativeExecution()
	c.IncRequestTimeout()
	c.IncConnectionTimeout()
	c.ObserveRequestDuration(0.01)
	c.IncConnectionOpened("10.0.0.1:9042")
	c.IncConnectionOpened("10.0.0.1:9042")
	c.IncConnectionClosed("10.0.0.1:9042")
	c.SetHostUp("10.0.0.1:9042", true)
	c.SetHostDraining("10.0.0.1:9042", true)
	c.SetHostDraining("10.0.0.1:9042", false)

	var buf bytes.Buffer
	c.WritePrometheus(&buf)
	out := buf.String()

	require.Contains(t, out, "test_requests_total 1\n")
	require.Contains(t, out, `test_request_errors_total{kind="read_timeout"} 1`)
	require.Contains(t, out, `test_retries_total{kind="unavailable"} 1`)
	require.Contains(t, out, `test_retries_total{kind="unknown"} 1`)
	require.Contains(t, out, "test_speculative_executions_total 1\n")
	require.Contains(t, out, "test_request_timeouts_total 1\n")
	require.Contains(t, out, "test_connect_timeouts_total 1\n")
	require.Contains(t, out, `test_connections_opened_total{host="10.0.0.1:9042"} 2`)
	require.Contains(t, out, `test_connections_closed_total{host="10.0.0.1:9042"} 1`)
	require.Contains(t, out, `test_host_up{host="10.0.0.1:9042"} 1`)
	require.Contains(t, out, `test_host_draining{host="10.0.0.1:9042"} 0`)
	require.Contains(t, out, "test_request_duration_seconds_bucket")
}

func TestSessionLabel(t *testing.T) {
	set := metrics.NewSet()
	c := New(WithMetricsSet(set), WithPrefix("test"), WithSessionName("orders"))

	c.IncRequestTotal()
	c.SetHostUp("h:9042", false)

	var buf bytes.Buffer
	c.WritePrometheus(&buf)

	require.Contains(t, buf.String(), `test_requests_total{session="orders"} 1`)
	require.Contains(t, buf.String(), `test_host_up{session="orders",host="h:9042"} 0`)
}
