package prom

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/types"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(WithRegisterer(reg), WithNamespace("test"))

	c.IncRequestTotal()
	c.IncRequestTotal()
	c.IncRequestError(types.ErrorKindOverloaded)
	c.IncRetry(types.ErrorKindUnavailable)
	c.IncRetry(types.ErrorKindUnavailable)
	c.IncSpeculativeExecution()
	c.IncRequestTimeout()
	c.IncPendingRequestTimeout()
	c.ObserveRequestDuration(0.002)
	c.IncConnectionOpened("10.0.0.1:9042")
	c.SetHostUp("10.0.0.1:9042", true)
	c.SetHostDraining("10.0.0.1:9042", false)

	require.InDelta(t, 2, testutil.ToFloat64(c.requests), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.requestErrors.WithLabelValues("overloaded")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(c.retries.WithLabelValues("unavailable")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.speculative), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.timeouts.WithLabelValues("request")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.timeouts.WithLabelValues("pending")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.connsOpened.WithLabelValues("10.0.0.1:9042")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.hostUp.WithLabelValues("10.0.0.1:9042")), 0)
	require.InDelta(t, 0, testutil.ToFloat64(c.hostDraining.WithLabelValues("10.0.0.1:9042")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "test_request_duration_seconds")
	require.Contains(t, names, "test_requests_total")
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(WithRegisterer(reg))

	require.Panics(t, func() { New(WithRegisterer(reg)) })
}
