package cqlcore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/test/testutil"
	"github.com/arloliu/cqlcore/types"
)

func TestSessionMetricsForwardsEvents(t *testing.T) {
	collector := testutil.NewTestMetricsCollector()
	m := newSessionMetrics(collector)
	t.Cleanup(m.stop)

	for range 4 {
		m.IncRequestTotal()
	}
	m.IncSpeculativeExecution()
	m.IncRetry(types.ErrorKindUnavailable)
	m.IncRequestError(types.ErrorKindOverloaded)
	m.IncRequestTimeout()
	m.IncPendingRequestTimeout()
	m.IncConnectionTimeout()
	m.IncConnectionOpened("h1:9042")
	m.IncConnectionOpened("h1:9042")
	m.IncConnectionClosed("h1:9042")

	snap := m.snapshot()
	require.EqualValues(t, 1, snap.Errors.Retries)
	require.EqualValues(t, 1, snap.Errors.RequestErrors)
	require.EqualValues(t, 1, snap.Errors.RequestTimeouts)
	require.EqualValues(t, 1, snap.Errors.PendingRequestTimeouts)
	require.EqualValues(t, 1, snap.Errors.ConnectionTimeouts)
	require.EqualValues(t, 2, snap.Stats.ConnectionsOpened)
	require.EqualValues(t, 1, snap.Stats.ConnectionsClosed)
	require.EqualValues(t, 1, snap.SpeculativeExecutions.Count)
	require.InDelta(t, 25.0, snap.SpeculativeExecutions.Percentage, 1e-9)

	require.EqualValues(t, 4, collector.GetRequests())
	require.EqualValues(t, 1, collector.GetTotalRetries())
	require.EqualValues(t, 1, collector.GetRequestErrors(types.ErrorKindOverloaded))
}

func TestSessionMetricsLatencyPercentiles(t *testing.T) {
	m := newSessionMetrics(testutil.NewTestMetricsCollector())
	t.Cleanup(m.stop)

	require.Zero(t, m.snapshot().Requests.Count)

	for i := 1; i <= 100; i++ {
		m.ObserveRequestDuration(float64(i) / 1000)
	}
	// below the histogram floor is clamped, not dropped
	m.ObserveRequestDuration(0)

	snap := m.snapshot()
	require.EqualValues(t, 101, snap.Requests.Count)
	require.InDelta(t, 0.000001, snap.Requests.Min, 1e-6)
	require.InDelta(t, 0.100, snap.Requests.Max, 0.001)
	require.InDelta(t, 0.050, snap.Requests.Median, 0.002)
	require.InDelta(t, 0.099, snap.Requests.P99, 0.002)
	require.Greater(t, snap.Requests.Mean, 0.0)
}

func TestSessionMetricsRegistry(t *testing.T) {
	m := newSessionMetrics(testutil.NewTestMetricsCollector())
	t.Cleanup(m.stop)

	names := make([]string, 0)
	m.Registry().Each(func(name string, _ any) {
		names = append(names, name)
	})
	require.ElementsMatch(t, []string{
		"requests", "request-errors", "retries", "speculative-executions",
		"request-timeouts", "pending-request-timeouts", "connection-timeouts",
		"connections-opened", "connections-closed",
	}, names)
}
