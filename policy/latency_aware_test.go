package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyAwareMovesSlowHostLast(t *testing.T) {
	reg, hosts := threeHosts(t)
	p := NewLatencyAware(NewRoundRobin(),
		WithMinMeasured(1),
		WithUpdateRate(0),
		WithExclusionThreshold(2.0),
	)
	p.Init(reg)

	RecordLatency(p, hosts[0], 10*time.Millisecond)
	RecordLatency(p, hosts[1], 100*time.Millisecond)
	RecordLatency(p, hosts[2], 12*time.Millisecond)

	for i := 0; i < 6; i++ {
		plan := drain(p.NewQueryPlan("", RoutingInfo{}))
		require.Len(t, plan, 3)
		assert.Same(t, hosts[1], plan[2])
	}
}

func TestLatencyAwareIgnoresFewSamples(t *testing.T) {
	reg, hosts := threeHosts(t)
	p := NewLatencyAware(NewRoundRobin(), WithMinMeasured(5), WithUpdateRate(0))
	p.Init(reg)

	RecordLatency(p, hosts[0], 10*time.Millisecond)
	RecordLatency(p, hosts[1], time.Second)

	first := make(map[string]int)
	for i := 0; i < 3; i++ {
		first[p.NewQueryPlan("", RoutingInfo{}).Next().Endpoint()]++
	}
	assert.Len(t, first, 3)
}

func TestLatencyAwareRetryPeriod(t *testing.T) {
	reg, hosts := threeHosts(t)
	p := NewLatencyAware(NewRoundRobin(),
		WithMinMeasured(1),
		WithUpdateRate(0),
		WithRetryPeriod(time.Nanosecond),
	)
	p.Init(reg)

	RecordLatency(p, hosts[0], 10*time.Millisecond)
	RecordLatency(p, hosts[1], time.Second)
	time.Sleep(time.Millisecond)

	first := make(map[string]int)
	for i := 0; i < 3; i++ {
		first[p.NewQueryPlan("", RoutingInfo{}).Next().Endpoint()]++
	}
	assert.Equal(t, 1, first[hosts[1].Endpoint()])
}

func TestLatencyAwareCircuitBreaker(t *testing.T) {
	reg, hosts := threeHosts(t)
	p := NewLatencyAware(NewRoundRobin(),
		WithHostCircuitBreaker(NewCircuitBreaker(WithThreshold(2))),
	)
	p.Init(reg)

	RecordFailure(p, hosts[0])
	RecordFailure(p, hosts[0])

	for i := 0; i < 3; i++ {
		plan := drain(p.NewQueryPlan("", RoutingInfo{}))
		require.Len(t, plan, 3)
		assert.Same(t, hosts[0], plan[2])
	}

	RecordLatency(p, hosts[0], time.Millisecond)
	first := make(map[string]int)
	for i := 0; i < 3; i++ {
		first[p.NewQueryPlan("", RoutingInfo{}).Next().Endpoint()]++
	}
	assert.Equal(t, 1, first[hosts[0].Endpoint()])
}

func TestLatencyAwareAverage(t *testing.T) {
	_, hosts := threeHosts(t)
	p := NewLatencyAware(NewRoundRobin())

	avg, n := p.Average(hosts[0])
	assert.Equal(t, time.Duration(-1), avg)
	assert.Zero(t, n)

	p.RecordLatency(hosts[0], 40*time.Millisecond)
	avg, n = p.Average(hosts[0])
	assert.Equal(t, 40*time.Millisecond, avg)
	assert.Equal(t, int64(1), n)

	time.Sleep(5 * time.Millisecond)
	p.RecordLatency(hosts[0], 20*time.Millisecond)
	avg, n = p.Average(hosts[0])
	assert.Equal(t, int64(2), n)
	assert.Greater(t, avg, 20*time.Millisecond)
	assert.Less(t, avg, 40*time.Millisecond)
}

func TestRecordHelpersReachWrappedPolicy(t *testing.T) {
	reg, hosts := threeHosts(t)
	latency := NewLatencyAware(NewRoundRobin(), WithMinMeasured(1))
	p := NewTokenAware(NewHostFilter(latency, DenyHosts()))
	p.Init(reg)

	RecordLatency(p, hosts[0], 7*time.Millisecond)
	_, n := latency.Average(hosts[0])
	assert.Equal(t, int64(1), n)

	// no recorder in the chain
	RecordLatency(NewRoundRobin(), hosts[0], time.Millisecond)
	RecordFailure(NewRoundRobin(), hosts[0])
}
