package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

func twoDCs(t *testing.T) (*topology.Registry, []*topology.Host) {
	return newTestRegistry(t,
		hostSpec{endpoint: "10.0.1.1:9042", dc: "dc1"},
		hostSpec{endpoint: "10.0.1.2:9042", dc: "dc1"},
		hostSpec{endpoint: "10.0.1.3:9042", dc: "dc1"},
		hostSpec{endpoint: "10.0.2.1:9042", dc: "dc2"},
		hostSpec{endpoint: "10.0.2.2:9042", dc: "dc2"},
		hostSpec{endpoint: "10.0.2.3:9042", dc: "dc2"},
	)
}

func TestDCAwareLocality(t *testing.T) {
	reg, hosts := twoDCs(t)
	p := NewDCAwareRoundRobin("dc1")
	p.Init(reg)

	for _, h := range hosts[3:] {
		assert.Equal(t, types.DistanceIgnore, p.Distance(h))
		assert.Equal(t, types.DistanceIgnore, h.Distance(), "Init assigns registry distances")
	}

	counts := make(map[string]int)
	for i := 0; i < 100; i++ {
		plan := drain(p.NewQueryPlan("", RoutingInfo{Consistency: types.One}))
		require.Len(t, plan, 3)
		for _, h := range plan {
			assert.Equal(t, "dc1", h.Datacenter())
		}
		counts[plan[0].Endpoint()]++
	}

	for _, h := range hosts[:3] {
		assert.InDelta(t, 33, counts[h.Endpoint()], 1)
	}
}

func TestDCAwareFailover(t *testing.T) {
	reg, hosts := twoDCs(t)
	p := NewDCAwareRoundRobin("dc1", WithUsedHostsPerRemoteDC(2))
	p.Init(reg)

	assert.Equal(t, types.DistanceRemote, p.Distance(hosts[3]))
	assert.Equal(t, types.DistanceRemote, p.Distance(hosts[4]))
	assert.Equal(t, types.DistanceIgnore, p.Distance(hosts[5]))

	for _, h := range hosts[:3] {
		reg.MarkDown(h.Endpoint())
	}

	seen := make(map[string]int)
	for i := 0; i < 50; i++ {
		plan := drain(p.NewQueryPlan("", RoutingInfo{Consistency: types.Quorum}))
		require.Len(t, plan, 2)
		for _, h := range plan {
			seen[h.Endpoint()]++
			assert.NotEqual(t, types.DistanceIgnore, p.Distance(h))
		}
	}

	assert.Len(t, seen, 2)
	assert.NotContains(t, seen, hosts[5].Endpoint())
}

func TestDCAwareRemoteRoundRobin(t *testing.T) {
	reg, hosts := twoDCs(t)
	p := NewDCAwareRoundRobin("dc1", WithUsedHostsPerRemoteDC(2))
	p.Init(reg)

	for _, h := range hosts[:3] {
		reg.MarkDown(h.Endpoint())
	}

	first := make(map[string]int)
	for i := 0; i < 10; i++ {
		first[p.NewQueryPlan("", RoutingInfo{}).Next().Endpoint()]++
	}

	assert.Equal(t, 5, first[hosts[3].Endpoint()])
	assert.Equal(t, 5, first[hosts[4].Endpoint()])
}

func TestDCAwareRemoteAfterLocal(t *testing.T) {
	reg, hosts := twoDCs(t)
	p := NewDCAwareRoundRobin("dc1", WithUsedHostsPerRemoteDC(1))
	p.Init(reg)

	reg.MarkDown(hosts[0].Endpoint())

	plan := drain(p.NewQueryPlan("", RoutingInfo{Consistency: types.One}))
	require.Len(t, plan, 3)
	assert.Equal(t, "dc1", plan[0].Datacenter())
	assert.Equal(t, "dc1", plan[1].Datacenter())
	assert.Equal(t, hosts[3].Endpoint(), plan[2].Endpoint())
}

func TestDCAwareSkipRemoteForLocalConsistency(t *testing.T) {
	reg, hosts := twoDCs(t)
	p := NewDCAwareRoundRobin("dc1", WithUsedHostsPerRemoteDC(3))
	p.Init(reg)

	for _, h := range hosts[:3] {
		reg.MarkDown(h.Endpoint())
	}

	assert.Nil(t, p.NewQueryPlan("", RoutingInfo{Consistency: types.LocalQuorum}).Next())
	assert.Len(t, drain(p.NewQueryPlan("", RoutingInfo{Consistency: types.Quorum})), 3)

	keep := NewDCAwareRoundRobin("dc1", WithUsedHostsPerRemoteDC(3), WithSkipRemoteDCsForLocalCL(false))
	keep.Init(reg)
	assert.Len(t, drain(keep.NewQueryPlan("", RoutingInfo{Consistency: types.LocalOne})), 3)
}

func TestDCAwareAutoDetectsLocalDC(t *testing.T) {
	reg, _ := newTestRegistry(t,
		hostSpec{endpoint: "10.0.2.1:9042", dc: "dc2"},
		hostSpec{endpoint: "10.0.1.1:9042", dc: "dc1"},
	)
	p := NewDCAwareRoundRobin("")
	p.Init(reg)

	assert.Equal(t, "dc2", p.LocalDC())
	assert.Equal(t, []string{"10.0.2.1:9042"}, endpoints(drain(p.NewQueryPlan("", RoutingInfo{}))))
}

func TestDCAwareNormalizesUnknownDC(t *testing.T) {
	reg, hosts := newTestRegistry(t,
		hostSpec{endpoint: "10.0.1.1:9042", dc: "dc1"},
		hostSpec{endpoint: "10.0.1.2:9042", dc: ""},
		hostSpec{endpoint: "10.0.1.3:9042", dc: "unknown"},
		hostSpec{endpoint: "10.0.2.1:9042", dc: "dc2"},
	)
	p := NewDCAwareRoundRobin("dc1")
	p.Init(reg)

	assert.Equal(t, types.DistanceLocal, p.Distance(hosts[1]))
	assert.Equal(t, types.DistanceLocal, p.Distance(hosts[2]))
	assert.Equal(t, types.DistanceIgnore, p.Distance(hosts[3]))
	assert.Len(t, drain(p.NewQueryPlan("", RoutingInfo{})), 3)
}

func TestDCAwareCachesRemoteEligibility(t *testing.T) {
	reg, hosts := twoDCs(t)
	p := NewDCAwareRoundRobin("dc1", WithUsedHostsPerRemoteDC(1))
	p.Init(reg)

	assert.Equal(t, types.DistanceRemote, p.Distance(hosts[3]))
	cached := p.eligible.Load()
	require.NotNil(t, cached)

	for _, h := range hosts {
		p.Distance(h)
	}
	assert.Same(t, cached, p.eligible.Load(), "same snapshot reuses the cached view")

	reg.MarkDown(hosts[3].Endpoint())
	p.OnDown(hosts[3])
	assert.Nil(t, p.eligible.Load())
	assert.Equal(t, types.DistanceIgnore, p.Distance(hosts[3]))
	assert.Equal(t, types.DistanceRemote, p.Distance(hosts[4]))

	cached = p.eligible.Load()
	h, added := reg.AddOrUpdate("10.0.3.1:9042", topology.HostInfo{Datacenter: "dc3"})
	require.True(t, added)
	assert.Equal(t, types.DistanceRemote, p.Distance(h), "a new snapshot is recomputed")
	assert.NotSame(t, cached, p.eligible.Load())
}
