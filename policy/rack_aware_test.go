package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

func twoRacks(t *testing.T) (*topology.Registry, []*topology.Host) {
	return newTestRegistry(t,
		hostSpec{endpoint: "10.0.1.1:9042", dc: "dc1", rack: "r1"},
		hostSpec{endpoint: "10.0.1.2:9042", dc: "dc1", rack: "r1"},
		hostSpec{endpoint: "10.0.1.3:9042", dc: "dc1", rack: "r2"},
		hostSpec{endpoint: "10.0.1.4:9042", dc: "dc1", rack: "r2"},
		hostSpec{endpoint: "10.0.2.1:9042", dc: "dc2", rack: "r1"},
	)
}

func TestRackAwareDistances(t *testing.T) {
	reg, hosts := twoRacks(t)
	p := NewRackAwareRoundRobin("dc1", "r1", WithUsedHostsPerRemoteDC(1))
	p.Init(reg)

	assert.Equal(t, types.DistanceLocal, p.Distance(hosts[0]))
	assert.Equal(t, types.DistanceLocal, p.Distance(hosts[1]))
	assert.Equal(t, types.DistanceRemote, p.Distance(hosts[2]))
	assert.Equal(t, types.DistanceRemote, p.Distance(hosts[3]))
	assert.Equal(t, types.DistanceRemote, p.Distance(hosts[4]))
	assert.Equal(t, types.DistanceRemote, hosts[2].Distance(), "Init assigns registry distances")
}

func TestRackAwarePlanOrder(t *testing.T) {
	reg, hosts := twoRacks(t)
	p := NewRackAwareRoundRobin("dc1", "r1", WithUsedHostsPerRemoteDC(1))
	p.Init(reg)

	first := make(map[string]int)
	for i := 0; i < 20; i++ {
		plan := drain(p.NewQueryPlan("", RoutingInfo{Consistency: types.Quorum}))
		require.Len(t, plan, 5)
		assert.ElementsMatch(t, endpoints(hosts[:2]), endpoints(plan[:2]))
		assert.ElementsMatch(t, endpoints(hosts[2:4]), endpoints(plan[2:4]))
		assert.Equal(t, hosts[4].Endpoint(), plan[4].Endpoint())
		first[plan[0].Endpoint()]++
	}

	assert.Equal(t, 10, first[hosts[0].Endpoint()])
	assert.Equal(t, 10, first[hosts[1].Endpoint()])
}

func TestRackAwareLocalConsistencyStaysInDC(t *testing.T) {
	reg, hosts := twoRacks(t)
	p := NewRackAwareRoundRobin("dc1", "r1", WithUsedHostsPerRemoteDC(1))
	p.Init(reg)

	reg.MarkDown(hosts[0].Endpoint())
	reg.MarkDown(hosts[1].Endpoint())

	plan := drain(p.NewQueryPlan("", RoutingInfo{Consistency: types.LocalQuorum}))
	assert.ElementsMatch(t, endpoints(hosts[2:4]), endpoints(plan))
}

func TestRackAwareDetectsLocalRack(t *testing.T) {
	reg, hosts := newTestRegistry(t,
		hostSpec{endpoint: "10.0.2.1:9042", dc: "dc2", rack: "r9"},
		hostSpec{endpoint: "10.0.1.1:9042", dc: "dc1"},
		hostSpec{endpoint: "10.0.1.2:9042", dc: "dc1", rack: "r2"},
		hostSpec{endpoint: "10.0.1.3:9042", dc: "dc1", rack: "r3"},
	)
	p := NewRackAwareRoundRobin("dc1", "")
	p.Init(reg)

	assert.Equal(t, "dc1", p.LocalDC())
	assert.Equal(t, "r2", p.LocalRack())
	assert.Equal(t, types.DistanceLocal, p.Distance(hosts[2]))
	assert.Equal(t, types.DistanceRemote, p.Distance(hosts[3]))
	assert.Equal(t, types.DistanceIgnore, p.Distance(hosts[0]))
}

func TestRackAwareWithoutRackActsLikeDCAware(t *testing.T) {
	reg, hosts := newTestRegistry(t,
		hostSpec{endpoint: "10.0.1.1:9042", dc: "dc1"},
		hostSpec{endpoint: "10.0.1.2:9042", dc: "dc1"},
	)
	p := NewRackAwareRoundRobin("dc1", "")
	p.Init(reg)

	assert.Empty(t, p.LocalRack())
	for _, h := range hosts {
		assert.Equal(t, types.DistanceLocal, p.Distance(h))
	}
	assert.Len(t, drain(p.NewQueryPlan("", RoutingInfo{})), 2)
}
