package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arloliu/cqlcore/types"
)

func TestHostFilterDenyHosts(t *testing.T) {
	reg, hosts := threeHosts(t)
	p := NewHostFilter(NewRoundRobin(), DenyHosts("10.0.0.2:9042"))
	p.Init(reg)

	assert.Equal(t, types.DistanceIgnore, p.Distance(hosts[1]))
	assert.Equal(t, types.DistanceIgnore, hosts[1].Distance())
	assert.Equal(t, types.DistanceLocal, p.Distance(hosts[0]))

	for i := 0; i < 5; i++ {
		plan := drain(p.NewQueryPlan("", RoutingInfo{}))
		assert.ElementsMatch(t, []string{"10.0.0.1:9042", "10.0.0.3:9042"}, endpoints(plan))
	}
}

func TestHostFilterPredicates(t *testing.T) {
	_, hosts := twoDCs(t)

	tests := []struct {
		name   string
		accept HostPredicate
		want   int
	}{
		{name: "allow hosts", accept: AllowHosts("10.0.1.1:9042", "10.0.2.1:9042"), want: 2},
		{name: "deny hosts", accept: DenyHosts("10.0.1.1:9042"), want: 5},
		{name: "allow dcs", accept: AllowDCs("dc2"), want: 3},
		{name: "deny dcs", accept: DenyDCs("dc1", "dc2"), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accepted := 0
			for _, h := range hosts {
				if tt.accept(h) {
					accepted++
				}
			}
			assert.Equal(t, tt.want, accepted)
		})
	}
}

func TestHostFilterWrapsDCAware(t *testing.T) {
	reg, _ := twoDCs(t)
	p := NewHostFilter(NewDCAwareRoundRobin("dc1"), AllowHosts("10.0.1.1:9042"))
	p.Init(reg)

	assert.Equal(t, []string{"10.0.1.1:9042"}, endpoints(drain(p.NewQueryPlan("", RoutingInfo{}))))
}
