package policy

import (
	"sync"

	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// HostPredicate reports whether a host may be used.
type HostPredicate func(h *topology.Host) bool

// HostFilter hides the hosts rejected by a predicate from the wrapped policy.
//
// Rejected hosts get DistanceIgnore so the session never connects to them,
// and they are dropped from every plan.
//
// Example:
//
//	lb := policy.NewHostFilter(policy.NewRoundRobin(),
//	    policy.DenyHosts("10.0.0.9:9042"),
//	)
type HostFilter struct {
	child  LoadBalancingPolicy
	accept HostPredicate
}

var (
	_ LoadBalancingPolicy = (*HostFilter)(nil)
	_ ChildPolicy         = (*HostFilter)(nil)
)

// NewHostFilter wraps child with a host predicate.
//
// Parameters:
//   - child: The wrapped policy
//   - accept: The predicate, hosts for which it returns false are ignored
//
// Returns:
//   - *HostFilter: A new filtering policy
func NewHostFilter(child LoadBalancingPolicy, accept HostPredicate) *HostFilter {
	return &HostFilter{child: child, accept: accept}
}

// AllowHosts accepts only the listed endpoints.
func AllowHosts(endpoints ...string) HostPredicate {
	set := toSet(endpoints)
	return func(h *topology.Host) bool {
		_, ok := set[h.Endpoint()]
		return ok
	}
}

// DenyHosts rejects the listed endpoints.
func DenyHosts(endpoints ...string) HostPredicate {
	set := toSet(endpoints)
	return func(h *topology.Host) bool {
		_, ok := set[h.Endpoint()]
		return !ok
	}
}

// AllowDCs accepts only hosts of the listed datacenters.
func AllowDCs(dcs ...string) HostPredicate {
	set := toSet(dcs)
	return func(h *topology.Host) bool {
		_, ok := set[h.Datacenter()]
		return ok
	}
}

// DenyDCs rejects hosts of the listed datacenters.
func DenyDCs(dcs ...string) HostPredicate {
	set := toSet(dcs)
	return func(h *topology.Host) bool {
		_, ok := set[h.Datacenter()]
		return !ok
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}

	return set
}

// Child returns the wrapped policy.
func (f *HostFilter) Child() LoadBalancingPolicy {
	return f.child
}

// Init initializes the wrapped policy and ignores rejected hosts.
func (f *HostFilter) Init(reg *topology.Registry) {
	f.child.Init(reg)
	for _, h := range reg.Snapshot() {
		if !f.accept(h) {
			reg.SetDistance(h.Endpoint(), types.DistanceIgnore)
		}
	}
}

// Distance returns DistanceIgnore for rejected hosts and delegates otherwise.
func (f *HostFilter) Distance(h *topology.Host) types.Distance {
	if !f.accept(h) {
		return types.DistanceIgnore
	}

	return f.child.Distance(h)
}

// NewQueryPlan returns the wrapped plan without rejected hosts.
func (f *HostFilter) NewQueryPlan(keyspace string, info RoutingInfo) QueryPlan {
	return &filteredPlan{child: f.child.NewQueryPlan(keyspace, info), accept: f.accept}
}

// OnAdd forwards accepted hosts.
func (f *HostFilter) OnAdd(h *topology.Host) {
	if f.accept(h) {
		f.child.OnAdd(h)
	}
}

// OnRemove forwards accepted hosts.
func (f *HostFilter) OnRemove(h *topology.Host) {
	if f.accept(h) {
		f.child.OnRemove(h)
	}
}

// OnUp forwards accepted hosts.
func (f *HostFilter) OnUp(h *topology.Host) {
	if f.accept(h) {
		f.child.OnUp(h)
	}
}

// OnDown forwards accepted hosts.
func (f *HostFilter) OnDown(h *topology.Host) {
	if f.accept(h) {
		f.child.OnDown(h)
	}
}

type filteredPlan struct {
	mu     sync.Mutex
	child  QueryPlan
	accept HostPredicate
}

func (pl *filteredPlan) Next() *topology.Host {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	for {
		h := pl.child.Next()
		if h == nil || pl.accept(h) {
			return h
		}
	}
}
