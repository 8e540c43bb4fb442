package policy

import (
	"time"

	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// RoutingInfo carries the request attributes a load balancing policy may use
// to order hosts.
type RoutingInfo struct {
	// RoutingKey is the serialized partition key, nil when unknown.
	RoutingKey []byte

	// Consistency is the consistency level of the request.
	Consistency types.Consistency
}

// QueryPlan is a lazy, finite, non-restartable sequence of candidate hosts.
//
// A plan is created per logical request and must not be shared between
// requests. It is safe for concurrent use since speculative attempts pull
// from the same plan.
type QueryPlan interface {
	// Next returns the next host to try, or nil when the plan is exhausted.
	Next() *topology.Host
}

// LoadBalancingPolicy orders candidate hosts for each request and assigns
// every host a distance.
//
// Init is called once with the populated registry before any plan is
// requested. The host event hooks are called by the session after the
// registry has been updated.
type LoadBalancingPolicy interface {
	Init(reg *topology.Registry)
	Distance(host *topology.Host) types.Distance
	NewQueryPlan(keyspace string, info RoutingInfo) QueryPlan

	OnAdd(host *topology.Host)
	OnRemove(host *topology.Host)
	OnUp(host *topology.Host)
	OnDown(host *topology.Host)
}

// LatencyRecorder is implemented by policies that track response latency.
//
// The request engine calls RecordLatency after every successful attempt.
type LatencyRecorder interface {
	RecordLatency(host *topology.Host, latency time.Duration)
}

// FailureRecorder is implemented by policies that track host level failures.
//
// The request engine calls RecordFailure after connection losses and client
// side attempt timeouts.
type FailureRecorder interface {
	RecordFailure(host *topology.Host)
}

// ChildPolicy is implemented by wrapping policies.
type ChildPolicy interface {
	Child() LoadBalancingPolicy
}

// live reports whether h is up and not taken out of rotation.
func live(h *topology.Host) bool {
	return h != nil && h.IsUp() && !h.IsDraining() && !h.IsRemoved()
}

// usable reports whether a plan may yield h.
func usable(h *topology.Host) bool {
	return live(h) && h.Distance() != types.DistanceIgnore
}

// sliceIter walks hosts starting at an offset and wrapping once.
type sliceIter struct {
	hosts    []*topology.Host
	start    int
	position int
}

func newSliceIter(hosts []*topology.Host, start uint64) *sliceIter {
	it := &sliceIter{hosts: hosts}
	if len(hosts) > 0 {
		it.start = int(start % uint64(len(hosts)))
	}

	return it
}

func (it *sliceIter) next() *topology.Host {
	for it.position < len(it.hosts) {
		h := it.hosts[(it.start+it.position)%len(it.hosts)]
		it.position++
		if usable(h) {
			return h
		}
	}

	return nil
}

// emptyPlan yields nothing.
type emptyPlan struct{}

func (emptyPlan) Next() *topology.Host { return nil }

// RecordLatency forwards a latency sample to p or the first wrapped policy
// that implements LatencyRecorder.
func RecordLatency(p LoadBalancingPolicy, host *topology.Host, latency time.Duration) {
	for p != nil {
		if r, ok := p.(LatencyRecorder); ok {
			r.RecordLatency(host, latency)
			return
		}
		w, ok := p.(ChildPolicy)
		if !ok {
			return
		}
		p = w.Child()
	}
}

// RecordFailure forwards a host failure to p or the first wrapped policy
// that implements FailureRecorder.
func RecordFailure(p LoadBalancingPolicy, host *topology.Host) {
	for p != nil {
		if r, ok := p.(FailureRecorder); ok {
			r.RecordFailure(host)
			return
		}
		w, ok := p.(ChildPolicy)
		if !ok {
			return
		}
		p = w.Child()
	}
}
