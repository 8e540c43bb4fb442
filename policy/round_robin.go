package policy

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// indexResetThreshold bounds the shared round-robin counters.
const indexResetThreshold = 1 << 62

// RoundRobin cycles through every up host of the cluster.
//
// All hosts are LOCAL. Plans share one counter, so consecutive plans start
// at consecutive hosts. The counter starts at a random value so restarted
// clients do not all hit the same host first.
//
// Example:
//
//	session, _ := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1"),
//	    cqlcore.WithLoadBalancingPolicy(policy.NewRoundRobin()),
//	)
type RoundRobin struct {
	reg   *topology.Registry
	index atomic.Uint64
	once  sync.Once
}

var _ LoadBalancingPolicy = (*RoundRobin)(nil)

// NewRoundRobin creates a new round-robin policy.
//
// Returns:
//   - *RoundRobin: A new round-robin policy
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Init binds the policy to the registry and seeds the counter.
//
// Parameters:
//   - reg: The session host registry
func (p *RoundRobin) Init(reg *topology.Registry) {
	p.reg = reg
	p.once.Do(func() {
		p.index.Store(rand.Uint64N(1 << 31))
	})
}

// Distance returns DistanceLocal for every host.
func (p *RoundRobin) Distance(_ *topology.Host) types.Distance {
	return types.DistanceLocal
}

// NewQueryPlan returns a plan over the current up hosts starting at the next
// counter position.
//
// Parameters:
//   - keyspace: Unused
//   - info: Unused
//
// Returns:
//   - QueryPlan: A new query plan
func (p *RoundRobin) NewQueryPlan(_ string, _ RoutingInfo) QueryPlan {
	if p.reg == nil {
		return emptyPlan{}
	}

	return &roundRobinPlan{it: newSliceIter(p.reg.Snapshot(), nextIndex(&p.index))}
}

// OnAdd is a no-op, plans read the registry snapshot.
func (p *RoundRobin) OnAdd(_ *topology.Host) {}

// OnRemove is a no-op, plans read the registry snapshot.
func (p *RoundRobin) OnRemove(_ *topology.Host) {}

// OnUp is a no-op, plans read the registry snapshot.
func (p *RoundRobin) OnUp(_ *topology.Host) {}

// OnDown is a no-op, plans read the registry snapshot.
func (p *RoundRobin) OnDown(_ *topology.Host) {}

type roundRobinPlan struct {
	mu sync.Mutex
	it *sliceIter
}

func (pl *roundRobinPlan) Next() *topology.Host {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	return pl.it.next()
}

// nextIndex advances a shared counter, re-seeding it before it can overflow.
func nextIndex(counter *atomic.Uint64) uint64 {
	idx := counter.Add(1) - 1
	if idx > indexResetThreshold {
		counter.Store(rand.Uint64N(1 << 31))
	}

	return idx
}
