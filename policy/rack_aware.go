package policy

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// RackAwareRoundRobin prefers hosts of the local rack, then the rest of the
// local datacenter, then remote datacenters.
//
// Hosts of the local rack are LOCAL. Other hosts of the local datacenter are
// REMOTE and are tried only after every local rack host of a plan. Remote
// datacenters follow the DCAwareRoundRobin rules for usedHostsPerRemoteDC
// and DC local consistency levels.
//
// When no local rack is configured it is taken from the first host of the
// local datacenter that reports one. Without a local rack the policy
// behaves like DCAwareRoundRobin.
type RackAwareRoundRobin struct {
	dc        *DCAwareRoundRobin
	localRack string

	index      atomic.Uint64
	detectOnce sync.Once
}

var _ LoadBalancingPolicy = (*RackAwareRoundRobin)(nil)

// NewRackAwareRoundRobin creates a new rack aware policy.
//
// Parameters:
//   - localDC: The local datacenter name, empty to detect it at Init
//   - localRack: The local rack name, empty to detect it at Init
//   - opts: Datacenter options, see DCAwareOption
//
// Returns:
//   - *RackAwareRoundRobin: A new policy
func NewRackAwareRoundRobin(localDC, localRack string, opts ...DCAwareOption) *RackAwareRoundRobin {
	return &RackAwareRoundRobin{
		dc:        NewDCAwareRoundRobin(localDC, opts...),
		localRack: localRack,
	}
}

// Init binds the policy to the registry, detects the local datacenter and
// rack when needed and assigns every known host its distance.
func (p *RackAwareRoundRobin) Init(reg *topology.Registry) {
	p.dc.Init(reg)
	p.index.Store(p.dc.index.Load())

	p.detectOnce.Do(func() {
		if p.localRack != "" {
			return
		}
		for _, h := range reg.Snapshot() {
			if p.dc.dcOf(h) == p.dc.LocalDC() && h.Rack() != "" {
				p.localRack = h.Rack()
				return
			}
		}
	})

	for _, h := range reg.Snapshot() {
		reg.SetDistance(h.Endpoint(), p.Distance(h))
	}
}

// LocalDC returns the configured or detected local datacenter.
func (p *RackAwareRoundRobin) LocalDC() string { return p.dc.LocalDC() }

// LocalRack returns the configured or detected local rack.
func (p *RackAwareRoundRobin) LocalRack() string { return p.localRack }

func (p *RackAwareRoundRobin) inLocalRack(h *topology.Host) bool {
	return p.localRack == "" || h.Rack() == p.localRack
}

// Distance classifies h as LOCAL in the local rack, REMOTE elsewhere in the
// local datacenter and defers to the datacenter rules otherwise.
func (p *RackAwareRoundRobin) Distance(h *topology.Host) types.Distance {
	d := p.dc.Distance(h)
	if d == types.DistanceLocal && !p.inLocalRack(h) {
		return types.DistanceRemote
	}

	return d
}

// NewQueryPlan returns a plan yielding local rack hosts, then the other
// hosts of the local datacenter, then the eligible remote hosts.
//
// Parameters:
//   - keyspace: Unused
//   - info: Routing information, its consistency decides remote usage
//
// Returns:
//   - QueryPlan: A new query plan
func (p *RackAwareRoundRobin) NewQueryPlan(_ string, info RoutingInfo) QueryPlan {
	reg := p.dc.reg
	if reg == nil {
		return emptyPlan{}
	}

	hosts := reg.Snapshot()
	var rack, dc []*topology.Host
	for _, h := range hosts {
		if p.dc.dcOf(h) != p.dc.LocalDC() {
			continue
		}
		if p.inLocalRack(h) {
			rack = append(rack, h)
		} else {
			dc = append(dc, h)
		}
	}

	start := nextIndex(&p.index)

	return &rackAwarePlan{
		policy:      p,
		hosts:       hosts,
		rack:        newSliceIter(rack, start),
		dc:          newSliceIter(dc, start),
		allowRemote: !(p.dc.skipRemoteDCsForLocalCL && info.Consistency.IsDCLocal()),
	}
}

// OnAdd forwards the event.
func (p *RackAwareRoundRobin) OnAdd(h *topology.Host) { p.dc.OnAdd(h) }

// OnRemove forwards the event.
func (p *RackAwareRoundRobin) OnRemove(h *topology.Host) { p.dc.OnRemove(h) }

// OnUp forwards the event.
func (p *RackAwareRoundRobin) OnUp(h *topology.Host) { p.dc.OnUp(h) }

// OnDown forwards the event.
func (p *RackAwareRoundRobin) OnDown(h *topology.Host) { p.dc.OnDown(h) }

// Refresh drops cached remote eligibility.
func (p *RackAwareRoundRobin) Refresh() { p.dc.Refresh() }

type rackAwarePlan struct {
	policy      *RackAwareRoundRobin
	hosts       []*topology.Host
	allowRemote bool

	mu           sync.Mutex
	rack         *sliceIter
	dc           *sliceIter
	remote       []*topology.Host
	remoteLoaded bool
	remotePos    int
}

func (pl *rackAwarePlan) Next() *topology.Host {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if h := pl.rack.next(); h != nil {
		return h
	}
	if h := pl.dc.next(); h != nil {
		return h
	}
	if !pl.allowRemote {
		return nil
	}

	if !pl.remoteLoaded {
		pl.remote = pl.policy.dc.remotePlanHosts(pl.hosts)
		pl.remoteLoaded = true
	}

	for pl.remotePos < len(pl.remote) {
		h := pl.remote[pl.remotePos]
		pl.remotePos++
		if live(h) {
			return h
		}
	}

	return nil
}
