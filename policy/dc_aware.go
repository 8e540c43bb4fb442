package policy

import (
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// unknownDC is the label some misconfigured nodes report.
const unknownDC = "unknown"

// DCAwareRoundRobin prefers hosts of the local datacenter.
//
// Local hosts are tried first in round-robin order. Only when every local
// host of a plan has been yielded are remote hosts considered, at most
// usedHostsPerRemoteDC of them per remote datacenter. With the default of 0
// remote hosts are never used.
//
// Hosts reporting an empty or "unknown" datacenter are treated as local.
// When no local datacenter is configured it is taken from the first host
// with a datacenter label, normally the contact point the control
// connection reached first.
type DCAwareRoundRobin struct {
	localDC                 string
	usedHostsPerRemoteDC    int
	skipRemoteDCsForLocalCL bool

	reg        *topology.Registry
	index      atomic.Uint64
	detectOnce sync.Once

	// remoteIndex holds the per datacenter counters shared by all plans.
	mu          sync.Mutex
	remoteIndex map[string]uint64

	eligible atomic.Pointer[eligibleView]
}

// eligibleView caches remoteEligible for one registry snapshot. Host state
// changes drop it through the listener callbacks and Refresh.
type eligibleView struct {
	hosts  []*topology.Host
	byDC   map[string][]*topology.Host
	remote map[*topology.Host]struct{}
}

func (v *eligibleView) matches(hosts []*topology.Host) bool {
	if len(v.hosts) != len(hosts) {
		return false
	}

	return len(hosts) == 0 || &v.hosts[0] == &hosts[0]
}

var _ LoadBalancingPolicy = (*DCAwareRoundRobin)(nil)

// DCAwareOption configures a DCAwareRoundRobin policy.
type DCAwareOption func(*DCAwareRoundRobin)

// WithUsedHostsPerRemoteDC sets how many hosts of each remote datacenter may
// be used once the local datacenter is exhausted.
//
// Default: 0 (remote datacenters are never used)
//
// Parameters:
//   - n: Hosts per remote datacenter
//
// Returns:
//   - DCAwareOption: Configuration option
func WithUsedHostsPerRemoteDC(n int) DCAwareOption {
	return func(p *DCAwareRoundRobin) {
		if n >= 0 {
			p.usedHostsPerRemoteDC = n
		}
	}
}

// WithSkipRemoteDCsForLocalCL keeps plans of LOCAL_ONE, LOCAL_QUORUM and
// LOCAL_SERIAL requests inside the local datacenter.
//
// Default: true
//
// Parameters:
//   - skip: Whether remote hosts are skipped for DC local consistencies
//
// Returns:
//   - DCAwareOption: Configuration option
func WithSkipRemoteDCsForLocalCL(skip bool) DCAwareOption {
	return func(p *DCAwareRoundRobin) {
		p.skipRemoteDCsForLocalCL = skip
	}
}

// NewDCAwareRoundRobin creates a new datacenter aware policy.
//
// Parameters:
//   - localDC: The local datacenter name, empty to detect it at Init
//   - opts: Optional configuration options
//
// Returns:
//   - *DCAwareRoundRobin: A new policy
func NewDCAwareRoundRobin(localDC string, opts ...DCAwareOption) *DCAwareRoundRobin {
	p := &DCAwareRoundRobin{
		localDC:                 localDC,
		skipRemoteDCsForLocalCL: true,
		remoteIndex:             make(map[string]uint64),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Init binds the policy to the registry, detects the local datacenter when
// needed and assigns every known host its distance.
//
// Parameters:
//   - reg: The session host registry
func (p *DCAwareRoundRobin) Init(reg *topology.Registry) {
	p.reg = reg
	p.index.Store(rand.Uint64N(1 << 31))

	p.detectOnce.Do(func() {
		if p.localDC != "" {
			return
		}
		for _, h := range reg.Snapshot() {
			if dc := h.Datacenter(); dc != "" && dc != unknownDC {
				p.localDC = dc
				return
			}
		}
	})

	for _, h := range reg.Snapshot() {
		reg.SetDistance(h.Endpoint(), p.Distance(h))
	}
}

// LocalDC returns the configured or detected local datacenter.
func (p *DCAwareRoundRobin) LocalDC() string {
	return p.localDC
}

// dcOf returns the normalized datacenter of h.
func (p *DCAwareRoundRobin) dcOf(h *topology.Host) string {
	dc := h.Datacenter()
	if dc == "" || strings.EqualFold(dc, unknownDC) {
		return p.localDC
	}

	return dc
}

// Distance classifies h as LOCAL for the local datacenter, REMOTE when it is
// among the first usedHostsPerRemoteDC up hosts of its datacenter and IGNORE
// otherwise.
//
// Parameters:
//   - h: The host to classify
//
// Returns:
//   - types.Distance: The host distance
func (p *DCAwareRoundRobin) Distance(h *topology.Host) types.Distance {
	dc := p.dcOf(h)
	if dc == p.localDC {
		return types.DistanceLocal
	}
	if p.usedHostsPerRemoteDC == 0 || p.reg == nil {
		return types.DistanceIgnore
	}

	if _, ok := p.eligibleFor(p.reg.Snapshot()).remote[h]; ok {
		return types.DistanceRemote
	}

	return types.DistanceIgnore
}

// eligibleFor returns the cached remote eligibility of hosts, computing it
// when the snapshot changed or the cache was dropped.
func (p *DCAwareRoundRobin) eligibleFor(hosts []*topology.Host) *eligibleView {
	if v := p.eligible.Load(); v != nil && v.matches(hosts) {
		return v
	}

	v := &eligibleView{
		hosts:  hosts,
		byDC:   p.remoteEligible(hosts),
		remote: make(map[*topology.Host]struct{}),
	}
	for _, dcHosts := range v.byDC {
		for _, h := range dcHosts {
			v.remote[h] = struct{}{}
		}
	}
	p.eligible.Store(v)

	return v
}

// remoteEligible returns, per remote datacenter, the first
// usedHostsPerRemoteDC live hosts in registry order.
func (p *DCAwareRoundRobin) remoteEligible(hosts []*topology.Host) map[string][]*topology.Host {
	eligible := make(map[string][]*topology.Host)
	if p.usedHostsPerRemoteDC == 0 {
		return eligible
	}

	for _, h := range hosts {
		dc := p.dcOf(h)
		if dc == p.localDC || !live(h) {
			continue
		}
		if len(eligible[dc]) < p.usedHostsPerRemoteDC {
			eligible[dc] = append(eligible[dc], h)
		}
	}

	return eligible
}

// NewQueryPlan returns a plan yielding local hosts first, then the eligible
// remote hosts.
//
// Parameters:
//   - keyspace: Unused
//   - info: Routing information, its consistency decides remote usage
//
// Returns:
//   - QueryPlan: A new query plan
func (p *DCAwareRoundRobin) NewQueryPlan(_ string, info RoutingInfo) QueryPlan {
	if p.reg == nil {
		return emptyPlan{}
	}

	hosts := p.reg.Snapshot()
	local := make([]*topology.Host, 0, len(hosts))
	for _, h := range hosts {
		if p.dcOf(h) == p.localDC {
			local = append(local, h)
		}
	}

	return &dcAwarePlan{
		policy:      p,
		hosts:       hosts,
		local:       newSliceIter(local, nextIndex(&p.index)),
		allowRemote: !(p.skipRemoteDCsForLocalCL && info.Consistency.IsDCLocal()),
	}
}

// remotePlanHosts returns the remote hosts of one plan in round-robin order
// per datacenter, advancing the shared per datacenter counters.
func (p *DCAwareRoundRobin) remotePlanHosts(hosts []*topology.Host) []*topology.Host {
	eligible := p.eligibleFor(hosts).byDC
	if len(eligible) == 0 {
		return nil
	}

	dcs := make([]string, 0, len(eligible))
	for dc := range eligible {
		dcs = append(dcs, dc)
	}
	sort.Strings(dcs)

	p.mu.Lock()
	defer p.mu.Unlock()

	var ordered []*topology.Host
	for _, dc := range dcs {
		candidates := eligible[dc]
		start := p.remoteIndex[dc]
		p.remoteIndex[dc] = start + 1
		if start > indexResetThreshold {
			p.remoteIndex[dc] = 0
		}
		for i := range candidates {
			ordered = append(ordered, candidates[(int(start%uint64(len(candidates)))+i)%len(candidates)])
		}
	}

	return ordered
}

// OnAdd drops the cached remote eligibility.
func (p *DCAwareRoundRobin) OnAdd(_ *topology.Host) { p.Refresh() }

// OnRemove drops the cached remote eligibility.
func (p *DCAwareRoundRobin) OnRemove(_ *topology.Host) { p.Refresh() }

// OnUp drops the cached remote eligibility.
func (p *DCAwareRoundRobin) OnUp(_ *topology.Host) { p.Refresh() }

// OnDown drops the cached remote eligibility.
func (p *DCAwareRoundRobin) OnDown(_ *topology.Host) { p.Refresh() }

// Refresh drops the cached remote eligibility, used after host state changed
// without a listener event such as a drain override.
func (p *DCAwareRoundRobin) Refresh() {
	p.eligible.Store(nil)
}

type dcAwarePlan struct {
	policy      *DCAwareRoundRobin
	hosts       []*topology.Host
	allowRemote bool

	mu           sync.Mutex
	local        *sliceIter
	remote       []*topology.Host
	remoteLoaded bool
	remotePos    int
}

func (pl *dcAwarePlan) Next() *topology.Host {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if h := pl.local.next(); h != nil {
		return h
	}
	if !pl.allowRemote {
		return nil
	}

	if !pl.remoteLoaded {
		pl.remote = pl.policy.remotePlanHosts(pl.hosts)
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
