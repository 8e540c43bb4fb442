package policy

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/arloliu/cqlcore/internal/murmur"
	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// TokenAware routes requests to the replicas owning their partition.
//
// The ring is built from the Murmur3 tokens each host reports. Replicas are
// placed with the replication strategy of the request keyspace as known to
// the registry: SimpleStrategy takes consecutive ring owners, and
// NetworkTopologyStrategy takes the per data center factor spread across
// racks. When the keyspace is unknown the first replicaCount distinct hosts
// walking the ring clockwise are used. Live replicas are yielded first,
// local ones before remote ones, then the wrapped policy's plan without the
// hosts already yielded.
type TokenAware struct {
	child        LoadBalancingPolicy
	replicaCount int

	reg  *topology.Registry
	ring atomic.Pointer[tokenRing]
}

var (
	_ LoadBalancingPolicy = (*TokenAware)(nil)
	_ ChildPolicy         = (*TokenAware)(nil)
)

// TokenAwareOption configures a TokenAware policy.
type TokenAwareOption func(*TokenAware)

// WithReplicaCount sets the number of replicas per token range.
//
// Default: 3
//
// Parameters:
//   - n: Replication factor used to compute replica sets
//
// Returns:
//   - TokenAwareOption: Configuration option
func WithReplicaCount(n int) TokenAwareOption {
	return func(p *TokenAware) {
		if n > 0 {
			p.replicaCount = n
		}
	}
}

// NewTokenAware wraps child with replica routing.
//
// Parameters:
//   - child: The policy ordering non-replica hosts
//   - opts: Optional configuration options
//
// Returns:
//   - *TokenAware: A new token aware policy
func NewTokenAware(child LoadBalancingPolicy, opts ...TokenAwareOption) *TokenAware {
	p := &TokenAware{
		child:        child,
		replicaCount: 3,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Child returns the wrapped policy.
func (p *TokenAware) Child() LoadBalancingPolicy {
	return p.child
}

// Init initializes the wrapped policy and builds the token ring.
func (p *TokenAware) Init(reg *topology.Registry) {
	p.reg = reg
	p.child.Init(reg)
	p.rebuild()
}

// Distance delegates to the wrapped policy.
func (p *TokenAware) Distance(h *topology.Host) types.Distance {
	return p.child.Distance(h)
}

// NewQueryPlan returns a replica first plan when info carries a routing key.
//
// Parameters:
//   - keyspace: The request keyspace
//   - info: Routing information
//
// Returns:
//   - QueryPlan: A new query plan
func (p *TokenAware) NewQueryPlan(keyspace string, info RoutingInfo) QueryPlan {
	childPlan := p.child.NewQueryPlan(keyspace, info)
	if len(info.RoutingKey) == 0 {
		return childPlan
	}

	ring := p.ring.Load()
	if ring == nil || len(ring.tokens) == 0 {
		return childPlan
	}

	token := murmur.Token(info.RoutingKey)

	var replicas []*topology.Host
	if ks, ok := p.keyspace(keyspace); ok {
		replicas = ring.keyspaceReplicas(ks, token)
	} else {
		replicas = ring.replicas(token, p.replicaCount)
	}

	ordered := make([]*topology.Host, 0, len(replicas))
	for _, h := range replicas {
		if usable(h) && p.child.Distance(h) == types.DistanceLocal {
			ordered = append(ordered, h)
		}
	}
	for _, h := range replicas {
		if usable(h) && p.child.Distance(h) == types.DistanceRemote {
			ordered = append(ordered, h)
		}
	}

	return &tokenAwarePlan{
		replicas: ordered,
		child:    childPlan,
		yielded:  make(map[*topology.Host]struct{}, len(ordered)),
	}
}

// OnAdd rebuilds the ring and forwards the event.
func (p *TokenAware) OnAdd(h *topology.Host) {
	p.child.OnAdd(h)
	p.rebuild()
}

// OnRemove rebuilds the ring and forwards the event.
func (p *TokenAware) OnRemove(h *topology.Host) {
	p.child.OnRemove(h)
	p.rebuild()
}

// OnUp rebuilds the ring and forwards the event.
func (p *TokenAware) OnUp(h *topology.Host) {
	p.child.OnUp(h)
	p.rebuild()
}

// OnDown forwards the event.
func (p *TokenAware) OnDown(h *topology.Host) {
	p.child.OnDown(h)
}

// Refresh rebuilds the ring from the registry, used after host tokens were
// updated in place.
func (p *TokenAware) Refresh() {
	p.rebuild()
}

func (p *TokenAware) keyspace(name string) (topology.KeyspaceMetadata, bool) {
	if p.reg == nil || name == "" {
		return topology.KeyspaceMetadata{}, false
	}

	return p.reg.Keyspace(name)
}

func (p *TokenAware) rebuild() {
	if p.reg == nil {
		return
	}
	p.ring.Store(newTokenRing(p.reg.Snapshot()))
}

type tokenRing struct {
	tokens []int64
	owners []*topology.Host

	// dcHosts and dcRacks count distinct hosts and non-empty racks per
	// data center.
	dcHosts map[string]int
	dcRacks map[string]int

	mu         sync.Mutex
	byKeyspace map[string]*replicaCache
}

// replicaCache holds the replica sets of one keyspace, indexed like
// tokenRing.tokens and filled on first use.
type replicaCache struct {
	strategy topology.ReplicationStrategy
	sets     [][]*topology.Host
}

type ringEntry struct {
	token int64
	host  *topology.Host
}

func newTokenRing(hosts []*topology.Host) *tokenRing {
	ring := &tokenRing{
		dcHosts:    make(map[string]int),
		dcRacks:    make(map[string]int),
		byKeyspace: make(map[string]*replicaCache),
	}

	var entries []ringEntry
	racks := make(map[string]map[string]struct{})
	for _, h := range hosts {
		owns := false
		for _, raw := range h.Tokens() {
			token, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, ringEntry{token: token, host: h})
			owns = true
		}
		if !owns {
			continue
		}

		dc := h.Datacenter()
		ring.dcHosts[dc]++
		if rack := h.Rack(); rack != "" {
			if racks[dc] == nil {
				racks[dc] = make(map[string]struct{})
			}
			racks[dc][rack] = struct{}{}
		}
	}
	for dc, set := range racks {
		ring.dcRacks[dc] = len(set)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].token < entries[j].token })

	ring.tokens = make([]int64, len(entries))
	ring.owners = make([]*topology.Host, len(entries))
	for i, e := range entries {
		ring.tokens[i] = e.token
		ring.owners[i] = e.host
	}

	return ring
}

// index returns the position of the range owning token.
func (r *tokenRing) index(token int64) int {
	i := sort.Search(len(r.tokens), func(i int) bool { return r.tokens[i] >= token })
	if i == len(r.tokens) {
		return 0
	}

	return i
}

// replicas returns up to n distinct hosts owning token, primary first.
func (r *tokenRing) replicas(token int64, n int) []*topology.Host {
	return r.simpleReplicas(r.index(token), n)
}

func (r *tokenRing) simpleReplicas(start, n int) []*topology.Host {
	result := make([]*topology.Host, 0, n)
	seen := make(map[*topology.Host]struct{}, n)
	for i := 0; i < len(r.tokens) && len(result) < n; i++ {
		h := r.owners[(start+i)%len(r.tokens)]
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		result = append(result, h)
	}

	return result
}

// keyspaceReplicas returns the replicas of token under the keyspace's
// replication strategy. Results are cached until the ring is rebuilt or
// the strategy changes.
func (r *tokenRing) keyspaceReplicas(ks topology.KeyspaceMetadata, token int64) []*topology.Host {
	idx := r.index(token)

	r.mu.Lock()
	defer r.mu.Unlock()

	cache, ok := r.byKeyspace[ks.Name]
	if !ok || !cache.strategy.Equal(ks.Replication) {
		cache = &replicaCache{
			strategy: ks.Replication,
			sets:     make([][]*topology.Host, len(r.tokens)),
		}
		r.byKeyspace[ks.Name] = cache
	}

	if set := cache.sets[idx]; set != nil {
		return set
	}

	var set []*topology.Host
	switch ks.Replication.Class {
	case topology.ReplicationSimple:
		set = r.simpleReplicas(idx, max(ks.Replication.ReplicationFactor, 1))
	case topology.ReplicationNetworkTopology:
		set = r.networkTopologyReplicas(idx, ks.Replication.DatacenterFactors)
	default:
		set = []*topology.Host{r.owners[idx]}
	}
	cache.sets[idx] = set

	return set
}

// networkTopologyReplicas walks the ring from start and picks, per data
// center, up to its replication factor hosts. Hosts on distinct racks are
// taken first; hosts on a rack already used are queued and only taken
// once every rack of the data center has a replica.
func (r *tokenRing) networkTopologyReplicas(start int, factors map[string]int) []*topology.Host {
	wanted := make(map[string]int, len(factors))
	total := 0
	for dc, rf := range factors {
		if n := r.dcHosts[dc]; n > 0 && rf > 0 {
			wanted[dc] = min(rf, n)
			total += wanted[dc]
		}
	}

	result := make([]*topology.Host, 0, total)
	added := make(map[*topology.Host]struct{}, total)
	count := make(map[string]int, len(wanted))
	observed := make(map[string]map[string]struct{}, len(wanted))
	skipped := make(map[string][]*topology.Host, len(wanted))

	add := func(h *topology.Host) bool {
		if _, dup := added[h]; dup {
			return false
		}
		added[h] = struct{}{}
		result = append(result, h)
		count[h.Datacenter()]++

		return true
	}

	for i := 0; i < len(r.tokens) && len(result) < total; i++ {
		h := r.owners[(start+i)%len(r.tokens)]
		dc := h.Datacenter()

		rf, ok := wanted[dc]
		if !ok || count[dc] >= rf {
			continue
		}

		rack := h.Rack()
		if observed[dc] == nil {
			observed[dc] = make(map[string]struct{})
		}
		if rack == "" || len(observed[dc]) == r.dcRacks[dc] {
			add(h)
			continue
		}

		if _, seen := observed[dc][rack]; seen {
			if _, dup := added[h]; !dup {
				skipped[dc] = append(skipped[dc], h)
			}
			continue
		}

		add(h)
		observed[dc][rack] = struct{}{}
		if len(observed[dc]) == r.dcRacks[dc] {
			for len(skipped[dc]) > 0 && count[dc] < rf {
				add(skipped[dc][0])
				skipped[dc] = skipped[dc][1:]
			}
		}
	}

	return result
}

type tokenAwarePlan struct {
	mu       sync.Mutex
	replicas []*topology.Host
	position int
	child    QueryPlan
	yielded  map[*topology.Host]struct{}
}

func (pl *tokenAwarePlan) Next() *topology.Host {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	for pl.position < len(pl.replicas) {
		h := pl.replicas[pl.position]
		pl.position++
		if usable(h) {
			pl.yielded[h] = struct{}{}
			return h
		}
	}

	for {
		h := pl.child.Next()
		if h == nil {
			return nil
		}
		if _, done := pl.yielded[h]; !done {
			return h
		}
	}
}
