package topology

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/cqlcore/internal/logging"
	"github.com/arloliu/cqlcore/types"
)

// HostListener receives registry changes.
//
// Callbacks run synchronously on the goroutine that mutated the registry,
// outside of the registry lock. Implementations must not block for long.
type HostListener interface {
	OnAdd(h *Host)
	OnRemove(h *Host)
	OnUp(h *Host)
	OnDown(h *Host)
}

// Registry holds the set of known hosts.
//
// Reads (Snapshot, Get) are lock free over a copy-on-write view and safe to
// call concurrently with mutation. Mutations are serialized by a mutex.
type Registry struct {
	mu        sync.Mutex
	view      atomic.Pointer[registryView]
	listeners atomic.Pointer[[]HostListener]
	keyspaces atomic.Pointer[map[string]KeyspaceMetadata]
	logger    types.Logger
}

type registryView struct {
	hosts      []*Host
	byEndpoint map[string]*Host
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for the registry.
//
// Parameters:
//   - l: The logger
//
// Returns:
//   - RegistryOption: Configuration option
func WithRegistryLogger(l types.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry.
//
// Parameters:
//   - opts: Optional configuration options
//
// Returns:
//   - *Registry: A new registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}

	r.logger = logging.OrNop(r.logger)
	r.view.Store(&registryView{byEndpoint: map[string]*Host{}})
	r.listeners.Store(&[]HostListener{})
	r.keyspaces.Store(&map[string]KeyspaceMetadata{})

	return r
}

// AddListener registers a listener for host changes.
func (r *Registry) AddListener(l HostListener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.listeners.Load()
	next := make([]HostListener, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, l)
	r.listeners.Store(&next)
}

// AddOrUpdate inserts a host or updates the metadata of a known one.
//
// A malformed endpoint is ignored.
//
// Parameters:
//   - endpoint: The host:port endpoint
//   - info: Node metadata
//
// Returns:
//   - *Host: The registered host, or nil if the endpoint is malformed
//   - bool: true if the host was added
func (r *Registry) AddOrUpdate(endpoint string, info HostInfo) (*Host, bool) {
	candidate, err := NewHost(endpoint, info)
	if err != nil {
		r.logger.Debug("ignoring malformed host endpoint", "endpoint", endpoint, "error", err)
		return nil, false
	}

	r.mu.Lock()
	cur := r.view.Load()
	if existing, ok := cur.byEndpoint[candidate.Endpoint()]; ok {
		existing.setInfo(info)
		r.mu.Unlock()

		return existing, false
	}

	next := &registryView{
		hosts:      make([]*Host, 0, len(cur.hosts)+1),
		byEndpoint: make(map[string]*Host, len(cur.byEndpoint)+1),
	}
	next.hosts = append(next.hosts, cur.hosts...)
	next.hosts = append(next.hosts, candidate)
	for k, v := range cur.byEndpoint {
		next.byEndpoint[k] = v
	}
	next.byEndpoint[candidate.Endpoint()] = candidate
	r.view.Store(next)
	r.mu.Unlock()

	for _, l := range *r.listeners.Load() {
		l.OnAdd(candidate)
	}

	return candidate, true
}

// Remove removes the host with the given endpoint.
//
// The registry does not close pools; listeners own that.
//
// Returns:
//   - bool: true if a host was removed
func (r *Registry) Remove(endpoint string) bool {
	r.mu.Lock()
	cur := r.view.Load()
	h, ok := cur.byEndpoint[endpoint]
	if !ok {
		r.mu.Unlock()
		return false
	}

	next := &registryView{
		hosts:      make([]*Host, 0, len(cur.hosts)),
		byEndpoint: make(map[string]*Host, len(cur.byEndpoint)),
	}
	for _, other := range cur.hosts {
		if other != h {
			next.hosts = append(next.hosts, other)
			next.byEndpoint[other.Endpoint()] = other
		}
	}
	h.removed.Store(true)
	r.view.Store(next)
	r.mu.Unlock()

	for _, l := range *r.listeners.Load() {
		l.OnRemove(h)
	}

	return true
}

// SetDistance assigns the load balancing distance of a host.
//
// Returns:
//   - bool: false if the host is unknown
func (r *Registry) SetDistance(endpoint string, d types.Distance) bool {
	h := r.Get(endpoint)
	if h == nil {
		return false
	}

	if h.setDistance(d) {
		r.logger.Debug("host distance changed", "host", endpoint, "distance", d.String())
	}

	return true
}

// MarkUp marks a host up and notifies listeners if its state changed.
func (r *Registry) MarkUp(endpoint string) bool {
	h := r.Get(endpoint)
	if h == nil || !h.setUp(true) {
		return false
	}

	for _, l := range *r.listeners.Load() {
		l.OnUp(h)
	}

	return true
}

// MarkDown marks a host down and notifies listeners if its state changed.
func (r *Registry) MarkDown(endpoint string) bool {
	h := r.Get(endpoint)
	if h == nil || !h.setUp(false) {
		return false
	}

	for _, l := range *r.listeners.Load() {
		l.OnDown(h)
	}

	return true
}

// Get returns the host for endpoint, or nil.
func (r *Registry) Get(endpoint string) *Host {
	return r.view.Load().byEndpoint[endpoint]
}

// Snapshot returns the current hosts in insertion order.
//
// The slice is an immutable view and must not be modified.
func (r *Registry) Snapshot() []*Host {
	return r.view.Load().hosts
}

// Len returns the number of hosts.
func (r *Registry) Len() int {
	return len(r.view.Load().hosts)
}
