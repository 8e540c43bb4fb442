package topology

import (
	"net"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/arloliu/cqlcore/types"
)

// DefaultPort is the default CQL native transport port.
const DefaultPort = 9042

// HostInfo is the metadata of a node as reported by system.local or system.peers.
type HostInfo struct {
	// HostID is the node's host_id.
	HostID uuid.UUID

	// Datacenter is the data_center column.
	Datacenter string

	// Rack is the rack column.
	Rack string

	// ReleaseVersion is the server version string.
	ReleaseVersion string

	// Tokens are the node's partitioner tokens in their string form.
	Tokens []string
}

// Host is one node of the cluster.
//
// Identity is the endpoint (address and port). Metadata and state are
// updated atomically, so a *Host may be shared freely between goroutines.
// Hosts are owned by a Registry; other components keep non-owning references.
type Host struct {
	endpoint string
	address  string
	port     int

	info         atomic.Pointer[HostInfo]
	up           atomic.Bool
	distance     atomic.Int32
	reconnecting atomic.Bool
	draining     atomic.Bool
	removed      atomic.Bool
}

// NewHost creates a host for endpoint ("address:port").
//
// Parameters:
//   - endpoint: The host:port endpoint
//   - info: Node metadata
//
// Returns:
//   - *Host: The host, initially up with LOCAL distance
//   - error: Error if the endpoint is malformed
func NewHost(endpoint string, info HostInfo) (*Host, error) {
	address, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, err
	}
	if address == "" {
		return nil, &net.AddrError{Err: "missing address", Addr: endpoint}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, &net.AddrError{Err: "invalid port", Addr: endpoint}
	}

	h := &Host{
		endpoint: net.JoinHostPort(address, portStr),
		address:  address,
		port:     port,
	}
	h.setInfo(info)
	h.up.Store(true)
	h.distance.Store(int32(types.DistanceLocal))

	return h, nil
}

// JoinEndpoint builds the endpoint of address and port.
func JoinEndpoint(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}

// Endpoint returns the host:port identity.
func (h *Host) Endpoint() string { return h.endpoint }

// Address returns the address part of the endpoint.
func (h *Host) Address() string { return h.address }

// Port returns the port part of the endpoint.
func (h *Host) Port() int { return h.port }

// String returns the endpoint.
func (h *Host) String() string { return h.endpoint }

// Info returns a copy of the node metadata.
func (h *Host) Info() HostInfo {
	info := *h.info.Load()
	info.Tokens = append([]string(nil), info.Tokens...)

	return info
}

// Datacenter returns the data center label.
func (h *Host) Datacenter() string { return h.info.Load().Datacenter }

// Rack returns the rack label.
func (h *Host) Rack() string { return h.info.Load().Rack }

// HostID returns the node's host id.
func (h *Host) HostID() uuid.UUID { return h.info.Load().HostID }

// Tokens returns the node's tokens. The returned slice must not be modified.
func (h *Host) Tokens() []string { return h.info.Load().Tokens }

// IsUp reports whether the host is considered up.
func (h *Host) IsUp() bool { return h.up.Load() }

// Distance returns the distance assigned by the load balancing policy.
func (h *Host) Distance() types.Distance { return types.Distance(h.distance.Load()) }

// IsDraining reports whether an operator override drains this host.
func (h *Host) IsDraining() bool { return h.draining.Load() }

// IsRemoved reports whether the host was removed from its registry.
func (h *Host) IsRemoved() bool { return h.removed.Load() }

// IsReconnecting reports whether a reconnection schedule is running.
func (h *Host) IsReconnecting() bool { return h.reconnecting.Load() }

// SetReconnecting flips the reconnecting flag.
//
// Returns:
//   - bool: true if the flag changed, so exactly one caller wins the transition
func (h *Host) SetReconnecting(v bool) bool {
	return h.reconnecting.CompareAndSwap(!v, v)
}

// SetDraining sets the operator drain flag.
//
// Returns:
//   - bool: true if the flag changed
func (h *Host) SetDraining(v bool) bool {
	return h.draining.CompareAndSwap(!v, v)
}

func (h *Host) setInfo(info HostInfo) {
	info.Tokens = append([]string(nil), info.Tokens...)
	h.info.Store(&info)
}

func (h *Host) setUp(up bool) bool {
	return h.up.CompareAndSwap(!up, up)
}

func (h *Host) setDistance(d types.Distance) bool {
	return types.Distance(h.distance.Swap(int32(d))) != d
}
