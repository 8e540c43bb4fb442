package topology

import (
	"strconv"
	"strings"
)

// ReplicationClass identifies a keyspace replication strategy.
type ReplicationClass int

const (
	// ReplicationOther is any strategy the driver cannot place replicas for.
	// Only the primary owner of a token is treated as a replica.
	ReplicationOther ReplicationClass = iota

	// ReplicationSimple places replicas on consecutive ring owners.
	ReplicationSimple

	// ReplicationNetworkTopology places replicas per data center, spreading
	// them across racks.
	ReplicationNetworkTopology
)

// String returns the short class name.
func (c ReplicationClass) String() string {
	switch c {
	case ReplicationSimple:
		return "SimpleStrategy"
	case ReplicationNetworkTopology:
		return "NetworkTopologyStrategy"
	default:
		return "Other"
	}
}

// ReplicationStrategy is the parsed replication option of a keyspace.
type ReplicationStrategy struct {
	Class ReplicationClass

	// ReplicationFactor is the replica count of a simple strategy.
	ReplicationFactor int

	// DatacenterFactors maps data center names to their replica counts for
	// a network topology strategy.
	DatacenterFactors map[string]int
}

// ParseReplication parses the replication map of system_schema.keyspaces.
//
// The class is matched by suffix, so both short and fully qualified class
// names are recognized. Factors that are not positive integers are ignored.
//
// Parameters:
//   - options: The replication column, including its "class" entry
//
// Returns:
//   - ReplicationStrategy: The parsed strategy
func ParseReplication(options map[string]string) ReplicationStrategy {
	var rs ReplicationStrategy

	class := options["class"]
	switch {
	case strings.HasSuffix(class, "NetworkTopologyStrategy"):
		rs.Class = ReplicationNetworkTopology
		rs.DatacenterFactors = make(map[string]int, len(options))
		for key, value := range options {
			if key == "class" || key == "replication_factor" {
				continue
			}
			if rf := parseFactor(value); rf > 0 {
				rs.DatacenterFactors[key] = rf
			}
		}
	case strings.HasSuffix(class, "SimpleStrategy"):
		rs.Class = ReplicationSimple
		rs.ReplicationFactor = parseFactor(options["replication_factor"])
	default:
		rs.Class = ReplicationOther
	}

	return rs
}

// parseFactor accepts "3" as well as the transient form "3/1".
func parseFactor(value string) int {
	if i := strings.IndexByte(value, '/'); i >= 0 {
		value = value[:i]
	}
	rf, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || rf < 0 {
		return 0
	}

	return rf
}

// Equal reports whether two strategies place replicas identically.
func (rs ReplicationStrategy) Equal(other ReplicationStrategy) bool {
	if rs.Class != other.Class || rs.ReplicationFactor != other.ReplicationFactor {
		return false
	}
	if len(rs.DatacenterFactors) != len(other.DatacenterFactors) {
		return false
	}
	for dc, rf := range rs.DatacenterFactors {
		if other.DatacenterFactors[dc] != rf {
			return false
		}
	}

	return true
}

// KeyspaceMetadata describes one keyspace.
type KeyspaceMetadata struct {
	Name        string
	Replication ReplicationStrategy
}

// SetKeyspaces replaces all known keyspaces.
func (r *Registry) SetKeyspaces(keyspaces []KeyspaceMetadata) {
	next := make(map[string]KeyspaceMetadata, len(keyspaces))
	for _, ks := range keyspaces {
		next[ks.Name] = ks
	}

	r.mu.Lock()
	r.keyspaces.Store(&next)
	r.mu.Unlock()
}

// UpdateKeyspace inserts or replaces a single keyspace.
func (r *Registry) UpdateKeyspace(ks KeyspaceMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.keyspaces.Load()
	next := make(map[string]KeyspaceMetadata, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[ks.Name] = ks
	r.keyspaces.Store(&next)
}

// RemoveKeyspace forgets a dropped keyspace.
func (r *Registry) RemoveKeyspace(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.keyspaces.Load()
	if _, ok := cur[name]; !ok {
		return
	}
	next := make(map[string]KeyspaceMetadata, len(cur))
	for k, v := range cur {
		if k != name {
			next[k] = v
		}
	}
	r.keyspaces.Store(&next)
}

// Keyspace returns the metadata of the named keyspace.
//
// Returns:
//   - KeyspaceMetadata: The keyspace metadata
//   - bool: false if the keyspace is unknown
func (r *Registry) Keyspace(name string) (KeyspaceMetadata, bool) {
	ks, ok := (*r.keyspaces.Load())[name]
	return ks, ok
}
