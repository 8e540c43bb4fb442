package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplication(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]string
		want    ReplicationStrategy
	}{
		{
			name:    "simple",
			options: map[string]string{"class": "org.apache.cassandra.locator.SimpleStrategy", "replication_factor": "3"},
			want:    ReplicationStrategy{Class: ReplicationSimple, ReplicationFactor: 3},
		},
		{
			name: "network topology",
			options: map[string]string{
				"class": "org.apache.cassandra.locator.NetworkTopologyStrategy",
				"dc1":   "3",
				"dc2":   "2/1",
				"dc3":   "zero",
			},
			want: ReplicationStrategy{
				Class:             ReplicationNetworkTopology,
				DatacenterFactors: map[string]int{"dc1": 3, "dc2": 2},
			},
		},
		{
			name:    "short class name",
			options: map[string]string{"class": "SimpleStrategy", "replication_factor": "1"},
			want:    ReplicationStrategy{Class: ReplicationSimple, ReplicationFactor: 1},
		},
		{
			name:    "local strategy",
			options: map[string]string{"class": "org.apache.cassandra.locator.LocalStrategy"},
			want:    ReplicationStrategy{Class: ReplicationOther},
		},
		{
			name:    "missing factor",
			options: map[string]string{"class": "SimpleStrategy"},
			want:    ReplicationStrategy{Class: ReplicationSimple},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseReplication(tt.options)
			assert.True(t, tt.want.Equal(got), "got %+v", got)
		})
	}
}

func TestReplicationStrategyEqual(t *testing.T) {
	a := ReplicationStrategy{Class: ReplicationNetworkTopology, DatacenterFactors: map[string]int{"dc1": 3}}
	b := ReplicationStrategy{Class: ReplicationNetworkTopology, DatacenterFactors: map[string]int{"dc1": 3}}
	c := ReplicationStrategy{Class: ReplicationNetworkTopology, DatacenterFactors: map[string]int{"dc1": 2}}
	d := ReplicationStrategy{Class: ReplicationNetworkTopology, DatacenterFactors: map[string]int{"dc1": 3, "dc2": 1}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.False(t, a.Equal(ReplicationStrategy{Class: ReplicationSimple, ReplicationFactor: 3}))
}

func TestRegistryKeyspaces(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Keyspace("ks")
	assert.False(t, ok)

	simple := ReplicationStrategy{Class: ReplicationSimple, ReplicationFactor: 2}
	reg.SetKeyspaces([]KeyspaceMetadata{
		{Name: "ks", Replication: simple},
		{Name: "system", Replication: ReplicationStrategy{Class: ReplicationOther}},
	})

	ks, ok := reg.Keyspace("ks")
	require.True(t, ok)
	assert.True(t, simple.Equal(ks.Replication))

	nts := ReplicationStrategy{Class: ReplicationNetworkTopology, DatacenterFactors: map[string]int{"dc1": 3}}
	reg.UpdateKeyspace(KeyspaceMetadata{Name: "ks", Replication: nts})
	ks, ok = reg.Keyspace("ks")
	require.True(t, ok)
	assert.Equal(t, ReplicationNetworkTopology, ks.Replication.Class)

	reg.RemoveKeyspace("ks")
	_, ok = reg.Keyspace("ks")
	assert.False(t, ok)
	_, ok = reg.Keyspace("system")
	assert.True(t, ok)

	reg.SetKeyspaces(nil)
	_, ok = reg.Keyspace("system")
	assert.False(t, ok)
}
