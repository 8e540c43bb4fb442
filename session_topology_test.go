package cqlcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/test/testutil"
	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

const insertQuery = "INSERT INTO ks.tbl (k, v) VALUES ('a', 'b')"

func TestNewHostIsPreparedBeforeUse(t *testing.T) {
	fc := testutil.NewFakeCluster(t, testutil.WithFakeNodes(2))
	s := newTestSession(t, fc)
	ctx := testContext(t)

	_, err := s.Prepare(ctx, "SELECT v FROM ks.tbl WHERE k = ?")
	require.NoError(t, err)
	_, err = s.Prepare(ctx, "INSERT INTO ks.tbl (k, v) VALUES (?, ?)")
	require.NoError(t, err)

	added, err := fc.AddNode("dc1", "rack1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return hostByEndpoint(s, added.Endpoint()) != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return added.Prepares() == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Zero(t, added.Executes())
	require.Zero(t, added.Requests())
}

// inFlightOn starts stmt, waits until victim received it and stops victim
// while the request is unanswered.
func inFlightOn(t *testing.T, victim *testutil.FakeNode, stmt *Query) (*Result, error) {
	t.Helper()
	ctx := testContext(t)

	before := victim.Requests()
	victim.AddRule(testutil.FakeRule{Match: "INSERT", Blackhole: true})

	fut := stmt.ExecAsync(ctx)
	require.Eventually(t, func() bool {
		return victim.Requests() == before+1
	}, 5*time.Second, 5*time.Millisecond)

	victim.Stop()

	return fut.Get(ctx)
}

func TestNonIdempotentConnectionLossIsSurfaced(t *testing.T) {
	fc := testutil.NewFakeCluster(t, testutil.WithFakeNodes(2))
	s := newTestSession(t, fc, WithLoadBalancingPolicy(policy.NewRoundRobin()))
	ctx := testContext(t)

	victim := nextCoordinator(t, ctx, s, fc)
	before := fc.Requests()

	_, err := inFlightOn(t, victim, s.Query(insertQuery))
	require.Error(t, err)

	var connErr *types.ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, victim.Endpoint(), connErr.Host)

	// the write may have been applied, so it is never sent again
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, fc.Requests()-before)
}

func TestIdempotentConnectionLossRetriesNextHost(t *testing.T) {
	fc := testutil.NewFakeCluster(t, testutil.WithFakeNodes(2))
	s := newTestSession(t, fc, WithLoadBalancingPolicy(policy.NewRoundRobin()))
	ctx := testContext(t)

	victim := nextCoordinator(t, ctx, s, fc)
	before := fc.Requests()

	res, err := inFlightOn(t, victim, s.Query(insertQuery).Idempotent(true))
	require.NoError(t, err)
	require.NotEqual(t, victim.Endpoint(), res.Host())
	require.Equal(t, ResultVoid, res.Kind())
	require.EqualValues(t, 2, fc.Requests()-before)
}

var ntsReplication = map[string]string{
	"class": "org.apache.cassandra.locator.NetworkTopologyStrategy",
	"dc1":   "2",
	"dc2":   "1",
}

func TestKeyspaceReplicationIsLoaded(t *testing.T) {
	fc := testutil.NewFakeCluster(t,
		testutil.WithFakeDatacenters("dc1", "dc1", "dc2"),
		testutil.WithFakeKeyspace("app", ntsReplication),
	)
	s := newTestSession(t, fc)

	ks, ok := s.KeyspaceMetadata("app")
	require.True(t, ok)
	require.Equal(t, topology.ReplicationNetworkTopology, ks.Replication.Class)
	require.Equal(t, map[string]int{"dc1": 2, "dc2": 1}, ks.Replication.DatacenterFactors)

	ks, ok = s.KeyspaceMetadata(testutil.FakeKeyspace)
	require.True(t, ok)
	require.Equal(t, topology.ReplicationSimple, ks.Replication.Class)
	require.Equal(t, 1, ks.Replication.ReplicationFactor)
}

func TestKeyspaceReplicationFollowsSchemaChanges(t *testing.T) {
	fc := testutil.NewFakeCluster(t, testutil.WithFakeNodes(2))
	s := newTestSession(t, fc)

	_, ok := s.KeyspaceMetadata("app")
	require.False(t, ok)

	fc.SetKeyspace("app", ntsReplication)
	require.Eventually(t, func() bool {
		ks, ok := s.KeyspaceMetadata("app")
		return ok && ks.Replication.Class == topology.ReplicationNetworkTopology
	}, 5*time.Second, 10*time.Millisecond)

	fc.SetKeyspace("app", map[string]string{"class": "SimpleStrategy", "replication_factor": "2"})
	require.Eventually(t, func() bool {
		ks, ok := s.KeyspaceMetadata("app")
		return ok && ks.Replication.Class == topology.ReplicationSimple && ks.Replication.ReplicationFactor == 2
	}, 5*time.Second, 10*time.Millisecond)

	fc.DropKeyspace("app")
	require.Eventually(t, func() bool {
		_, ok := s.KeyspaceMetadata("app")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLegacySchemaLeavesKeyspacesUnknown(t *testing.T) {
	fc := testutil.NewFakeCluster(t, testutil.WithFakeNodes(2), testutil.WithFakeLegacySchema())
	s := newTestSession(t, fc)
	ctx := testContext(t)

	require.Len(t, s.Hosts(), 2)
	_, ok := s.KeyspaceMetadata(testutil.FakeKeyspace)
	require.False(t, ok)

	_, err := s.Query(selectQuery).RoutingKey([]byte("a")).Keyspace(testutil.FakeKeyspace).Result(ctx)
	require.NoError(t, err)
}

func TestTokenAwareRoutesByKeyspaceReplication(t *testing.T) {
	fc := testutil.NewFakeCluster(t,
		testutil.WithFakeDatacenters("dc1", "dc1", "dc1", "dc1"),
		testutil.WithFakeKeyspace("one", map[string]string{"class": "SimpleStrategy", "replication_factor": "1"}),
	)
	s := newTestSession(t, fc,
		WithLoadBalancingPolicy(policy.NewTokenAware(policy.NewRoundRobin(), policy.WithReplicaCount(3))),
	)
	ctx := testContext(t)

	// with a single replica every read of the key lands on the same node
	var coordinator string
	for range 8 {
		res, err := s.Query(selectQuery).RoutingKey([]byte("alice")).Keyspace("one").Result(ctx)
		require.NoError(t, err)
		if coordinator == "" {
			coordinator = res.Host()
		}
		require.Equal(t, coordinator, res.Host())
	}
}
