// Package testutil provides test servers and helpers for cqlcore testing.
//
// # Fake Cluster
//
// [FakeCluster] runs CQL nodes in process, each on its own 127.0.0.1 port.
// It speaks the native protocol through go-cassandra-native-protocol, so a
// real session can connect, discover peers and run requests without Docker:
//
//	fc := testutil.NewFakeCluster(t, testutil.WithFakeDatacenters("dc1", "dc1", "dc2"))
//	session, _ := cqlcore.Connect(ctx, cqlcore.WithContactPoints(fc.ContactPoints()[0]))
//
// Rules inject server errors, delays or dropped responses:
//
//	fc.AddRule(testutil.FakeRule{Match: "users", Error: testutil.OverloadedError(), Times: 1})
//
// Nodes can be stopped and restarted on the same port; the remaining nodes
// announce STATUS_CHANGE events to registered connections.
//
// # Integration Test Helpers
//
//   - StartDrainStore: Embedded JetStream KV bucket for drain watcher tests
//   - StartCassandra: Starts a Cassandra test container (requires Docker)
//   - TestMetricsCollector: Records MetricsCollector calls for assertions
package testutil
