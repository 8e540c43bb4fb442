// Package topology tracks the cluster members known to a session.
//
// # Registry
//
// [Registry] is the authoritative host set. Each [Host] is keyed by its
// "address:port" endpoint and carries the datacenter, rack, host id and
// tokens reported by the control connection, plus up/down state and the
// load balancing [types.Distance]. Readers take an immutable
// [Registry.Snapshot]; writers are serialized and publish a new view, so
// query plans never observe a half applied change.
//
//	reg := topology.NewRegistry()
//	reg.AddListener(listener)
//	reg.AddOrUpdate("10.0.0.1:9042", topology.HostInfo{Datacenter: "dc1"})
//
// Listeners receive add, remove, up and down notifications outside the
// registry lock.
//
// # Drain Overrides
//
// A [DrainWatcher] lets operators take hosts out of rotation without
// touching the cluster. [NATS] watches a NATS KV key holding a JSON document:
//
//	{
//	    "drain": ["10.0.0.3:9042"],
//	    "reason": "OS Patching"
//	}
//
// Drained hosts are skipped by every query plan until removed from the list.
// Deleting the key, or writing an invalid document, restores all hosts.
//
//	nc, _ := nats.Connect("nats://localhost:4222")
//	js, _ := jetstream.New(nc)
//	kv, _ := js.KeyValue(ctx, "cassandra-ops")
//
//	watcher, _ := topology.NewNATS(kv, topology.WithKey("cassandra.drain"))
//	session, _ := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1"),
//	    cqlcore.WithHostDrainWatcher(watcher),
//	)
//
// [Local] is an in-memory watcher for tests and custom control planes.
package topology
