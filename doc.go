// Package cqlcore is a client driver core for Apache Cassandra and
// compatible databases speaking the CQL native protocol (versions 2 to 4).
//
// A Session discovers the cluster through a control connection, keeps a
// registry of hosts with their datacenter, rack, tokens and state, and holds
// a pool of multiplexed connections per host. Every request is routed by a
// load balancing policy, retried by a retry policy and optionally raced by
// speculative executions.
//
// # Key Features
//
//   - Load Balancing: round robin, DC-aware, token-aware, latency-aware and host filters
//   - Connection Pools: core and max connections per host with pending request water marks
//   - Request Engine: retry decisions, speculative execution, idempotency gating
//   - Prepared Statements: cached per keyspace, re-prepared on UNPREPARED and host recovery
//   - Topology Events: STATUS_CHANGE, TOPOLOGY_CHANGE and SCHEMA_CHANGE handling
//   - Drain Overrides: take hosts out of rotation from a local or NATS KV source
//   - Metrics: HDR latency histograms, rates and a pluggable MetricsCollector
//
// # Basic Usage
//
//	session, err := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1", "10.0.0.2"),
//	    cqlcore.WithLoadBalancingPolicy(
//	        policy.NewTokenAware(policy.NewDCAwareRoundRobin("dc1")),
//	    ),
//	    cqlcore.WithKeyspace("app"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close(context.Background())
//
//	err = session.Query("INSERT INTO users (id, name) VALUES (?, ?)", id, name).
//	    Idempotent(true).
//	    Exec(ctx)
//
// Prepared statements bind values with the column types the server reports:
//
//	stmt, err := session.Prepare(ctx, "SELECT name FROM users WHERE id = ?")
//	if err != nil {
//	    return err
//	}
//	res, err := stmt.Bind(id).Result(ctx)
//	for res.Next() {
//	    var name string
//	    if err := res.Scan(&name); err != nil {
//	        return err
//	    }
//	}
//
// # Idempotency
//
// Statements are not idempotent unless marked with Idempotent(true). A
// non-idempotent request is never sent twice once a frame has been written:
// write timeouts, overloaded coordinators, client timeouts and lost
// connections surface to the caller instead of being retried, and no
// speculative execution is started. Read timeouts and UNAVAILABLE errors are
// always handed to the retry policy because the coordinator did not apply
// the request.
//
// # Error Handling
//
// Errors are typed and wrap sentinel values so both errors.Is and errors.As
// work:
//
//	err := session.Query("SELECT ...").Exec(ctx)
//	var nhErr *types.NoHostsAvailableError
//	if errors.As(err, &nhErr) {
//	    for host, hostErr := range nhErr.Errors {
//	        log.Printf("%s: %v", host, hostErr)
//	    }
//	}
//
// The error types are:
//
//   - types.ServerError: an ERROR frame, classified by types.ErrorKind
//   - types.NoHostsAvailableError: the query plan was exhausted
//   - types.RequestTimeoutError: the request or attempt timeout elapsed
//   - types.ConnectionError: a transport failure on one host
//   - types.ProtocolError: a protocol violation or version mismatch
//   - types.ConfigError: an invalid configuration value
//
// # Shutdown
//
// Close stops accepting requests, waits for in-flight requests to finish
// and releases every connection. The context bounds the wait.
//
// # Configuration Files
//
// LoadConfigFile reads a YAML document into options, so deployments can
// tune pools and policies without code changes:
//
//	opts, err := cqlcore.LoadConfigFile("/etc/app/cassandra.yaml")
//	session, err := cqlcore.Connect(ctx, opts...)
package cqlcore
