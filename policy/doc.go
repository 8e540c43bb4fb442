// Package policy provides the pluggable decisions of the cqlcore driver:
// load balancing, retry, speculative execution and reconnection.
//
// # Load Balancing
//
// A [LoadBalancingPolicy] assigns every host a distance and builds a
// [QueryPlan] per request. Plans are lazy: hosts are pulled one at a time by
// the request engine, including by concurrent speculative attempts.
//
// Available policies:
//
//   - [RoundRobin]: cycles through all up hosts
//   - [DCAwareRoundRobin]: local datacenter first, bounded remote fallback
//   - [TokenAware]: replicas of the routing key first, wraps another policy
//   - [LatencyAware]: slow or failing hosts last, wraps another policy
//   - [HostFilter]: hides hosts rejected by a predicate, wraps another policy
//
// Example:
//
//	lb := policy.NewTokenAware(
//	    policy.NewDCAwareRoundRobin("dc1", policy.WithUsedHostsPerRemoteDC(2)),
//	)
//	session, _ := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1", "10.0.0.2"),
//	    cqlcore.WithLoadBalancingPolicy(lb),
//	)
//
// # Retry
//
// A [RetryPolicy] receives a [Failure] describing a failed attempt and
// returns a [RetryDecision]. Consistency failures (unavailable, read and
// write timeouts) carry the replica counts reported by the server.
//
//   - [DefaultRetry]: conservative retries that are likely to succeed
//   - [DowngradingConsistencyRetry]: retries at a weaker consistency
//   - [FallthroughRetry]: never retries
//   - [LoggingRetry]: logs the decisions of another policy
//
// # Speculative Execution
//
// [ConstantSpeculativeExecution] launches additional attempts of idempotent
// requests at a fixed interval while earlier attempts are outstanding. The
// first response wins.
//
// # Reconnection
//
// [ExponentialReconnection] and [ConstantReconnection] produce the delay
// schedules used by host pools to reconnect after failures.
package policy
