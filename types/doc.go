// Package types provides shared types and error definitions for the cqlcore driver.
//
// This is a leaf package with zero cqlcore imports to prevent import cycles.
// All packages in cqlcore can safely import this package.
//
// # Types
//
// Consistency levels use their wire encoding:
//
//	const (
//	    Any         Consistency = 0x00
//	    One         Consistency = 0x01
//	    Quorum      Consistency = 0x04
//	    All         Consistency = 0x05
//	    LocalQuorum Consistency = 0x06
//	    LocalOne    Consistency = 0x0A
//	)
//
// Distance classifies hosts for load balancing: DistanceLocal, DistanceRemote
// and DistanceIgnore.
//
// ErrorKind is the closed set of failure kinds decoded from ERROR frames
// (plus the client side kinds ErrorKindClientTimeout and ErrorKindConnectionLost).
// Retry policies switch on it.
//
// # Errors
//
// Sentinel errors are provided for common failure scenarios:
//
//   - ErrNoHostsAvailable: The query plan was exhausted
//   - ErrSessionClosed: The session was closed
//   - ErrConnectionClosed: The connection carrying a request was closed
//   - ErrRequestTimeout: The request deadline elapsed
//
// Structured errors carry context and unwrap to their causes:
//
//   - ServerError: An ERROR frame with its kind and consistency counts
//   - NoHostsAvailableError: Per-host errors of an exhausted plan
//   - ConnectionError: A transport failure on a host
//   - RequestTimeoutError: A client side timeout
//   - ConfigError: An invalid option
package types
