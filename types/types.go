// Package types provides shared types and errors for the cqlcore driver.
//
// This is a "leaf" package with no imports from other cqlcore packages,
// allowing it to be imported by any package without causing import cycles.
package types

import (
	"strings"
)

// Consistency represents the Cassandra consistency level.
type Consistency uint16

// Consistency levels as encoded on the wire.
const (
	Any         Consistency = 0x00
	One         Consistency = 0x01
	Two         Consistency = 0x02
	Three       Consistency = 0x03
	Quorum      Consistency = 0x04
	All         Consistency = 0x05
	LocalQuorum Consistency = 0x06
	EachQuorum  Consistency = 0x07
	Serial      Consistency = 0x08
	LocalSerial Consistency = 0x09
	LocalOne    Consistency = 0x0A
)

var consistencyNames = map[Consistency]string{
	Any:         "ANY",
	One:         "ONE",
	Two:         "TWO",
	Three:       "THREE",
	Quorum:      "QUORUM",
	All:         "ALL",
	LocalQuorum: "LOCAL_QUORUM",
	EachQuorum:  "EACH_QUORUM",
	Serial:      "SERIAL",
	LocalSerial: "LOCAL_SERIAL",
	LocalOne:    "LOCAL_ONE",
}

// String returns the CQL name of the consistency level.
func (c Consistency) String() string {
	if name, ok := consistencyNames[c]; ok {
		return name
	}

	return "UNKNOWN"
}

// IsSerial reports whether c is SERIAL or LOCAL_SERIAL.
func (c Consistency) IsSerial() bool {
	return c == Serial || c == LocalSerial
}

// IsDCLocal reports whether c only involves replicas of the local datacenter.
func (c Consistency) IsDCLocal() bool {
	return c == LocalOne || c == LocalQuorum || c == LocalSerial
}

// ParseConsistency parses a consistency level name such as "local_quorum".
//
// Parameters:
//   - s: The consistency name (case insensitive)
//
// Returns:
//   - Consistency: The parsed level
//   - bool: false if the name is unknown
func ParseConsistency(s string) (Consistency, bool) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for c, name := range consistencyNames {
		if name == upper {
			return c, true
		}
	}

	return 0, false
}

// Distance is the load balancing classification of a host.
//
// LOCAL and REMOTE hosts are pooled; IGNORE hosts never receive connections.
type Distance int32

const (
	// DistanceLocal marks hosts that are queried first and pooled eagerly.
	DistanceLocal Distance = iota
	// DistanceRemote marks hosts used only after local hosts.
	DistanceRemote
	// DistanceIgnore marks hosts that are never connected to.
	DistanceIgnore
)

// String returns the name of the distance.
func (d Distance) String() string {
	switch d {
	case DistanceLocal:
		return "LOCAL"
	case DistanceRemote:
		return "REMOTE"
	case DistanceIgnore:
		return "IGNORE"
	default:
		return "UNKNOWN"
	}
}

// BatchType represents the type of batch operation.
type BatchType byte

// Batch types as encoded on the wire.
//
// WARNING: CounterBatch operations are NOT idempotent. Counter updates
// are additive, so a retried counter batch may be applied twice.
const (
	LoggedBatch   BatchType = 0
	UnloggedBatch BatchType = 1
	CounterBatch  BatchType = 2
)

// WriteType describes the kind of write that timed out on the server.
type WriteType string

// Write types reported in WRITE_TIMEOUT errors.
const (
	WriteTypeSimple        WriteType = "SIMPLE"
	WriteTypeBatch         WriteType = "BATCH"
	WriteTypeUnloggedBatch WriteType = "UNLOGGED_BATCH"
	WriteTypeCounter       WriteType = "COUNTER"
	WriteTypeBatchLog      WriteType = "BATCH_LOG"
	WriteTypeCAS           WriteType = "CAS"
	WriteTypeView          WriteType = "VIEW"
	WriteTypeCDC           WriteType = "CDC"
)

// ErrorKind is the closed set of failure kinds the driver distinguishes.
//
// Server kinds map one to one to the error codes of the ERROR frame.
// ErrorKindClientTimeout and ErrorKindConnectionLost describe client side
// failures that reach the retry policy.
type ErrorKind uint8

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindServerError
	ErrorKindProtocolError
	ErrorKindAuthenticationError
	ErrorKindUnavailable
	ErrorKindOverloaded
	ErrorKindIsBootstrapping
	ErrorKindTruncateError
	ErrorKindWriteTimeout
	ErrorKindReadTimeout
	ErrorKindReadFailure
	ErrorKindFunctionFailure
	ErrorKindWriteFailure
	ErrorKindSyntaxError
	ErrorKindUnauthorized
	ErrorKindInvalid
	ErrorKindConfigError
	ErrorKindAlreadyExists
	ErrorKindUnprepared
	ErrorKindClientTimeout
	ErrorKindConnectionLost
)

var errorKindByCode = map[int32]ErrorKind{
	0x0000: ErrorKindServerError,
	0x000A: ErrorKindProtocolError,
	0x0100: ErrorKindAuthenticationError,
	0x1000: ErrorKindUnavailable,
	0x1001: ErrorKindOverloaded,
	0x1002: ErrorKindIsBootstrapping,
	0x1003: ErrorKindTruncateError,
	0x1100: ErrorKindWriteTimeout,
	0x1200: ErrorKindReadTimeout,
	0x1300: ErrorKindReadFailure,
	0x1400: ErrorKindFunctionFailure,
	0x1500: ErrorKindWriteFailure,
	0x2000: ErrorKindSyntaxError,
	0x2100: ErrorKindUnauthorized,
	0x2200: ErrorKindInvalid,
	0x2300: ErrorKindConfigError,
	0x2400: ErrorKindAlreadyExists,
	0x2500: ErrorKindUnprepared,
}

var errorKindNames = [...]string{
	ErrorKindUnknown:             "unknown",
	ErrorKindServerError:         "server_error",
	ErrorKindProtocolError:       "protocol_error",
	ErrorKindAuthenticationError: "authentication_error",
	ErrorKindUnavailable:         "unavailable",
	ErrorKindOverloaded:          "overloaded",
	ErrorKindIsBootstrapping:     "is_bootstrapping",
	ErrorKindTruncateError:       "truncate_error",
	ErrorKindWriteTimeout:        "write_timeout",
	ErrorKindReadTimeout:         "read_timeout",
	ErrorKindReadFailure:         "read_failure",
	ErrorKindFunctionFailure:     "function_failure",
	ErrorKindWriteFailure:        "write_failure",
	ErrorKindSyntaxError:         "syntax_error",
	ErrorKindUnauthorized:        "unauthorized",
	ErrorKindInvalid:             "invalid",
	ErrorKindConfigError:         "config_error",
	ErrorKindAlreadyExists:       "already_exists",
	ErrorKindUnprepared:          "unprepared",
	ErrorKindClientTimeout:       "client_timeout",
	ErrorKindConnectionLost:      "connection_lost",
}

// ErrorKindFromCode maps an ERROR frame code to its kind.
//
// Unknown codes map to ErrorKindUnknown.
func ErrorKindFromCode(code int32) ErrorKind {
	if kind, ok := errorKindByCode[code]; ok {
		return kind
	}

	return ErrorKindUnknown
}

// String returns the snake_case name of the kind, suitable for metric labels.
func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}

	return "unknown"
}

// IsConsistencyFailure reports whether the kind is routed through the retry
// policy's consistency paths (unavailable, read and write timeouts).
func (k ErrorKind) IsConsistencyFailure() bool {
	return k == ErrorKindUnavailable || k == ErrorKindReadTimeout || k == ErrorKindWriteTimeout
}
