package cqlcore

import (
	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// Type aliases for convenience - re-export from types and topology packages.
type (
	Consistency      = types.Consistency
	Distance         = types.Distance
	BatchType        = types.BatchType
	WriteType        = types.WriteType
	ErrorKind        = types.ErrorKind
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
	Host             = topology.Host
	HostInfo         = topology.HostInfo
	KeyspaceMetadata = topology.KeyspaceMetadata

	ServerError           = types.ServerError
	NoHostsAvailableError = types.NoHostsAvailableError
	ConnectionError       = types.ConnectionError
	ProtocolError         = types.ProtocolError
	RequestTimeoutError   = types.RequestTimeoutError
	ConfigError           = types.ConfigError
)

// Re-export consistency level constants for convenience.
const (
	Any         = types.Any
	One         = types.One
	Two         = types.Two
	Three       = types.Three
	Quorum      = types.Quorum
	All         = types.All
	LocalQuorum = types.LocalQuorum
	EachQuorum  = types.EachQuorum
	Serial      = types.Serial
	LocalSerial = types.LocalSerial
	LocalOne    = types.LocalOne
)

// Re-export batch type constants for convenience.
const (
	LoggedBatch   = types.LoggedBatch
	UnloggedBatch = types.UnloggedBatch
	CounterBatch  = types.CounterBatch
)

// Re-export sentinel errors for convenience.
var (
	ErrNoHostsAvailable = types.ErrNoHostsAvailable
	ErrSessionClosed    = types.ErrSessionClosed
	ErrRequestTimeout   = types.ErrRequestTimeout
	ErrNotPrepared      = types.ErrNotPrepared

	ErrUnknownExecutionProfile = types.ErrUnknownExecutionProfile
)
