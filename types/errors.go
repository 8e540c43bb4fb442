package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrNoHostsAvailable indicates the query plan was exhausted without a
	// successful attempt. Returned errors wrap it in NoHostsAvailableError.
	ErrNoHostsAvailable = errors.New("cqlcore: no hosts available")

	// ErrSessionClosed indicates an operation was attempted on a closed session.
	ErrSessionClosed = errors.New("cqlcore: session is closed")

	// ErrConnectionClosed indicates the connection was closed while the
	// request was pending or before it could be written.
	ErrConnectionClosed = errors.New("cqlcore: connection closed")

	// ErrConnectionNotReady indicates the connection is still in its handshake.
	ErrConnectionNotReady = errors.New("cqlcore: connection not ready")

	// ErrStreamsExhausted indicates every stream id of a connection is in use.
	ErrStreamsExhausted = errors.New("cqlcore: no free stream ids on connection")

	// ErrConnectionOverloaded indicates the connection reached its pending
	// requests high water mark and is not accepting new requests.
	ErrConnectionOverloaded = errors.New("cqlcore: connection pending requests above high water mark")

	// ErrNoConnection indicates a host pool has no connection with spare capacity.
	ErrNoConnection = errors.New("cqlcore: no connection available for host")

	// ErrRequestTimeout indicates the request deadline elapsed without a response.
	ErrRequestTimeout = errors.New("cqlcore: request timed out")

	// ErrAttemptTimeout indicates a single attempt elapsed its attempt timeout.
	ErrAttemptTimeout = errors.New("cqlcore: attempt timed out")

	// ErrConnectTimeout indicates a connection could not be established in time.
	ErrConnectTimeout = errors.New("cqlcore: connect timed out")

	// ErrHeartbeatTimeout indicates nothing was read from a connection within
	// its idle timeout.
	ErrHeartbeatTimeout = errors.New("cqlcore: connection idle timeout, heartbeat unanswered")

	// ErrUnsupportedProtocolVersion indicates no protocol version could be
	// negotiated with the server.
	ErrUnsupportedProtocolVersion = errors.New("cqlcore: unsupported protocol version")

	// ErrUnsupportedCompression indicates an unknown compression algorithm.
	ErrUnsupportedCompression = errors.New("cqlcore: unsupported compression algorithm")

	// ErrAuthRequired indicates the server requested authentication but no
	// authenticator was configured.
	ErrAuthRequired = errors.New("cqlcore: server requires authentication")

	// ErrInvalidBatchType indicates an unsupported batch type was specified.
	ErrInvalidBatchType = errors.New("cqlcore: invalid batch type")

	// ErrNotPrepared indicates a bound statement references a statement that
	// is not known to the session.
	ErrNotPrepared = errors.New("cqlcore: statement is not prepared")

	// ErrNoContactPoints indicates the configuration has no contact points.
	ErrNoContactPoints = errors.New("cqlcore: no contact points")

	// ErrUnknownExecutionProfile indicates a statement names an execution
	// profile the session was not configured with.
	ErrUnknownExecutionProfile = errors.New("cqlcore: unknown execution profile")

	// ErrInternal indicates a driver bug or an impossible state.
	ErrInternal = errors.New("cqlcore: internal error")
)

// ServerError is an error reported by a server in an ERROR frame.
//
// Kind is the closed variant used by the retry policy. The count fields are
// populated for the consistency failures that carry them.
type ServerError struct {
	// Kind is the decoded error kind.
	Kind ErrorKind

	// Code is the raw protocol error code.
	Code int32

	// Message is the server provided message.
	Message string

	// Host is the endpoint of the coordinator that reported the error.
	Host string

	// Consistency is the consistency level of the failed operation.
	Consistency Consistency

	// Required is the number of replicas required (UNAVAILABLE) or the
	// number of acknowledgements blocked for (timeouts and failures).
	Required int

	// Alive is the number of replicas known to be alive (UNAVAILABLE).
	Alive int

	// Received is the number of acknowledgements received (timeouts and failures).
	Received int

	// DataPresent reports whether the replica asked for data responded (READ_TIMEOUT).
	DataPresent bool

	// WriteType is the kind of write that failed (WRITE_TIMEOUT, WRITE_FAILURE).
	WriteType WriteType

	// Keyspace and Table identify the object of ALREADY_EXISTS errors.
	Keyspace string
	Table    string

	// StatementID is the unknown prepared id of UNPREPARED errors.
	StatementID []byte
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	var b strings.Builder
	b.WriteString("cqlcore: server error [")
	b.WriteString(e.Kind.String())
	b.WriteString("]")
	if e.Host != "" {
		b.WriteString(" from ")
		b.WriteString(e.Host)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)

	switch e.Kind {
	case ErrorKindUnavailable:
		fmt.Fprintf(&b, " (consistency=%s required=%d alive=%d)", e.Consistency, e.Required, e.Alive)
	case ErrorKindReadTimeout:
		fmt.Fprintf(&b, " (consistency=%s received=%d blockfor=%d data_present=%t)",
			e.Consistency, e.Received, e.Required, e.DataPresent)
	case ErrorKindWriteTimeout:
		fmt.Fprintf(&b, " (consistency=%s received=%d blockfor=%d write_type=%s)",
			e.Consistency, e.Received, e.Required, e.WriteType)
	}

	return b.String()
}

// NoHostsAvailableError is returned when a query plan is exhausted.
//
// Errors holds the last error observed per host endpoint, if any.
type NoHostsAvailableError struct {
	Errors map[string]error
}

// Error implements the error interface.
func (e *NoHostsAvailableError) Error() string {
	if len(e.Errors) == 0 {
		return ErrNoHostsAvailable.Error()
	}

	hosts := make([]string, 0, len(e.Errors))
	for host := range e.Errors {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	parts := make([]string, 0, len(hosts))
	for _, host := range hosts {
		parts = append(parts, host+": "+e.Errors[host].Error())
	}

	return ErrNoHostsAvailable.Error() + " (tried: " + strings.Join(parts, "; ") + ")"
}

// Unwrap returns the sentinel and the per-host errors for errors.Is/As.
func (e *NoHostsAvailableError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors)+1)
	errs = append(errs, ErrNoHostsAvailable)
	for _, err := range e.Errors {
		errs = append(errs, err)
	}

	return errs
}

// ConnectionError wraps a transport level failure on a specific host.
type ConnectionError struct {
	// Host is the endpoint of the connection.
	Host string

	// Op describes what was being done ("dial", "handshake", "write", "read").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return "cqlcore: connection to " + e.Host + " failed during " + e.Op + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// ProtocolError is a protocol violation or a version negotiation failure.
type ProtocolError struct {
	// Host is the endpoint that produced the error.
	Host string

	// Message describes the violation.
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Host == "" {
		return "cqlcore: protocol error: " + e.Message
	}

	return "cqlcore: protocol error from " + e.Host + ": " + e.Message
}

// IsVersionMismatch reports whether the server rejected the protocol version.
func (e *ProtocolError) IsVersionMismatch() bool {
	msg := strings.ToLower(e.Message)

	return strings.Contains(msg, "invalid or unsupported protocol version") ||
		strings.Contains(msg, "beta version of the protocol")
}

// RequestTimeoutError reports a client side timeout.
type RequestTimeoutError struct {
	// Timeout is the elapsed limit.
	Timeout time.Duration

	// Host is the last host attempted, if any.
	Host string

	// Cause is ErrRequestTimeout or ErrAttemptTimeout.
	Cause error
}

// Error implements the error interface.
func (e *RequestTimeoutError) Error() string {
	msg := e.Cause.Error() + " after " + e.Timeout.String()
	if e.Host != "" {
		msg += " (last host " + e.Host + ")"
	}

	return msg
}

// Unwrap returns the underlying sentinel.
func (e *RequestTimeoutError) Unwrap() error {
	return e.Cause
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	// Field names the offending option.
	Field string

	// Reason describes the problem.
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "cqlcore: invalid configuration " + e.Field + ": " + e.Reason
}
