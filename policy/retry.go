package policy

import (
	"github.com/arloliu/cqlcore/internal/logging"
	"github.com/arloliu/cqlcore/types"
)

// RetryDecisionType is the action the engine takes after a failed attempt.
type RetryDecisionType uint8

const (
	// Rethrow resolves the request with the failure.
	Rethrow RetryDecisionType = iota
	// RetrySameHost sends the request again to the host that failed.
	RetrySameHost
	// RetryNextHost advances the query plan before sending again.
	RetryNextHost
	// Ignore resolves the request with an empty result.
	Ignore
)

// String returns the name of the decision.
func (d RetryDecisionType) String() string {
	switch d {
	case Rethrow:
		return "RETHROW"
	case RetrySameHost:
		return "RETRY_SAME_HOST"
	case RetryNextHost:
		return "RETRY_NEXT_HOST"
	case Ignore:
		return "IGNORE"
	default:
		return "UNKNOWN"
	}
}

// RetryDecision is returned by a RetryPolicy.
type RetryDecision struct {
	Type RetryDecisionType

	// Consistency is the level to use for the retry. It equals the failed
	// attempt's level unless the policy changes it.
	Consistency types.Consistency
}

// IsRetry reports whether the decision sends another attempt.
func (d RetryDecision) IsRetry() bool {
	return d.Type == RetrySameHost || d.Type == RetryNextHost
}

// RetrySame returns a same host retry at consistency cl.
func RetrySame(cl types.Consistency) RetryDecision {
	return RetryDecision{Type: RetrySameHost, Consistency: cl}
}

// RetryNext returns a next host retry at consistency cl.
func RetryNext(cl types.Consistency) RetryDecision {
	return RetryDecision{Type: RetryNextHost, Consistency: cl}
}

// RethrowDecision returns a decision surfacing the failure.
func RethrowDecision() RetryDecision {
	return RetryDecision{Type: Rethrow}
}

// IgnoreDecision returns a decision resolving with an empty result.
func IgnoreDecision() RetryDecision {
	return RetryDecision{Type: Ignore}
}

// Failure describes a failed attempt for a RetryPolicy.
//
// Kind selects the path: ErrorKindReadTimeout, ErrorKindWriteTimeout and
// ErrorKindUnavailable carry their counts; every other kind is a request
// error (connection lost, client timeout, overloaded, server error) that the
// engine only routes to the policy for idempotent requests.
type Failure struct {
	Kind        types.ErrorKind
	Consistency types.Consistency

	// Required is the replica count needed (unavailable) or blocked for
	// (timeouts).
	Required int
	// Alive is the replica count known alive (unavailable).
	Alive int
	// Received is the acknowledgement count (timeouts).
	Received int
	// DataPresent reports whether the data replica answered (read timeout).
	DataPresent bool
	// WriteType is the kind of write that timed out.
	WriteType types.WriteType

	// NumRetries is the number of retries already made for the request.
	NumRetries int

	// Err is the underlying error.
	Err error
}

// FailureFromServerError builds a Failure from a server error.
//
// Parameters:
//   - err: The server error
//   - numRetries: Retries already made
//
// Returns:
//   - Failure: The failure description
func FailureFromServerError(err *types.ServerError, numRetries int) Failure {
	return Failure{
		Kind:        err.Kind,
		Consistency: err.Consistency,
		Required:    err.Required,
		Alive:       err.Alive,
		Received:    err.Received,
		DataPresent: err.DataPresent,
		WriteType:   err.WriteType,
		NumRetries:  numRetries,
		Err:         err,
	}
}

// RetryPolicy decides what to do after a failed attempt.
//
// Implementations must be safe for concurrent use.
type RetryPolicy interface {
	Decide(f Failure) RetryDecision
}

// DefaultRetry retries only when the retry is likely to succeed.
//
//   - Read timeout: one same host retry when enough replicas answered but
//     the data replica did not.
//   - Write timeout: one same host retry for BATCH_LOG writes.
//   - Unavailable: one retry on the next host.
//   - Request errors: retry on the next host.
type DefaultRetry struct{}

var _ RetryPolicy = DefaultRetry{}

// NewDefaultRetry creates a new default retry policy.
func NewDefaultRetry() DefaultRetry {
	return DefaultRetry{}
}

// Decide implements RetryPolicy.
func (DefaultRetry) Decide(f Failure) RetryDecision {
	switch f.Kind {
	case types.ErrorKindReadTimeout:
		if f.NumRetries == 0 && f.Received >= f.Required && !f.DataPresent {
			return RetrySame(f.Consistency)
		}

		return RethrowDecision()

	case types.ErrorKindWriteTimeout:
		if f.NumRetries == 0 && f.WriteType == types.WriteTypeBatchLog {
			return RetrySame(f.Consistency)
		}

		return RethrowDecision()

	case types.ErrorKindUnavailable:
		if f.NumRetries == 0 {
			return RetryNext(f.Consistency)
		}

		return RethrowDecision()

	default:
		return RetryNext(f.Consistency)
	}
}

// DowngradingConsistencyRetry retries at a lower consistency when the
// cluster reported fewer live or responding replicas than required.
//
// The level tried is the strongest of THREE, TWO and ONE that the reported
// replica count can satisfy, and it is never stronger than the failed level.
// Serial reads are never downgraded.
//
// WARNING: a downgraded write may be acknowledged by fewer replicas than the
// application asked for. Use it only when availability matters more than
// consistency.
type DowngradingConsistencyRetry struct {
	maxRetries int
}

var _ RetryPolicy = (*DowngradingConsistencyRetry)(nil)

// DowngradingOption configures a DowngradingConsistencyRetry policy.
type DowngradingOption func(*DowngradingConsistencyRetry)

// WithMaxDowngrades sets how many retries the policy allows per request.
//
// Default: 1
//
// Parameters:
//   - n: Maximum number of retries
//
// Returns:
//   - DowngradingOption: Configuration option
func WithMaxDowngrades(n int) DowngradingOption {
	return func(p *DowngradingConsistencyRetry) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

// NewDowngradingConsistencyRetry creates a new downgrading retry policy.
//
// Parameters:
//   - opts: Optional configuration options
//
// Returns:
//   - *DowngradingConsistencyRetry: A new policy
func NewDowngradingConsistencyRetry(opts ...DowngradingOption) *DowngradingConsistencyRetry {
	p := &DowngradingConsistencyRetry{maxRetries: 1}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Decide implements RetryPolicy.
func (p *DowngradingConsistencyRetry) Decide(f Failure) RetryDecision {
	switch f.Kind {
	case types.ErrorKindReadTimeout:
		if f.NumRetries >= p.maxRetries || f.Consistency.IsSerial() {
			return RethrowDecision()
		}
		if f.Received < f.Required {
			return maxLikelyToWork(f.Received, f.Consistency)
		}
		if !f.DataPresent {
			return RetrySame(f.Consistency)
		}

		return RethrowDecision()

	case types.ErrorKindWriteTimeout:
		if f.NumRetries >= p.maxRetries {
			return RethrowDecision()
		}
		switch f.WriteType {
		case types.WriteTypeSimple, types.WriteTypeBatch:
			// at least one replica persisted the write
			if f.Received > 0 {
				return IgnoreDecision()
			}

			return RethrowDecision()
		case types.WriteTypeUnloggedBatch:
			return maxLikelyToWork(f.Received, f.Consistency)
		case types.WriteTypeBatchLog:
			return RetrySame(f.Consistency)
		default:
			return RethrowDecision()
		}

	case types.ErrorKindUnavailable:
		if f.NumRetries >= p.maxRetries {
			return RethrowDecision()
		}

		return maxLikelyToWork(f.Alive, f.Consistency)

	default:
		return RetryNext(f.Consistency)
	}
}

// replicaCount returns the fixed replica count of numeric levels, 0 otherwise.
func replicaCount(cl types.Consistency) int {
	switch cl {
	case types.One, types.LocalOne:
		return 1
	case types.Two:
		return 2
	case types.Three:
		return 3
	default:
		return 0
	}
}

// maxLikelyToWork returns a same host retry at the strongest numeric level
// n replicas can satisfy, provided it is weaker than current.
func maxLikelyToWork(n int, current types.Consistency) RetryDecision {
	var target types.Consistency
	switch {
	case n >= 3:
		target = types.Three
	case n == 2:
		target = types.Two
	case n == 1:
		target = types.One
	default:
		return RethrowDecision()
	}

	if have := replicaCount(current); have > 0 && replicaCount(target) >= have {
		return RethrowDecision()
	}

	return RetrySame(target)
}

// FallthroughRetry never retries.
type FallthroughRetry struct{}

var _ RetryPolicy = FallthroughRetry{}

// NewFallthroughRetry creates a policy that surfaces every failure.
func NewFallthroughRetry() FallthroughRetry {
	return FallthroughRetry{}
}

// Decide implements RetryPolicy.
func (FallthroughRetry) Decide(_ Failure) RetryDecision {
	return RethrowDecision()
}

// LoggingRetry logs the retry and ignore decisions of a wrapped policy.
type LoggingRetry struct {
	child  RetryPolicy
	logger types.Logger
}

var _ RetryPolicy = (*LoggingRetry)(nil)

// NewLoggingRetry wraps child with decision logging.
//
// Parameters:
//   - child: The policy making decisions
//   - logger: The logger, nil for no output
//
// Returns:
//   - *LoggingRetry: A new logging policy
func NewLoggingRetry(child RetryPolicy, logger types.Logger) *LoggingRetry {
	return &LoggingRetry{child: child, logger: logging.OrNop(logger)}
}

// Decide implements RetryPolicy.
func (p *LoggingRetry) Decide(f Failure) RetryDecision {
	d := p.child.Decide(f)

	switch d.Type {
	case RetrySameHost, RetryNextHost:
		p.logger.Info("retrying request",
			"error_kind", f.Kind.String(),
			"decision", d.Type.String(),
			"consistency", f.Consistency.String(),
			"retry_consistency", d.Consistency.String(),
			"required", f.Required,
			"received", f.Received,
			"alive", f.Alive,
			"retries", f.NumRetries,
		)
	case Ignore:
		p.logger.Info("ignoring request error",
			"error_kind", f.Kind.String(),
			"consistency", f.Consistency.String(),
			"required", f.Required,
			"received", f.Received,
			"retries", f.NumRetries,
		)
	}

	return d
}
