package policy

import "time"

// SpeculativeExecutionPolicy decides when additional attempts of an
// idempotent request are launched while earlier attempts are outstanding.
type SpeculativeExecutionPolicy interface {
	// NextExecution returns the delay before the next speculative attempt
	// given the number already launched, and false when no more may start.
	NextExecution(launched int) (time.Duration, bool)
}

// NoSpeculativeExecution never launches speculative attempts.
type NoSpeculativeExecution struct{}

var _ SpeculativeExecutionPolicy = NoSpeculativeExecution{}

// NextExecution implements SpeculativeExecutionPolicy.
func (NoSpeculativeExecution) NextExecution(_ int) (time.Duration, bool) {
	return 0, false
}

// ConstantSpeculativeExecution launches up to MaxExecutions extra attempts,
// each Delay after the previous one.
//
// Example:
//
//	session, _ := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1"),
//	    cqlcore.WithSpeculativeExecutionPolicy(
//	        policy.NewConstantSpeculativeExecution(50*time.Millisecond, 2),
//	    ),
//	)
type ConstantSpeculativeExecution struct {
	Delay         time.Duration
	MaxExecutions int
}

var _ SpeculativeExecutionPolicy = ConstantSpeculativeExecution{}

// NewConstantSpeculativeExecution creates a constant speculative policy.
//
// Parameters:
//   - delay: Delay between attempts
//   - maxExecutions: Maximum number of speculative attempts
//
// Returns:
//   - ConstantSpeculativeExecution: A new policy
func NewConstantSpeculativeExecution(delay time.Duration, maxExecutions int) ConstantSpeculativeExecution {
	return ConstantSpeculativeExecution{Delay: delay, MaxExecutions: maxExecutions}
}

// NextExecution implements SpeculativeExecutionPolicy.
func (p ConstantSpeculativeExecution) NextExecution(launched int) (time.Duration, bool) {
	if p.Delay < 0 || launched >= p.MaxExecutions {
		return 0, false
	}

	return p.Delay, true
}
