package cqlcore

import (
	"fmt"
	"time"

	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/types"
)

// ExecutionProfile is a named bundle of request settings.
//
// A statement selects a profile by name; the settings the profile sets
// replace the session defaults for that request, and settings of the
// statement itself still take precedence. A profile with its own load
// balancing policy gets its own query plans; the policy is initialized by
// the session and receives host events like the session policy.
//
// Example:
//
//	analytics := cqlcore.NewExecutionProfile().
//	    Consistency(types.One).
//	    RequestTimeout(30 * time.Second).
//	    LoadBalancingPolicy(policy.NewDCAwareRoundRobin("analytics"))
//
//	session, _ := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1"),
//	    cqlcore.WithExecutionProfile("analytics", analytics),
//	)
//	session.Query("SELECT * FROM events").ExecutionProfile("analytics").Exec(ctx)
type ExecutionProfile struct {
	consistency    types.Consistency
	hasConsistency bool
	serial         types.Consistency
	requestTimeout time.Duration

	lb          policy.LoadBalancingPolicy
	retry       policy.RetryPolicy
	speculative policy.SpeculativeExecutionPolicy
}

// NewExecutionProfile creates a profile that inherits every session setting.
func NewExecutionProfile() *ExecutionProfile {
	return &ExecutionProfile{}
}

// Consistency sets the consistency level.
func (p *ExecutionProfile) Consistency(cl types.Consistency) *ExecutionProfile {
	p.consistency, p.hasConsistency = cl, true
	return p
}

// SerialConsistency sets the serial consistency level.
func (p *ExecutionProfile) SerialConsistency(cl types.Consistency) *ExecutionProfile {
	p.serial = cl
	return p
}

// RequestTimeout sets the request timeout.
func (p *ExecutionProfile) RequestTimeout(d time.Duration) *ExecutionProfile {
	p.requestTimeout = d
	return p
}

// LoadBalancingPolicy sets the policy building the query plans.
func (p *ExecutionProfile) LoadBalancingPolicy(lb policy.LoadBalancingPolicy) *ExecutionProfile {
	p.lb = lb
	return p
}

// RetryPolicy sets the retry policy.
func (p *ExecutionProfile) RetryPolicy(rp policy.RetryPolicy) *ExecutionProfile {
	p.retry = rp
	return p
}

// SpeculativeExecutionPolicy sets the speculative execution policy.
func (p *ExecutionProfile) SpeculativeExecutionPolicy(sp policy.SpeculativeExecutionPolicy) *ExecutionProfile {
	p.speculative = sp
	return p
}

func (p *ExecutionProfile) validate(name string) error {
	field := "ExecutionProfiles[" + name + "]"
	switch {
	case name == "":
		return &types.ConfigError{Field: "ExecutionProfiles", Reason: "profile name must not be empty"}
	case p == nil:
		return &types.ConfigError{Field: field, Reason: "must not be nil"}
	case p.hasConsistency && p.consistency.String() == "UNKNOWN":
		return &types.ConfigError{Field: field, Reason: "unknown consistency level"}
	case p.serial != 0 && !p.serial.IsSerial():
		return &types.ConfigError{Field: field, Reason: "serial consistency must be SERIAL or LOCAL_SERIAL"}
	case p.requestTimeout < 0:
		return &types.ConfigError{Field: field, Reason: "request timeout must not be negative"}
	}

	return nil
}

// loadBalancingPolicies returns the session policy followed by every
// distinct profile policy.
func (s *Session) loadBalancingPolicies() []policy.LoadBalancingPolicy {
	out := []policy.LoadBalancingPolicy{s.lb}
	for _, p := range s.cfg.ExecutionProfiles {
		if p.lb == nil {
			continue
		}
		dup := false
		for _, lb := range out {
			if lb == p.lb {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p.lb)
		}
	}

	return out
}

// profile returns the named profile; the empty name selects none.
func (s *Session) profile(name string) (*ExecutionProfile, error) {
	if name == "" {
		return nil, nil
	}
	p, ok := s.cfg.ExecutionProfiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownExecutionProfile, name)
	}

	return p, nil
}
