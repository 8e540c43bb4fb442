package policy

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ReconnectionPolicy creates the delay schedule used to reconnect to a host.
type ReconnectionPolicy interface {
	NewSchedule() ReconnectionSchedule
}

// ReconnectionSchedule yields successive reconnection delays.
//
// A schedule belongs to one reconnection sequence and is not shared.
type ReconnectionSchedule interface {
	NextDelay() time.Duration
}

// ExponentialReconnection doubles the delay after every failed attempt up to
// a maximum, with jitter.
type ExponentialReconnection struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var _ ReconnectionPolicy = ExponentialReconnection{}

// NewExponentialReconnection creates an exponential reconnection policy.
//
// Parameters:
//   - base: First delay
//   - maxDelay: Delay ceiling
//
// Returns:
//   - ExponentialReconnection: A new policy
func NewExponentialReconnection(base, maxDelay time.Duration) ExponentialReconnection {
	return ExponentialReconnection{BaseDelay: base, MaxDelay: maxDelay}
}

// NewSchedule implements ReconnectionPolicy.
func (p ExponentialReconnection) NewSchedule() ReconnectionSchedule {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.15
	b.Reset()

	return backoffSchedule{b: b}
}

// ConstantReconnection waits the same delay between attempts.
type ConstantReconnection struct {
	Delay time.Duration
}

var _ ReconnectionPolicy = ConstantReconnection{}

// NewConstantReconnection creates a constant reconnection policy.
func NewConstantReconnection(delay time.Duration) ConstantReconnection {
	return ConstantReconnection{Delay: delay}
}

// NewSchedule implements ReconnectionPolicy.
func (p ConstantReconnection) NewSchedule() ReconnectionSchedule {
	return backoffSchedule{b: backoff.NewConstantBackOff(p.Delay)}
}

type backoffSchedule struct {
	b backoff.BackOff
}

func (s backoffSchedule) NextDelay() time.Duration {
	return s.b.NextBackOff()
}
