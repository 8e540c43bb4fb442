package policy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/cqlcore/internal/logging"
	"github.com/arloliu/cqlcore/types"
)

// CircuitBreaker tracks consecutive failures per host endpoint.
//
// A host whose consecutive failure count reaches the threshold is open:
// latency aware plans move it behind healthy hosts until a success closes
// it again. Failures older than the reset timeout do not accumulate, which
// prevents flapping on sparse transient errors.
type CircuitBreaker struct {
	threshold    int
	resetTimeout time.Duration
	logger       types.Logger
	hosts        sync.Map // endpoint -> *breakerState
}

type breakerState struct {
	failures    atomic.Int32
	lastFailure atomic.Int64 // Unix nano
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithThreshold sets the number of consecutive failures that opens a host.
//
// Parameters:
//   - n: Number of failures required
//
// Returns:
//   - CircuitBreakerOption: Configuration option
func WithThreshold(n int) CircuitBreakerOption {
	return func(c *CircuitBreaker) {
		c.threshold = n
	}
}

// WithResetTimeout sets the duration after which the failure count restarts.
//
// Parameters:
//   - d: Reset timeout duration
//
// Returns:
//   - CircuitBreakerOption: Configuration option
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreaker) {
		c.resetTimeout = d
	}
}

// WithCircuitBreakerLogger sets the logger for the circuit breaker.
//
// Parameters:
//   - l: The logger
//
// Returns:
//   - CircuitBreakerOption: Configuration option
func WithCircuitBreakerLogger(l types.Logger) CircuitBreakerOption {
	return func(c *CircuitBreaker) {
		c.logger = l
	}
}

// NewCircuitBreaker creates a new per host circuit breaker.
//
// Defaults: threshold=3, resetTimeout=30s
//
// Parameters:
//   - opts: Optional configuration options
//
// Returns:
//   - *CircuitBreaker: A new circuit breaker
func NewCircuitBreaker(opts ...CircuitBreakerOption) *CircuitBreaker {
	c := &CircuitBreaker{
		threshold:    3,
		resetTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Ensure logger is never nil
	c.logger = logging.OrNop(c.logger)

	return c
}

func (c *CircuitBreaker) state(endpoint string) *breakerState {
	if s, ok := c.hosts.Load(endpoint); ok {
		return s.(*breakerState)
	}
	s, _ := c.hosts.LoadOrStore(endpoint, &breakerState{})

	return s.(*breakerState)
}

// IsOpen reports whether the failure threshold has been reached for endpoint.
//
// Parameters:
//   - endpoint: The host endpoint
//
// Returns:
//   - bool: true if consecutive failures >= threshold
func (c *CircuitBreaker) IsOpen(endpoint string) bool {
	s, ok := c.hosts.Load(endpoint)
	if !ok {
		return false
	}

	return int(s.(*breakerState).failures.Load()) >= c.threshold
}

// RecordFailure increments the failure counter for endpoint.
//
// If the reset timeout has passed since the last failure, the counter
// is reset to 1 instead of incrementing.
//
// Parameters:
//   - endpoint: The host endpoint that failed
func (c *CircuitBreaker) RecordFailure(endpoint string) {
	s := c.state(endpoint)
	now := time.Now().UnixNano()

	var failures int32
	lastFailure := s.lastFailure.Load()
	if lastFailure > 0 && time.Duration(now-lastFailure) > c.resetTimeout {
		s.failures.Store(1)
		failures = 1
	} else {
		failures = s.failures.Add(1)
	}
	s.lastFailure.Store(now)

	if int(failures) == c.threshold {
		c.logger.Warn("host circuit breaker opened",
			"host", endpoint,
			"threshold", c.threshold,
		)
	}
}

// RecordSuccess resets the failure counter for endpoint.
//
// Parameters:
//   - endpoint: The host endpoint that succeeded
func (c *CircuitBreaker) RecordSuccess(endpoint string) {
	s, ok := c.hosts.Load(endpoint)
	if !ok {
		return
	}
	state := s.(*breakerState)

	wasOpen := int(state.failures.Load()) >= c.threshold
	state.failures.Store(0)
	state.lastFailure.Store(0)

	if wasOpen {
		c.logger.Info("host circuit breaker closed", "host", endpoint)
	}
}

// Failures returns the current failure count for endpoint.
//
// Parameters:
//   - endpoint: The host endpoint
//
// Returns:
//   - int: Number of consecutive failures
func (c *CircuitBreaker) Failures(endpoint string) int {
	s, ok := c.hosts.Load(endpoint)
	if !ok {
		return 0
	}

	return int(s.(*breakerState).failures.Load())
}

// Forget drops the state of a removed host.
func (c *CircuitBreaker) Forget(endpoint string) {
	c.hosts.Delete(endpoint)
}
