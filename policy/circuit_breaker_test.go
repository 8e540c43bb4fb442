package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerThreshold(t *testing.T) {
	cb := NewCircuitBreaker(
		WithThreshold(3),
		WithResetTimeout(1*time.Hour),
	)

	require.False(t, cb.IsOpen("10.0.0.1:9042"))

	cb.RecordFailure("10.0.0.1:9042")
	require.Equal(t, 1, cb.Failures("10.0.0.1:9042"))
	require.False(t, cb.IsOpen("10.0.0.1:9042"))

	cb.RecordFailure("10.0.0.1:9042")
	cb.RecordFailure("10.0.0.1:9042")
	require.Equal(t, 3, cb.Failures("10.0.0.1:9042"))
	require.True(t, cb.IsOpen("10.0.0.1:9042"))
}

func TestCircuitBreakerSuccessResets(t *testing.T) {
	logger := &recordingLogger{}
	cb := NewCircuitBreaker(WithThreshold(2), WithCircuitBreakerLogger(logger))

	cb.RecordFailure("10.0.0.1:9042")
	cb.RecordFailure("10.0.0.1:9042")
	require.True(t, cb.IsOpen("10.0.0.1:9042"))

	cb.RecordSuccess("10.0.0.1:9042")
	require.Equal(t, 0, cb.Failures("10.0.0.1:9042"))
	require.False(t, cb.IsOpen("10.0.0.1:9042"))

	assert.Equal(t, []string{"host circuit breaker opened", "host circuit breaker closed"}, logger.messages())
}

func TestCircuitBreakerIndependentHosts(t *testing.T) {
	cb := NewCircuitBreaker(WithThreshold(2))

	cb.RecordFailure("10.0.0.1:9042")
	cb.RecordFailure("10.0.0.1:9042")

	require.True(t, cb.IsOpen("10.0.0.1:9042"))
	require.False(t, cb.IsOpen("10.0.0.2:9042"))
	require.Equal(t, 0, cb.Failures("10.0.0.2:9042"))

	cb.Forget("10.0.0.1:9042")
	require.False(t, cb.IsOpen("10.0.0.1:9042"))
}

func TestCircuitBreakerResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(
		WithThreshold(3),
		WithResetTimeout(10*time.Millisecond),
	)

	cb.RecordFailure("10.0.0.1:9042")
	cb.RecordFailure("10.0.0.1:9042")
	require.Equal(t, 2, cb.Failures("10.0.0.1:9042"))

	time.Sleep(20 * time.Millisecond)

	// Next failure should reset counter
	cb.RecordFailure("10.0.0.1:9042")
	require.Equal(t, 1, cb.Failures("10.0.0.1:9042"))
}
