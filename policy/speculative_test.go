package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoSpeculativeExecution(t *testing.T) {
	_, ok := NoSpeculativeExecution{}.NextExecution(0)
	assert.False(t, ok)
}

func TestConstantSpeculativeExecution(t *testing.T) {
	p := NewConstantSpeculativeExecution(20*time.Millisecond, 2)

	for launched := 0; launched < 2; launched++ {
		delay, ok := p.NextExecution(launched)
		assert.True(t, ok)
		assert.Equal(t, 20*time.Millisecond, delay)
	}

	_, ok := p.NextExecution(2)
	assert.False(t, ok)

	_, ok = NewConstantSpeculativeExecution(-1, 5).NextExecution(0)
	assert.False(t, ok)
}

func TestExponentialReconnection(t *testing.T) {
	schedule := NewExponentialReconnection(100*time.Millisecond, time.Second).NewSchedule()

	var delays []time.Duration
	for i := 0; i < 8; i++ {
		delays = append(delays, schedule.NextDelay())
	}

	assert.InDelta(t, float64(100*time.Millisecond), float64(delays[0]), float64(20*time.Millisecond))
	assert.Greater(t, delays[2], delays[0])
	for _, d := range delays {
		assert.LessOrEqual(t, d, time.Second+150*time.Millisecond)
		assert.Positive(t, d)
	}

	// schedules are independent
	other := NewExponentialReconnection(100*time.Millisecond, time.Second).NewSchedule()
	assert.InDelta(t, float64(100*time.Millisecond), float64(other.NextDelay()), float64(20*time.Millisecond))
}

func TestConstantReconnection(t *testing.T) {
	schedule := NewConstantReconnection(250 * time.Millisecond).NewSchedule()
	for i := 0; i < 3; i++ {
		assert.Equal(t, 250*time.Millisecond, schedule.NextDelay())
	}
}
