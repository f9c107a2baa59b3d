package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterConsecutiveErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 2})
	require.NoError(t, cb.AllowTrading())

	cb.OnError()
	require.NoError(t, cb.AllowTrading())
	cb.OnError()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)

	s := cb.Snapshot()
	assert.True(t, s.Halted)
	assert.False(t, s.ManualHalt)
	assert.Equal(t, int64(2), s.ConsecutiveErrors)
	assert.False(t, s.HaltedAt.IsZero())

	cb.Resume()
	require.NoError(t, cb.AllowTrading())
	assert.Zero(t, cb.Snapshot().ConsecutiveErrors)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 2})
	cb.OnError()
	cb.OnSuccess()
	cb.OnError()
	assert.NoError(t, cb.AllowTrading())
}

func TestCircuitBreaker_ManualHaltAndDisabledThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 100; i++ {
		cb.OnError()
	}
	require.NoError(t, cb.AllowTrading())

	cb.Halt()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
	assert.True(t, cb.Snapshot().ManualHalt)
	cb.Resume()
	assert.NoError(t, cb.AllowTrading())

	var nilCB *CircuitBreaker
	assert.NoError(t, nilCB.AllowTrading())
}
