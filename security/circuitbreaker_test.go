package security_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/verification-core/security"
)

func TestCircuitBreakerStartsClosedAndAllowsTraffic(t *testing.T) {
	cb := security.NewCircuitBreaker("w1", 3, 15)
	assert.Equal(t, security.CBClosed, cb.State)
	assert.True(t, cb.IsAllowed())
}

func TestCircuitBreakerTripsAtFailureThreshold(t *testing.T) {
	cb := security.NewCircuitBreaker("w1", 2, 15)

	require.False(t, cb.RecordFailure(), "first failure must not trip a threshold of 2")
	assert.True(t, cb.IsAllowed())

	require.True(t, cb.RecordFailure(), "second failure must trip the breaker")
	assert.Equal(t, security.CBOpen, cb.State)
	assert.False(t, cb.IsAllowed())
}

func TestCircuitBreakerRecordSuccessResetsFailureCount(t *testing.T) {
	cb := security.NewCircuitBreaker("w1", 2, 15)
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.FailureCount)
	assert.Equal(t, security.CBClosed, cb.State)

	// A fresh pair of failures must still need the full threshold to trip.
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.IsAllowed())
}

func TestCircuitBreakerCheckReputationDropTripsIndependentlyOfFailureCount(t *testing.T) {
	cb := security.NewCircuitBreaker("w1", 5, 20)
	assert.False(t, cb.CheckReputationDrop(50))
	assert.True(t, cb.IsAllowed())

	assert.True(t, cb.CheckReputationDrop(10))
	assert.Equal(t, security.CBOpen, cb.State)
	assert.False(t, cb.IsAllowed())
}

func TestCircuitBreakerHalfOpensAfterCooldownThenClosesOnSuccess(t *testing.T) {
	cb := security.NewCircuitBreaker("w1", 1, 15)
	cb.CooldownPeriod = 10 * time.Millisecond
	require.True(t, cb.RecordFailure())
	require.False(t, cb.IsAllowed())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.IsAllowed(), "past cooldown the breaker must admit a probe request")
	assert.Equal(t, security.CBHalfOpen, cb.State)

	cb.RecordSuccess()
	assert.Equal(t, security.CBClosed, cb.State)
	assert.True(t, cb.IsAllowed())
}
