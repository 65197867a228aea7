package security

import "time"

// CBState is the circuit-breaker state (adapted from the teacher's
// per-agent circuit breaker, generalized to per-worker fraud/failure
// suspension).
type CBState string

const (
	CBClosed   CBState = "closed"
	CBOpen     CBState = "open"
	CBHalfOpen CBState = "half_open"
)

// CircuitBreaker trips a worker out of task routing after repeated
// failures or a sudden trust drop, and auto-probes recovery after a
// cooldown.
type CircuitBreaker struct {
	WorkerID         string
	FailureCount     int
	FailureThreshold int
	ReputationFloor  float64
	CooldownPeriod   time.Duration
	State            CBState
	LastTripped      time.Time
}

func NewCircuitBreaker(workerID string, failureThreshold int, reputationFloor float64) *CircuitBreaker {
	return &CircuitBreaker{
		WorkerID:         workerID,
		FailureThreshold: failureThreshold,
		ReputationFloor:  reputationFloor,
		CooldownPeriod:   30 * time.Minute,
		State:            CBClosed,
	}
}

// RecordFailure increments the failure counter and trips the breaker once
// the threshold is reached. Returns whether it tripped on this call.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.FailureCount++
	if cb.FailureCount >= cb.FailureThreshold {
		cb.State = CBOpen
		cb.LastTripped = time.Now()
		return true
	}
	return false
}

// RecordSuccess resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.FailureCount = 0
	cb.State = CBClosed
}

// CheckReputationDrop trips the breaker if reputation falls below the
// floor (spec §4.5's moving ReputationScore).
func (cb *CircuitBreaker) CheckReputationDrop(currentReputation float64) bool {
	if currentReputation < cb.ReputationFloor {
		cb.State = CBOpen
		cb.LastTripped = time.Now()
		return true
	}
	return false
}

// IsAllowed reports whether the worker currently may receive task
// assignments.
func (cb *CircuitBreaker) IsAllowed() bool {
	switch cb.State {
	case CBClosed:
		return true
	case CBOpen:
		if time.Since(cb.LastTripped) > cb.CooldownPeriod {
			cb.State = CBHalfOpen
			return true
		}
		return false
	case CBHalfOpen:
		return true
	default:
		return false
	}
}
