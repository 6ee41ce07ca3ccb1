package statestore

import "time"

// circuitBreaker implements the AutoRetryTick gate. It is unexported state
// on StateStore rather than its own exported type since it is only ever
// touched from the StateStore's own goroutine.
type circuitBreaker struct {
	retryCycleCount     int
	consecutiveFailures int
	lastCycle           time.Time
}

const (
	minCycleInterval  = 10 * time.Second
	backoffFailureMin = 5
	backoffBase       = 60 * time.Second
	backoffExpCap     = 8
)

// allow reports whether an AutoRetryTick at now may proceed.
func (b *circuitBreaker) allow(now time.Time) bool {
	if b.lastCycle.IsZero() {
		return true
	}
	elapsed := now.Sub(b.lastCycle)
	if elapsed < minCycleInterval {
		return false
	}
	if b.consecutiveFailures >= backoffFailureMin {
		exp := b.consecutiveFailures
		if exp > backoffExpCap {
			exp = backoffExpCap
		}
		backoff := backoffBase * time.Duration(int64(1)<<uint(exp))
		if elapsed < backoff {
			return false
		}
	}
	return true
}

// recordCycle updates the breaker's counters after a gated cycle ran.
// A cycle with no eligible proofs only bumps lastCycle.
func (b *circuitBreaker) recordCycle(now time.Time, requeuedAny, hadEligible bool) {
	b.lastCycle = now
	if !hadEligible {
		return
	}
	b.retryCycleCount++
	if requeuedAny {
		b.consecutiveFailures = 0
	} else {
		b.consecutiveFailures++
	}
}
