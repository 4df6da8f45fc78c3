// Package reliability implements the retry-with-backoff and circuit-breaker
// behaviour the gateway needs to satisfy the ConnectionFailure propagation
// policy: retried with exponential backoff up to three attempts, with a
// circuit breaker that stops accepting new work once a DBMS is persistently
// unreachable.
package reliability

import (
	"sync"
	"time"

	"indexadvisor/pkg/errors"
	"indexadvisor/pkg/logging"
)

// RetryPolicy configures ExecuteWithRetry.
type RetryPolicy struct {
	MaxRetries    int
	RetryInterval time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy retries a connection failure three times with
// exponential backoff starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, RetryInterval: 100 * time.Millisecond, BackoffFactor: 2.0}
}

// ExecuteWithRetry runs fn, retrying only when it returns a retryable error
// per errors.Retryable. Non-retryable errors return immediately.
func ExecuteWithRetry(policy RetryPolicy, log logging.Logger, fn func() error) error {
	interval := policy.RetryInterval
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if !errors.Retryable(err) {
			return err
		}

		if attempt < policy.MaxRetries {
			log.Warn("attempt %d/%d failed with retryable error: %v; backing off %s", attempt+1, policy.MaxRetries+1, err, interval)
			time.Sleep(interval)
			interval = time.Duration(float64(interval) * policy.BackoffFactor)
		}
	}

	return lastErr
}

// CircuitState is the closed enumeration of circuit-breaker states.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker trips open after a run of consecutive failures and refuses
// new work until a cooldown elapses, then probes with a half-open trial.
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	failureCount     int
	successThreshold int
	successCount     int
	state            CircuitState
	lastFailureTime  time.Time
	cooldown         time.Duration
}

// NewCircuitBreaker returns a breaker that opens after failureThreshold
// consecutive failures and stays open for cooldown before probing again.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{failureThreshold: failureThreshold, successThreshold: 2, cooldown: cooldown}
}

// Execute runs fn unless the breaker is open, in which case it returns an
// ErrConnectionFailure without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if time.Since(cb.lastFailureTime) > cb.cooldown {
			cb.state = StateHalfOpen
			cb.successCount = 0
		} else {
			cb.mu.Unlock()
			return errors.NewErrConnectionFailure("circuit breaker open")
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = time.Now()
		if cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
		}
		return err
	}

	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
		}
	}
	return nil
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
