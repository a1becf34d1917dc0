package transmit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"
)

// BreakerState is the circuit breaker's finite-state-machine state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// CircuitBreaker stops outbound sends after repeated consecutive failures.
// Open flips to HalfOpen lazily when state is read past the cooldown; there
// is no timer. Allow reports false only while strictly Open.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	clock     clockwork.Clock
	logger    *pterm.Logger

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
}

// NewCircuitBreaker creates a closed breaker. Zero threshold or cooldown
// fall back to defaults.
func NewCircuitBreaker(threshold int, cooldown time.Duration, clock clockwork.Clock, logger *pterm.Logger) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock,
		logger:    logger,
	}
}

// refreshLocked applies the lazy Open -> HalfOpen transition. Caller must
// hold cb.mu.
func (cb *CircuitBreaker) refreshLocked() {
	if cb.state == StateOpen && cb.clock.Since(cb.openedAt) >= cb.cooldown {
		cb.state = StateHalfOpen
		cb.logger.Info("Circuit breaker half-open, allowing a probe")
	}
}

// State returns the current state. Reading while Open past the cooldown
// flips to HalfOpen as a side effect.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()
	return cb.state
}

// Allow reports whether a send may proceed. False only while strictly Open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()
	return cb.state != StateOpen
}

// RecordSuccess closes the breaker and resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.logger.Info("Circuit breaker closed after successful send")
	}
	cb.state = StateClosed
	cb.consecutiveFailures = 0
}

// RecordFailure counts a failed send. A failed half-open probe reopens
// immediately with a fresh openedAt; in Closed, reaching the threshold
// opens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()

	cb.consecutiveFailures++

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = cb.clock.Now()
		cb.logger.Warn("Circuit breaker probe failed, reopening",
			cb.logger.Args("cooldown", cb.cooldown.String()))
	case StateClosed:
		if cb.consecutiveFailures >= cb.threshold {
			cb.state = StateOpen
			cb.openedAt = cb.clock.Now()
			cb.logger.Warn("Circuit breaker opened",
				cb.logger.Args("consecutive_failures", cb.consecutiveFailures, "cooldown", cb.cooldown.String()))
		}
	}
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}
