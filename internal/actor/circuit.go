package actor

import (
	"sync"
	"time"
)

// circuitState mirrors the closed/open/half-open cycle.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitOpenError is returned by Send when the recipient's circuit
// breaker is open and not yet due for a half-open trial.
type CircuitOpenError struct {
	RecipientID string
}

func (e *CircuitOpenError) Error() string {
	return "actor: circuit open for recipient " + e.RecipientID
}

// CircuitBreakerConfig configures the per-recipient breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
	HalfOpenTrials   int
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 30 * time.Second
	}
	if c.HalfOpenTrials <= 0 {
		c.HalfOpenTrials = 1
	}
	return c
}

// circuitBreaker tracks consecutive failures for one recipient. Opening
// suspends delivery attempts until OpenDuration elapses, at which point a
// bounded number of half-open trials are allowed through; any failure
// during a trial reopens the breaker, and a success closes it.
type circuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           circuitState
	consecutiveFail int
	openedAt        time.Time
	halfOpenInFlight int
}

func newCircuitBreaker(cfg CircuitBreakerConfig) *circuitBreaker {
	return &circuitBreaker{cfg: cfg.withDefaults()}
}

// allow reports whether a delivery attempt may proceed right now, and
// transitions open->half-open once the open window has elapsed.
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(b.openedAt) >= b.cfg.OpenDuration {
			b.state = circuitHalfOpen
			b.halfOpenInFlight = 0
		} else {
			return false
		}
		fallthrough
	case circuitHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenTrials {
			return false
		}
		b.halfOpenInFlight++
		return true
	}
	return false
}

func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = circuitClosed
	b.consecutiveFail = 0
	b.halfOpenInFlight = 0
}

// recordFailure returns true if this failure just tripped the breaker
// open (a state transition worth emitting MsgCircuitOpened for).
func (b *circuitBreaker) recordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == circuitHalfOpen {
		b.state = circuitOpen
		b.openedAt = time.Now()
		b.halfOpenInFlight = 0
		return true
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.cfg.FailureThreshold && b.state == circuitClosed {
		b.state = circuitOpen
		b.openedAt = time.Now()
		return true
	}
	return false
}
