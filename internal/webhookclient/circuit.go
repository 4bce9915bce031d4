package webhookclient

import (
	"sync"
	"time"
)

// circuitState is the current state of a circuitBreaker.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// circuitBreaker protects one webhook endpoint from being hammered once it
// starts failing consistently. Adapted from the teacher's webhook.CircuitBreaker;
// Herald keys one instance per webhook ID rather than per Sender.
type circuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	state           circuitState
	failures        int
	successCount    int
	lastFailureTime time.Time
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: 5,
		successThreshold: 2,
		recoveryTimeout:  30 * time.Second,
		state:            circuitClosed,
	}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastFailureTime) > cb.recoveryTimeout {
			cb.state = circuitHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	case circuitHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		cb.failures = 0
	case circuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = circuitClosed
			cb.failures = 0
			cb.successCount = 0
		}
	}
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case circuitClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = circuitOpen
		}
	case circuitHalfOpen:
		cb.state = circuitOpen
		cb.failures = cb.failureThreshold
		cb.successCount = 0
	}
}

// breakerSet lazily allocates one circuitBreaker per webhook ID.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: make(map[string]*circuitBreaker)}
}

func (s *breakerSet) get(webhookID string) *circuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[webhookID]
	if !ok {
		cb = newCircuitBreaker()
		s.breakers[webhookID] = cb
	}
	return cb
}
