// Package circuitbreaker guards the outbound mailer against recipient
// domains that fail consistently. Each email domain gets its own circuit:
// enough consecutive failures open it, and after a cooldown a single probe
// send is allowed through before it either closes again or re-opens.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type domainState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	domains   map[string]*domainState
	threshold int
	cooldown  time.Duration
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		domains:   make(map[string]*domainState),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a send to the given domain may proceed.
// Returns ErrCircuitOpen while the domain is cooling down or while a probe
// send is already in flight.
func (cb *CircuitBreaker) Allow(domain string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.domains[domain]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(domain string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.domains[domain]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(domain string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.domains[domain]
	if !ok {
		s = &domainState{}
		cb.domains[domain] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = time.Now()
	}
}
