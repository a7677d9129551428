// Package circuitbreaker guards the vector index write path: five
// consecutive upsert failures open the breaker, and it stays open for a
// cooldown before allowing a single probe through.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateProbing
)

// Config controls the failure threshold and cooldown.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before admitting a probe.
	Cooldown time.Duration
}

// DefaultConfig returns the coordinator's breaker threshold and cooldown.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Cooldown: 60 * time.Second}
}

// Breaker is a three-state circuit breaker: closed (normal), open (failing
// fast), probing (one trial call admitted after cooldown).
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration

	state         state
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// New creates a breaker in the closed state.
func New(cfg Config) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultConfig().FailureThreshold
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, state: stateClosed}
}

// Allow reports whether a call may proceed. When the breaker is open and
// the cooldown has elapsed, it admits exactly one probe call and
// transitions to probing until that call reports its outcome.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateProbing:
		return ErrOpen
	case stateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = stateProbing
		b.probeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess reports a successful call, closing the breaker and
// resetting the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = stateClosed
	b.probeInFlight = false
}

// RecordFailure reports a failed call. In the closed state it increments
// the failure count and opens the breaker once the threshold is reached;
// in the probing state it reopens the breaker and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateProbing {
		b.state = stateOpen
		b.openedAt = time.Now()
		b.probeInFlight = false
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}

// IsOpen reports whether the breaker is currently rejecting calls.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && time.Since(b.openedAt) < b.cooldown
}
