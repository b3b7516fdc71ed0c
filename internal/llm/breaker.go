package llm

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a minimal circuit breaker: after threshold consecutive failures
// it opens and fails fast; after cooldown it half-opens and lets exactly one
// call through to probe recovery. No pack dependency in the example corpus
// ships a stateful open/half-open/closed breaker (cenkalti/backoff only
// supplies retry policies), so this is hand-rolled on sync.Mutex + time.Time
// bookkeeping.
type breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration

	state       breakerState
	failures    int
	openedAt    time.Time
	halfOpenTry bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &breaker{threshold: threshold, cooldown: cooldown, state: breakerClosed}
}

// allow reports whether a call may proceed, transitioning open→half-open
// when the cooldown has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			b.halfOpenTry = false
			return true
		}
		return false
	case breakerHalfOpen:
		if b.halfOpenTry {
			b.halfOpenTry = false
			return true
		}
		return false
	default:
		return true
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = breakerClosed
	b.halfOpenTry = false
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = time.Now()
		b.halfOpenTry = false
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen
}

func (b *breaker) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
