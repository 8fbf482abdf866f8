package monitor

import (
	"sync"
	"time"
)

// Backoff is a capped exponential reconnect delay
type Backoff struct {
	mu      sync.Mutex
	base    time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a backoff starting at base and capped at max
func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay before the next attempt. The first call after a
// reset returns base; each further call doubles it up to max.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == 0 {
		b.current = b.base
		return b.current
	}

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

// Reset is called after a successful connection
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = 0
	b.mu.Unlock()
}
