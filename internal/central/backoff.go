package central

import "time"

// maxShift keeps Base<<attempt from overflowing
const maxShift = 30

// Backoff is a bounded exponential reconnect delay: Base·2^n capped at Max.
// A zero Max disables waiting entirely.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

// NewBackoff creates a backoff starting at base and capped at max
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max}
}

// Next returns the delay before the next attempt and advances the counter
func (b *Backoff) Next() time.Duration {
	d := b.Delay(b.attempt)
	if b.attempt < maxShift {
		b.attempt++
	}
	return d
}

// Delay returns the delay of attempt n without touching the counter
func (b *Backoff) Delay(n int) time.Duration {
	if b.Max <= 0 || b.Base <= 0 {
		return 0
	}
	if n > maxShift {
		n = maxShift
	}
	d := b.Base << uint(n)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// Attempt returns how many delays were handed out since the last Reset
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset restarts the sequence at Base
func (b *Backoff) Reset() {
	b.attempt = 0
}
