package feed

import "time"

// Backoff is a bounded exponential delay: Initial, doubling up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	next    time.Duration
}

// NewBackoff builds a Backoff, defaulting to 1s..30s.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = 30 * time.Second
		if max < initial {
			max = initial
		}
	}
	return &Backoff{Initial: initial, Max: max, next: initial}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	wait := b.next
	b.next *= 2
	if b.next > b.Max {
		b.next = b.Max
	}
	return wait
}

// Reset restarts the sequence after a healthy session.
func (b *Backoff) Reset() {
	b.next = b.Initial
}
