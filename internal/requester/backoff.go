package requester

import "time"

// DefaultMaxDelay caps the retry delay.
const DefaultMaxDelay = 500 * time.Second

// DefaultSuccessThreshold is the streak length after which the delay halves.
const DefaultSuccessThreshold = 5

// Backoff is the adaptive retry state of one caller. It is a value type:
// every transition returns the next state and leaves the receiver untouched,
// so independent drivers never share it.
type Backoff struct {
	Current   time.Duration
	Successes int
}

// NewBackoff seeds a backoff state at base.
func NewBackoff(base time.Duration) Backoff {
	if base < 0 {
		base = 0
	}
	return Backoff{Current: base}
}

// OnFailure resets the success streak and doubles the delay up to maxDelay.
func (b Backoff) OnFailure(maxDelay time.Duration) Backoff {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	next := b.Current * 2
	if next > maxDelay || next < b.Current {
		next = maxDelay
	}
	return Backoff{Current: next}
}

// OnSuccess extends the success streak. Once the streak exceeds threshold the
// delay halves, never dropping below floor, and the streak starts over.
func (b Backoff) OnSuccess(floor time.Duration, threshold int) Backoff {
	if threshold <= 0 {
		threshold = DefaultSuccessThreshold
	}
	b.Successes++
	if b.Successes <= threshold {
		return b
	}
	next := b.Current / 2
	if next < floor {
		next = floor
	}
	return Backoff{Current: next}
}
