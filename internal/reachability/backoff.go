package reachability

import (
	"math"
	"time"
)

// Backoff spaces out probes while the remote stays unreachable.
type Backoff struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the delay after the given number of consecutive failures
// (1-based), clamped to MaxDelay.
func (b Backoff) NextDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if b.InitialDelay <= 0 {
		b.InitialDelay = time.Second
	}
	if b.BackoffFactor <= 0 {
		b.BackoffFactor = 2
	}

	delay := float64(b.InitialDelay) * math.Pow(b.BackoffFactor, float64(failures-1))
	if math.IsInf(delay, 0) || delay > float64(math.MaxInt64) {
		delay = float64(math.MaxInt64)
	}
	d := time.Duration(delay)
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
