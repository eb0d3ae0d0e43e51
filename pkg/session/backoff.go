package session

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry delay constants.
const (
	// MaxRetryDelay caps the growth of the retry delay.
	MaxRetryDelay = 60 * time.Second

	// RetryMultiplier is the growth factor between consecutive failures.
	RetryMultiplier = 2.0

	// MinConnectTimeout bounds from below the time a connection attempt
	// may wait for its answer.
	MinConnectTimeout = 4 * time.Second
)

// Backoff computes the delays between consecutive connection attempts:
// the first one is random within firstMax, the following ones grow
// exponentially from the retry delay. Not safe for concurrent use; the
// engine lock guards it.
type Backoff struct {
	exp      *backoff.ExponentialBackOff
	firstMax time.Duration
	current  time.Duration
	attempts int
}

// NewBackoff creates a backoff starting at initial.
func NewBackoff(initial, firstMax time.Duration) *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.Multiplier = RetryMultiplier
	exp.MaxInterval = MaxRetryDelay
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &Backoff{exp: exp, firstMax: firstMax, current: initial}
}

// Next returns the delay before the next attempt and advances.
func (b *Backoff) Next() time.Duration {
	b.attempts++
	if b.attempts == 1 {
		if b.firstMax <= 0 {
			return 0
		}
		return rand.N(b.firstMax + 1)
	}
	d := b.exp.NextBackOff()
	if d == backoff.Stop {
		d = b.exp.MaxInterval
	}
	b.current = d
	return d
}

// Current returns the last grown delay, or the initial one.
func (b *Backoff) Current() time.Duration { return b.current }

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int { return b.attempts }

// Reset restarts the sequence after a successful connection.
func (b *Backoff) Reset() {
	b.exp.Reset()
	b.current = b.exp.InitialInterval
	b.attempts = 0
}

// Configure changes the initial and first-retry delays. The new values
// apply from the next Reset, or at once if no delay was taken yet.
func (b *Backoff) Configure(initial, firstMax time.Duration) {
	b.exp.InitialInterval = initial
	b.firstMax = firstMax
	if b.attempts == 0 {
		b.Reset()
	}
}

// ConnectTimeout is how long an attempt may wait for its answer.
func (b *Backoff) ConnectTimeout() time.Duration {
	return max(b.current, MinConnectTimeout)
}
