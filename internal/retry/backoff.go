package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FullJitterBackOff implements github.com/cenkalti/backoff/v4's BackOff
// interface with a full-jitter formula:
//
//	delay = min(base_delay * backoff_factor^attempt, max_delay) * U(0.5, 1.5)
//
// cenkalti/backoff/v4's own ExponentialBackOff uses a symmetric
// randomization factor rather than this asymmetric full-jitter multiplier,
// so the formula is implemented directly here while still satisfying the
// library's BackOff interface.
type FullJitterBackOff struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	attempt int
	rand    *rand.Rand
}

var _ backoff.BackOff = (*FullJitterBackOff)(nil)

// NewFullJitterBackOff builds a FullJitterBackOff with the given parameters.
func NewFullJitterBackOff(base, max time.Duration, factor float64) *FullJitterBackOff {
	return &FullJitterBackOff{
		BaseDelay:     base,
		MaxDelay:      max,
		BackoffFactor: factor,
		rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextBackOff returns the delay before the next attempt and advances the
// internal attempt counter.
func (b *FullJitterBackOff) NextBackOff() time.Duration {
	d := DelayForAttempt(b.BaseDelay, b.MaxDelay, b.BackoffFactor, b.attempt, b.rand)
	b.attempt++
	return d
}

// Reset zeroes the attempt counter, as required by backoff.BackOff.
func (b *FullJitterBackOff) Reset() {
	b.attempt = 0
}

// DelayForAttempt computes the full-jitter backoff delay for a given
// 0-indexed attempt, deterministically apart from the jitter draw from r
// (pass a seeded *rand.Rand for reproducible tests).
func DelayForAttempt(base, max time.Duration, factor float64, attempt int, r *rand.Rand) time.Duration {
	scaled := float64(base) * math.Pow(factor, float64(attempt))
	capped := math.Min(scaled, float64(max))
	jitter := 0.5 + r.Float64() // U(0.5, 1.5)
	return time.Duration(capped * jitter)
}
