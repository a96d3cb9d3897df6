package recovery

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with per-kind multipliers and
// random jitter, capped at MaxDelay.
type Backoff struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// KindMultiplier scales the delay per error kind; kinds without an
	// entry use 1.0. Rate limits back off harder than plain transients.
	KindMultiplier map[Kind]float64
	// JitterFraction is the fraction of the delay randomized (0-1).
	JitterFraction float64
	// rand is the jitter source; nil uses the package-global source.
	rand *rand.Rand
}

// DefaultBackoff returns the built-in backoff policy.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
		KindMultiplier: map[Kind]float64{
			KindRateLimited: 4.0,
			KindUnknown:     2.0,
		},
		JitterFraction: 0.25,
	}
}

// Delay returns the backoff for the given 1-indexed attempt and error kind.
func (b Backoff) Delay(kind Kind, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.KindMultiplier[kind]
	if mult <= 0 {
		mult = 1.0
	}

	d := float64(b.BaseDelay) * math.Pow(2, float64(attempt-1)) * mult
	if max := float64(b.MaxDelay); d > max {
		d = max
	}

	if b.JitterFraction > 0 {
		jitter := d * b.JitterFraction
		if b.rand != nil {
			d += jitter * (2*b.rand.Float64() - 1)
		} else {
			d += jitter * (2*rand.Float64() - 1)
		}
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
