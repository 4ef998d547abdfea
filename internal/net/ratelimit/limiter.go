package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates upstream calls with a token bucket: at most RPS permits
// per rolling second with a configurable burst. It is shared by every
// caller that talks to the provider, so the ceiling holds process-wide.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter creates a limiter with the specified RPS and burst capacity.
// A burst of 0 defaults to the integer RPS so a cold limiter can fill a
// whole second's allowance at once.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a permit is available right now.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}

// Wait blocks until a permit is granted or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// Delay returns how long a caller would wait for the next permit
// without consuming one.
func (l *Limiter) Delay() time.Duration {
	r := l.bucket.Reserve()
	d := r.Delay()
	r.Cancel()
	return d
}

// SetRPS updates the per-second ceiling in place.
func (l *Limiter) SetRPS(rps float64) {
	l.bucket.SetLimit(rate.Limit(rps))
}

// SetBurst updates the burst capacity in place.
func (l *Limiter) SetBurst(burst int) {
	l.bucket.SetBurst(burst)
}

// Stats is a point-in-time view of the bucket for the health probe.
type Stats struct {
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	Delay           time.Duration `json:"delay"`
}

// Stats returns the current bucket state.
func (l *Limiter) Stats() Stats {
	return Stats{
		RPS:             float64(l.bucket.Limit()),
		Burst:           l.bucket.Burst(),
		TokensAvailable: l.bucket.Tokens(),
		Delay:           l.Delay(),
	}
}

// IsThrottled reports whether a permit would be delayed right now.
func (s Stats) IsThrottled() bool { return s.Delay > 0 }
