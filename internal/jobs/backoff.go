package jobs

import (
	"math"
	"time"
)

// BackoffOptions parameterises Backoff.
type BackoffOptions struct {
	// Base is the growth factor per attempt; values below 1 are treated as 1.
	Base float64
	// Unit scales Base^n into a duration. Defaults to one second.
	Unit time.Duration
	// Floor is the minimum delay between polls.
	Floor time.Duration
	// MaxAttempt is where the exponent saturates.
	MaxAttempt int
}

// DefaultBackoff polls after 1s, 2s, 4s, 8s and then every 16s.
var DefaultBackoff = BackoffOptions{Base: 2, Unit: time.Second, Floor: time.Second, MaxAttempt: 4}

// Backoff computes delay = max(floor, unit*base^min(attempt, maxAttempt)).
// It is not safe for concurrent use; each poll loop owns one.
type Backoff struct {
	opts    BackoffOptions
	attempt int
}

// NewBackoff returns a policy starting at attempt zero.
func NewBackoff(opts BackoffOptions) *Backoff {
	if opts.Base < 1 {
		opts.Base = 1
	}
	if opts.Unit <= 0 {
		opts.Unit = time.Second
	}
	if opts.MaxAttempt < 0 {
		opts.MaxAttempt = 0
	}
	if opts.Floor < 0 {
		opts.Floor = 0
	}
	return &Backoff{opts: opts}
}

// Delay is the pure delay for a given attempt count.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > b.opts.MaxAttempt {
		attempt = b.opts.MaxAttempt
	}
	scaled := float64(b.opts.Unit) * math.Pow(b.opts.Base, float64(attempt))
	delay := time.Duration(math.MaxInt64)
	if scaled < float64(math.MaxInt64) {
		delay = time.Duration(scaled)
	}
	if delay < b.opts.Floor {
		return b.opts.Floor
	}
	return delay
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := b.Delay(b.attempt)
	if b.attempt < b.opts.MaxAttempt {
		b.attempt++
	}
	return d
}

// Attempt reports the current attempt counter.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset returns the counter to zero. Only call it before a new job.
func (b *Backoff) Reset() {
	b.attempt = 0
}
